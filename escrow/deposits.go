package escrow

import "github.com/shopspring/decimal"

// DepositSequence returns the two-step status sequence for an observed
// deposit: DEPOSIT_SEEN followed by the reconciliation outcome. Both steps
// must be driven through ValidateTransition by the caller.
func DepositSequence(received, expected decimal.Decimal) []Status {
	amount := Quantize(received)
	want := Quantize(expected)
	switch {
	case amount.LessThan(want):
		return []Status{StatusDepositSeen, StatusUnderpaid}
	case amount.GreaterThan(want):
		return []Status{StatusDepositSeen, StatusOverpaidReview}
	default:
		return []Status{StatusDepositSeen, StatusFundsLocked}
	}
}
