package escrow

import "github.com/shopspring/decimal"

// FeeSnapshot freezes the fee parameters in force when an escrow is created.
// The snapshot is stored on the escrow row verbatim; later config changes
// never alter the fee of an existing deal.
type FeeSnapshot struct {
	Flat      decimal.Decimal `json:"flat" gorm:"type:decimal(18,6)"`
	Percent   decimal.Decimal `json:"percent" gorm:"type:decimal(18,6)"`
	Threshold decimal.Decimal `json:"threshold" gorm:"type:decimal(18,6)"`
}

// DefaultFeeSnapshot returns the platform defaults: 5 USDT flat up to and
// including 100 USDT, then 2%.
func DefaultFeeSnapshot() FeeSnapshot {
	return FeeSnapshot{
		Flat:      decimal.NewFromInt(5),
		Percent:   decimal.NewFromFloat(0.02),
		Threshold: decimal.NewFromInt(100),
	}
}

// Fee computes the platform fee for the given deal amount under the snapshot.
func (s FeeSnapshot) Fee(amount decimal.Decimal) decimal.Decimal {
	if amount.LessThanOrEqual(s.Threshold) {
		return Quantize(s.Flat)
	}
	return Quantize(amount.Mul(s.Percent))
}

// Net computes what the seller receives after the fee.
func (s FeeSnapshot) Net(amount decimal.Decimal) decimal.Decimal {
	return Quantize(amount.Sub(s.Fee(amount)))
}
