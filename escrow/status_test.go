package escrow

import (
	"errors"
	"testing"
)

func TestValidateTransitionAllowed(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusCreated, StatusAwaitingDeposit},
		{StatusAwaitingDeposit, StatusDepositSeen},
		{StatusDepositSeen, StatusFundsLocked},
		{StatusDepositSeen, StatusUnderpaid},
		{StatusDepositSeen, StatusOverpaidReview},
		{StatusUnderpaid, StatusAwaitingDeposit},
		{StatusOverpaidReview, StatusReview},
		{StatusFundsLocked, StatusReleaseRequested},
		{StatusReleaseRequested, StatusReleaseApproved},
		{StatusReleaseApproved, StatusPayoutQueued},
		{StatusPayoutQueued, StatusPayoutSent},
		{StatusPayoutQueued, StatusPayoutFailed},
		{StatusPayoutSent, StatusCompleted},
		{StatusCompleted, StatusReview},
		{StatusDisputed, StatusReleaseApproved},
		{StatusDisputed, StatusReview},
		{StatusReview, StatusCompleted},
		{StatusPayoutFailed, StatusReleaseApproved},
	}
	for _, tc := range cases {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Fatalf("expected %s -> %s to be allowed: %v", tc.from, tc.to, err)
		}
	}
}

func TestValidateTransitionRejected(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusAwaitingDeposit, StatusFundsLocked},
		{StatusFundsLocked, StatusPayoutSent},
		{StatusPayoutSent, StatusPayoutSent},
		{StatusUnderpaid, StatusFundsLocked},
		{StatusCancelled, StatusAwaitingDeposit},
		{StatusExpired, StatusCreated},
		{StatusCompleted, StatusDisputed},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to)
		if err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCancelled, StatusExpired} {
		if !Terminal(s) {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	if Terminal(StatusFundsLocked) {
		t.Fatalf("FUNDS_LOCKED must not be terminal")
	}
}
