package escrow

import (
	"errors"
	"fmt"
)

// Status represents a state in the escrow deal lifecycle.
type Status string

// All lifecycle states.
const (
	StatusCreated          Status = "CREATED"
	StatusAwaitingDeposit  Status = "AWAITING_DEPOSIT"
	StatusDepositSeen      Status = "DEPOSIT_SEEN"
	StatusFundsLocked      Status = "FUNDS_LOCKED"
	StatusReleaseRequested Status = "RELEASE_REQUESTED"
	StatusReleaseApproved  Status = "RELEASE_APPROVED"
	StatusPayoutQueued     Status = "PAYOUT_QUEUED"
	StatusPayoutSent       Status = "PAYOUT_SENT"
	StatusCompleted        Status = "COMPLETED"
	StatusDisputed         Status = "DISPUTED"
	StatusReview           Status = "REVIEW"
	StatusCancelled        Status = "CANCELLED"
	StatusExpired          Status = "EXPIRED"
	StatusUnderpaid        Status = "UNDERPAID"
	StatusOverpaidReview   Status = "OVERPAID_REVIEW"
	StatusPayoutFailed     Status = "PAYOUT_FAILED"
)

// ErrInvalidTransition reports an attempted status change outside the allowed table.
var ErrInvalidTransition = errors.New("escrow: invalid transition")

var allowedTransitions = map[Status][]Status{
	StatusCreated:          {StatusAwaitingDeposit, StatusCancelled},
	StatusAwaitingDeposit:  {StatusDepositSeen, StatusExpired, StatusCancelled},
	StatusDepositSeen:      {StatusFundsLocked, StatusUnderpaid, StatusOverpaidReview},
	StatusUnderpaid:        {StatusAwaitingDeposit, StatusCancelled},
	StatusOverpaidReview:   {StatusReview},
	StatusFundsLocked:      {StatusReleaseRequested, StatusDisputed},
	StatusReleaseRequested: {StatusReleaseApproved, StatusDisputed},
	StatusReleaseApproved:  {StatusPayoutQueued},
	StatusPayoutQueued:     {StatusPayoutSent, StatusPayoutFailed},
	StatusPayoutSent:       {StatusCompleted},
	StatusCompleted:        {StatusReview},
	StatusDisputed:         {StatusReview, StatusReleaseApproved},
	StatusReview:           {StatusCompleted},
	StatusExpired:          {},
	StatusCancelled:        {},
	StatusPayoutFailed:     {StatusReleaseApproved},
}

// ValidateTransition ensures the status change follows the lifecycle table.
// Self transitions are not permitted; a repeated write must be handled by the
// caller's idempotency check, never by re-entering the same state.
func ValidateTransition(current, next Status) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, current)
	}
	for _, status := range allowed {
		if status == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// Terminal reports whether no further transitions are possible from the status.
func Terminal(s Status) bool {
	return len(allowedTransitions[s]) == 0
}
