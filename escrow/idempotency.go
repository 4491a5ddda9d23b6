package escrow

// CanRecordDeposit reports whether a deposit with the given tx hash may be
// recorded. A repeat of the already-stored hash is an idempotent no-op; a
// different hash for the same escrow must be rejected.
func CanRecordDeposit(stored *string, txHash string) bool {
	return stored == nil || *stored == txHash
}

// CanSendPayout reports whether a payout may still be broadcast. Once a payout
// tx hash is recorded it is never overwritten.
func CanSendPayout(stored *string) bool {
	return stored == nil
}
