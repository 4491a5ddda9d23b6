// Package chainrpc talks to the settlement networks. Each chain exposes the
// same narrow Backend surface: read the chain head, list token transfers in a
// block range, and broadcast a token transfer from a custody key.
package chainrpc

import (
	"context"
	"crypto/ecdsa"
	"time"
)

// RequestTimeout bounds every single RPC call.
const RequestTimeout = 10 * time.Second

// TransferEvent is one token transfer observed on chain. AmountMicro is the
// value normalized to the canonical six-decimal scale.
type TransferEvent struct {
	TxHash      string
	Block       uint64
	LogIndex    uint
	From        string
	To          string
	AmountMicro int64
}

// Backend is the chain access surface shared by the watcher and the signer.
type Backend interface {
	// BlockNumber returns the current chain head.
	BlockNumber(ctx context.Context) (uint64, error)
	// TokenTransfers lists the token's transfer events in [fromBlock, toBlock].
	TokenTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]TransferEvent, error)
	// TransferToken broadcasts a transfer of amountMicro from the key's
	// address to the recipient and returns the transaction hash.
	TransferToken(ctx context.Context, key *ecdsa.PrivateKey, to string, amountMicro int64) (string, error)
}
