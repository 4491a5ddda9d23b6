// Package kv wraps the shared key-value coordinator used by every process for
// nonce replay sets, scan cursors, rate counters, and short-lived confirm
// flags. It is a coordination substrate, never authoritative state; the
// relational store remains the source of truth.
package kv

import (
	"context"
	"time"
)

// Store is the minimal key-value capability the escrow processes rely on.
// Implementations must make SetNX atomic: it is the replay-protection
// primitive for the signer's nonce set.
type Store interface {
	// Get returns the value for key, or ("", nil) when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set writes the value with an optional TTL (zero means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes the value only when the key is absent and reports whether
	// the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes the key.
	Del(ctx context.Context, key string) error
	// Incr atomically increments an integer counter and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// IncrByFloat atomically adds delta to a float counter and returns the new
	// total.
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
	// Expire sets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
