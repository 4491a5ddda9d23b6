// Package auth implements the shared-secret envelope protecting every call
// into the signing service. A request carries a unix-seconds timestamp, a
// single-use nonce, and a hex HMAC-SHA256 over a canonical message; the
// signer rejects stale timestamps and replayed nonces before reading the
// body any further.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"trustora/kv"
)

const (
	// MaxSkew is the largest clock difference tolerated between caller and
	// verifier. A skew of exactly MaxSkew is rejected.
	MaxSkew = 60 * time.Second
	// NonceTTL is how long a consumed nonce stays reserved. It comfortably
	// exceeds MaxSkew so a replay inside the timestamp window always hits
	// the reservation.
	NonceTTL = 120 * time.Second

	nonceBytes = 18
)

var (
	// ErrTimestampExpired reports a request outside the allowed clock skew.
	ErrTimestampExpired = errors.New("auth: timestamp outside allowed skew")
	// ErrReplayDetected reports a nonce that was already consumed.
	ErrReplayDetected = errors.New("auth: nonce already used")
	// ErrBadSignature reports an HMAC mismatch.
	ErrBadSignature = errors.New("auth: signature mismatch")
)

// GenerateNonce returns a fresh URL-safe nonce.
func GenerateNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Sign computes the lowercase hex HMAC-SHA256 of message under secret.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex signature against the expected HMAC in constant time.
func Verify(secret, message, signature string) error {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrBadSignature
	}
	return nil
}

// VerifyTimestamp rejects a unix-seconds timestamp whose distance from now
// reaches MaxSkew.
func VerifyTimestamp(ts int64, now time.Time) error {
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew >= int64(MaxSkew/time.Second) {
		return ErrTimestampExpired
	}
	return nil
}

// VerifyNonce atomically reserves the nonce in the shared coordinator. A
// second reservation within NonceTTL fails with ErrReplayDetected.
func VerifyNonce(ctx context.Context, store kv.Store, nonce string) error {
	ok, err := store.SetNX(ctx, "nonce:"+nonce, "1", NonceTTL)
	if err != nil {
		return fmt.Errorf("auth: reserve nonce: %w", err)
	}
	if !ok {
		return ErrReplayDetected
	}
	return nil
}

// AddressMessage is the canonical message for deposit-address requests.
func AddressMessage(chain string, ts int64, nonce string) string {
	return "address|" + chain + "|" + strconv.FormatInt(ts, 10) + "|" + nonce
}

// PayoutMessage is the canonical message for payout requests. The amount must
// already be formatted at the canonical six-decimal scale.
func PayoutMessage(escrowID, chain, payoutAddress, amount string, ts int64, nonce string) string {
	return escrowID + "|" + chain + "|" + payoutAddress + "|" + amount + "|" +
		strconv.FormatInt(ts, 10) + "|" + nonce
}
