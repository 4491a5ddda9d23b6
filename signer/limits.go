package signer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trustora/kv"
)

var (
	// ErrPayoutTooLarge reports a single payout over the hard cap.
	ErrPayoutTooLarge = errors.New("signer: payout exceeds hard cap")
	// ErrAboveAutoPayoutMax reports a payout over the auto-approval ceiling.
	// Larger amounts must arrive pre-approved through the coordinator; the
	// signer rejects them outright as defense in depth.
	ErrAboveAutoPayoutMax = errors.New("signer: payout exceeds auto-payout ceiling")
	// ErrDailyCapExceeded reports the rolling daily volume cap being hit.
	ErrDailyCapExceeded = errors.New("signer: daily volume cap exceeded")
	// ErrHourlyLimitExceeded reports the hourly payout count being hit.
	ErrHourlyLimitExceeded = errors.New("signer: hourly payout count exceeded")
)

const (
	dayWindow  = 24 * time.Hour
	hourWindow = time.Hour
)

// limitGate tracks payout volume and count against the shared coordinator.
type limitGate struct {
	coord  kv.Store
	limits LimitConfig
}

// dayKey and hourKey bucket the counters by UTC calendar window.
func dayKey(now time.Time) string {
	return "payouts:day:" + now.UTC().Format("20060102")
}

func hourKey(now time.Time) string {
	return "payouts:hour:" + now.UTC().Format("2006010215")
}

// CheckAndTrack reserves the payout against the limits. Counter increments
// commit before the payout attempt; a rejected payout's consumed quota is not
// refunded.
func (g *limitGate) CheckAndTrack(ctx context.Context, amount decimal.Decimal, now time.Time) error {
	if amount.GreaterThan(g.limits.MaxPayout.Decimal) {
		return ErrPayoutTooLarge
	}
	if amount.GreaterThan(g.limits.AutoPayoutMax.Decimal) {
		return ErrAboveAutoPayoutMax
	}

	value, _ := amount.Float64()
	dk := dayKey(now)
	total, err := g.coord.IncrByFloat(ctx, dk, value)
	if err != nil {
		return fmt.Errorf("signer: track daily volume: %w", err)
	}
	if total == value {
		if err := g.coord.Expire(ctx, dk, dayWindow); err != nil {
			return fmt.Errorf("signer: expire daily counter: %w", err)
		}
	}
	dailyCap, _ := g.limits.DailyCap.Float64()
	if total > dailyCap {
		return ErrDailyCapExceeded
	}

	hk := hourKey(now)
	count, err := g.coord.Incr(ctx, hk)
	if err != nil {
		return fmt.Errorf("signer: track hourly count: %w", err)
	}
	if count == 1 {
		if err := g.coord.Expire(ctx, hk, hourWindow); err != nil {
			return fmt.Errorf("signer: expire hourly counter: %w", err)
		}
	}
	if count > g.limits.HourlyCount {
		return ErrHourlyLimitExceeded
	}
	return nil
}
