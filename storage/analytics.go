package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trustora/escrow"
	"trustora/models"
)

// Analytics is the operator dashboard summary.
type Analytics struct {
	TotalEscrows     int64           `json:"total_escrows"`
	ActiveEscrows    int64           `json:"active_escrows"`
	CompletedEscrows int64           `json:"completed_escrows"`
	DisputedEscrows  int64           `json:"disputed_escrows"`
	RevenueTotal     decimal.Decimal `json:"revenue_total"`
	Revenue24h       decimal.Decimal `json:"revenue_24h"`
}

// GetAnalytics computes the dashboard counters.
func (s *Store) GetAnalytics(ctx context.Context) (Analytics, error) {
	var out Analytics
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.Escrow{}).Count(&out.TotalEscrows).Error; err != nil {
		return out, fmt.Errorf("storage: count escrows: %w", err)
	}
	terminal := []escrow.Status{
		escrow.StatusCompleted,
		escrow.StatusCancelled,
		escrow.StatusExpired,
	}
	if err := db.Model(&models.Escrow{}).
		Where("status NOT IN ?", terminal).
		Count(&out.ActiveEscrows).Error; err != nil {
		return out, fmt.Errorf("storage: count active: %w", err)
	}
	if err := db.Model(&models.Escrow{}).
		Where("status = ?", escrow.StatusCompleted).
		Count(&out.CompletedEscrows).Error; err != nil {
		return out, fmt.Errorf("storage: count completed: %w", err)
	}
	if err := db.Model(&models.Escrow{}).
		Where("status = ?", escrow.StatusDisputed).
		Count(&out.DisputedEscrows).Error; err != nil {
		return out, fmt.Errorf("storage: count disputed: %w", err)
	}

	type sumRow struct {
		Total decimal.Decimal
	}
	var total sumRow
	if err := db.Model(&models.Revenue{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Scan(&total).Error; err != nil {
		return out, fmt.Errorf("storage: sum revenue: %w", err)
	}
	out.RevenueTotal = total.Total

	var recent sumRow
	cutoff := s.nowFn().Add(-24 * time.Hour)
	if err := db.Model(&models.Revenue{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("created_at >= ?", cutoff).
		Scan(&recent).Error; err != nil {
		return out, fmt.Errorf("storage: sum recent revenue: %w", err)
	}
	out.Revenue24h = recent.Total
	return out, nil
}
