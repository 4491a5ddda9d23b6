// Package storage wraps the relational database behind the small set of
// operations the escrow processes need. All state changes to an escrow run
// inside WithEscrowForUpdate so concurrent watchers and signers serialize on
// the row.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trustora/chains"
	"trustora/escrow"
	"trustora/models"
)

// ErrEscrowNotFound reports a lookup for an escrow that does not exist.
var ErrEscrowNotFound = errors.New("storage: escrow not found")

// Store provides the persistence operations for escrows and platform state.
type Store struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, nowFn: time.Now}
}

// WithClock overrides the store's clock. Tests use this.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.nowFn = now
	return s
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithEscrowForUpdate loads the escrow under a row lock and runs fn inside
// the same transaction. Changes fn makes to the escrow are saved when fn
// returns nil.
func (s *Store) WithEscrowForUpdate(ctx context.Context, id uuid.UUID, fn func(tx *gorm.DB, e *models.Escrow) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e models.Escrow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&e, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEscrowNotFound
			}
			return fmt.Errorf("storage: lock escrow: %w", err)
		}
		if err := fn(tx, &e); err != nil {
			return err
		}
		e.UpdatedAt = s.nowFn()
		if err := tx.Save(&e).Error; err != nil {
			return fmt.Errorf("storage: save escrow: %w", err)
		}
		return nil
	})
}

// Transition validates and applies a status change to an in-transaction
// escrow. The caller persists via WithEscrowForUpdate.
func (s *Store) Transition(e *models.Escrow, next escrow.Status) error {
	if err := escrow.ValidateTransition(e.Status, next); err != nil {
		return fmt.Errorf("%w: %s -> %s", err, e.Status, next)
	}
	e.Status = next
	return nil
}

// CreateEscrow inserts a new deal row.
func (s *Store) CreateEscrow(ctx context.Context, e *models.Escrow) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("storage: create escrow: %w", err)
	}
	return nil
}

// GetEscrow loads one escrow without locking it.
func (s *Store) GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("storage: get escrow: %w", err)
	}
	return &e, nil
}

// GetEscrowByRoomCode loads one escrow by its human room code.
func (s *Store) GetEscrowByRoomCode(ctx context.Context, code string) (*models.Escrow, error) {
	var e models.Escrow
	if err := s.db.WithContext(ctx).First(&e, "room_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("storage: get escrow by room code: %w", err)
	}
	return &e, nil
}

// ListEscrowsForUser returns a participant's deals, newest first.
func (s *Store) ListEscrowsForUser(ctx context.Context, userID int64, limit int) ([]models.Escrow, error) {
	var out []models.Escrow
	err := s.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list escrows: %w", err)
	}
	return out, nil
}

// ListEscrowsByStatus returns all deals in the given statuses.
func (s *Store) ListEscrowsByStatus(ctx context.Context, statuses ...escrow.Status) ([]models.Escrow, error) {
	var out []models.Escrow
	err := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list escrows by status: %w", err)
	}
	return out, nil
}

// FindEscrows matches deals by id, room code, deposit or payout tx hash, or
// participant id. Operator search surface.
func (s *Store) FindEscrows(ctx context.Context, query string, limit int) ([]models.Escrow, error) {
	db := s.db.WithContext(ctx)
	if id, err := uuid.Parse(query); err == nil {
		db = db.Where("id = ?", id)
	} else if uid, err := strconv.ParseInt(query, 10, 64); err == nil {
		db = db.Where("buyer_id = ? OR seller_id = ?", uid, uid)
	} else {
		db = db.Where("room_code = ? OR deposit_tx_hash = ? OR payout_tx_hash = ?", query, query, query)
	}
	var out []models.Escrow
	if err := db.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("storage: find escrows: %w", err)
	}
	return out, nil
}

// OpenDepositEscrows returns the escrows the chain watcher must match
// incoming transfers against.
func (s *Store) OpenDepositEscrows(ctx context.Context, chain chains.Chain) ([]models.Escrow, error) {
	var out []models.Escrow
	err := s.db.WithContext(ctx).
		Where("chain = ? AND status IN ?", chain,
			[]escrow.Status{escrow.StatusAwaitingDeposit, escrow.StatusUnderpaid}).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("storage: open deposit escrows: %w", err)
	}
	return out, nil
}

// UsedDepositAddresses returns every deposit address ever tied to an escrow
// on the chain, regardless of status. Finished deals keep their address
// reserved; the (chain, deposit_address) unique index depends on it.
func (s *Store) UsedDepositAddresses(ctx context.Context, chain chains.Chain) (map[string]bool, error) {
	var rows []models.Escrow
	err := s.db.WithContext(ctx).
		Select("deposit_address").
		Where("chain = ?", chain).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: used deposit addresses: %w", err)
	}
	used := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.DepositAddress != "" {
			used[r.DepositAddress] = true
		}
	}
	return used, nil
}

// RecordRevenue appends a fee-leg row to the revenue ledger.
func (s *Store) RecordRevenue(ctx context.Context, tx *gorm.DB, rev *models.Revenue) error {
	db := s.db
	if tx != nil {
		db = tx
	}
	if err := db.WithContext(ctx).Create(rev).Error; err != nil {
		return fmt.Errorf("storage: record revenue: %w", err)
	}
	return nil
}

// Audit appends an audit log entry. Failures are returned, not fatal; callers
// log and continue.
func (s *Store) Audit(ctx context.Context, actorID int64, action string, escrowID *uuid.UUID, detail string) error {
	entry := models.AuditLog{ActorID: actorID, Action: action, EscrowID: escrowID, Detail: detail}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("storage: audit: %w", err)
	}
	return nil
}

// ListRecentAudit returns the newest audit entries.
func (s *Store) ListRecentAudit(ctx context.Context, limit int) ([]models.AuditLog, error) {
	var out []models.AuditLog
	err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list audit: %w", err)
	}
	return out, nil
}
