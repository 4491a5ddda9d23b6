package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trustora/models"
)

// ErrDisputeNotFound reports a lookup for a dispute that does not exist.
var ErrDisputeNotFound = errors.New("storage: dispute not found")

// CreateMessage appends a chat line to a deal.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("storage: create message: %w", err)
	}
	return nil
}

// ListMessages returns a deal's chat history in order.
func (s *Store) ListMessages(ctx context.Context, escrowID uuid.UUID, limit int) ([]models.Message, error) {
	var out []models.Message
	err := s.db.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	return out, nil
}

// CreateDispute opens a dispute against a deal.
func (s *Store) CreateDispute(ctx context.Context, d *models.Dispute) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("storage: create dispute: %w", err)
	}
	return nil
}

// OpenDispute returns the unresolved dispute for a deal, if any.
func (s *Store) OpenDispute(ctx context.Context, escrowID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := s.db.WithContext(ctx).
		Where("escrow_id = ? AND resolved = ?", escrowID, false).
		Order("created_at DESC").
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open dispute: %w", err)
	}
	return &d, nil
}

// ResolveDispute marks a dispute resolved with the operator's note.
func (s *Store) ResolveDispute(ctx context.Context, id int64, resolution string) error {
	res := s.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("id = ?", id).
		Updates(map[string]any{"resolved": true, "resolution": resolution})
	if res.Error != nil {
		return fmt.Errorf("storage: resolve dispute: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

// CreateReview stores buyer feedback for a completed deal. The unique index
// on escrow_id keeps it to one review per deal.
func (s *Store) CreateReview(ctx context.Context, r *models.Review) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("storage: create review: %w", err)
	}
	return nil
}

// ListPublishedReviews returns published reviews about a user, newest first.
func (s *Store) ListPublishedReviews(ctx context.Context, subjectID int64, limit int) ([]models.Review, error) {
	var out []models.Review
	err := s.db.WithContext(ctx).
		Where("subject_id = ? AND published = ?", subjectID, true).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list reviews: %w", err)
	}
	return out, nil
}

// PublishReview marks a review visible.
func (s *Store) PublishReview(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("id = ?", id).
		Update("published", true)
	if res.Error != nil {
		return fmt.Errorf("storage: publish review: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: publish review: review %d not found", id)
	}
	return nil
}
