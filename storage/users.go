package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"trustora/models"
)

// GetOrCreateUser loads a user, creating the row with the given public hash
// on first sight.
func (s *Store) GetOrCreateUser(ctx context.Context, id int64, publicHash string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		u = models.User{ID: id, PublicHash: publicHash, BroadcastOptIn: true}
		if cerr := s.db.WithContext(ctx).Create(&u).Error; cerr != nil {
			return nil, fmt.Errorf("storage: create user: %w", cerr)
		}
		return &u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get user: %w", err)
	}
	return &u, nil
}

// SetUserBlocked toggles a user's blocked flag.
func (s *Store) SetUserBlocked(ctx context.Context, id int64, blocked bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("blocked", blocked)
	if res.Error != nil {
		return fmt.Errorf("storage: set blocked: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: set blocked: user %d not found", id)
	}
	return nil
}

// SetUserBroadcast toggles a user's announcement opt-in.
func (s *Store) SetUserBroadcast(ctx context.Context, id int64, optIn bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("broadcast_opt_in", optIn)
	if res.Error != nil {
		return fmt.Errorf("storage: set broadcast: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: set broadcast: user %d not found", id)
	}
	return nil
}

// CountBroadcastUsers returns how many unblocked users receive announcements.
func (s *Store) CountBroadcastUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("broadcast_opt_in = ? AND blocked = ?", true, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("storage: count broadcast users: %w", err)
	}
	return n, nil
}
