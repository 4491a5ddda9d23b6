package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"trustora/escrow"
	"trustora/models"
)

const configRowID = 1

// ConfigPayload is the mutable platform configuration. It lives as JSON in a
// single row; every update archives the previous payload.
type ConfigPayload struct {
	FeeFlat      decimal.Decimal `json:"fee_flat"`
	FeePercent   decimal.Decimal `json:"fee_percent"`
	FeeThreshold decimal.Decimal `json:"fee_threshold"`
	PausePayouts bool            `json:"pause_payouts"`
}

// DefaultConfig returns the payload a fresh deployment starts with.
func DefaultConfig() ConfigPayload {
	snap := escrow.DefaultFeeSnapshot()
	return ConfigPayload{
		FeeFlat:      snap.Flat,
		FeePercent:   snap.Percent,
		FeeThreshold: snap.Threshold,
	}
}

// Snapshot freezes the payload's fee terms for a new escrow.
func (p ConfigPayload) Snapshot() escrow.FeeSnapshot {
	return escrow.FeeSnapshot{Flat: p.FeeFlat, Percent: p.FeePercent, Threshold: p.FeeThreshold}
}

// GetConfig loads the configuration row, creating the default on first use.
func (s *Store) GetConfig(ctx context.Context) (ConfigPayload, error) {
	var row models.Config
	err := s.db.WithContext(ctx).First(&row, "id = ?", configRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		payload := DefaultConfig()
		raw, merr := json.Marshal(payload)
		if merr != nil {
			return ConfigPayload{}, fmt.Errorf("storage: marshal config: %w", merr)
		}
		row = models.Config{ID: configRowID, Payload: string(raw)}
		if cerr := s.db.WithContext(ctx).Create(&row).Error; cerr != nil {
			return ConfigPayload{}, fmt.Errorf("storage: seed config: %w", cerr)
		}
		return payload, nil
	}
	if err != nil {
		return ConfigPayload{}, fmt.Errorf("storage: get config: %w", err)
	}
	var payload ConfigPayload
	if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
		return ConfigPayload{}, fmt.Errorf("storage: parse config: %w", err)
	}
	return payload, nil
}

// UpdateConfig replaces the configuration, archiving the prior payload and
// recording who changed it.
func (s *Store) UpdateConfig(ctx context.Context, actorID int64, payload ConfigPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("storage: marshal config: %w", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Config
		err := tx.First(&row, "id = ?", configRowID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("storage: load config: %w", err)
		}
		if err == nil {
			history := models.ConfigHistory{ActorID: actorID, Payload: row.Payload}
			if herr := tx.Create(&history).Error; herr != nil {
				return fmt.Errorf("storage: archive config: %w", herr)
			}
		}
		row.ID = configRowID
		row.Payload = string(raw)
		if serr := tx.Save(&row).Error; serr != nil {
			return fmt.Errorf("storage: save config: %w", serr)
		}
		audit := models.AuditLog{ActorID: actorID, Action: "config_update", Detail: string(raw)}
		if aerr := tx.Create(&audit).Error; aerr != nil {
			return fmt.Errorf("storage: audit config: %w", aerr)
		}
		return nil
	})
}
