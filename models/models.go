// Package models defines the relational schema shared by the coordinator,
// watcher, and signer processes. The database is the single source of truth
// for escrow state; every status change flows through a row-locked
// transaction.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"trustora/chains"
	"trustora/escrow"
)

// User is a platform participant keyed by the identity the front end
// presents. PublicHash is the stable pseudonym shown in reviews.
type User struct {
	ID int64 `gorm:"primaryKey"`
	// Sized for the "U#" + 4 hex form the review builder emits.
	PublicHash     string `gorm:"size:8;uniqueIndex"`
	Blocked        bool   `gorm:"not null;default:false"`
	BroadcastOptIn bool   `gorm:"not null;default:true"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Escrow is one deal. Amounts are stored at the canonical six-decimal scale;
// the fee snapshot is frozen at creation so later config changes never touch
// a live deal.
type Escrow struct {
	ID       uuid.UUID    `gorm:"type:uuid;primaryKey"`
	RoomCode string       `gorm:"size:16;uniqueIndex"`
	BuyerID  int64        `gorm:"not null;index"`
	SellerID int64        `gorm:"not null;index"`
	Chain    chains.Chain `gorm:"size:8;not null;uniqueIndex:uq_chain_deposit_address;uniqueIndex:uq_chain_deposit_tx"`
	Token    chains.Token `gorm:"size:8;not null"`

	Amount      decimal.Decimal    `gorm:"type:decimal(18,6);not null"`
	FeeAmount   decimal.Decimal    `gorm:"type:decimal(18,6);not null;default:0"`
	NetAmount   decimal.Decimal    `gorm:"type:decimal(18,6);not null;default:0"`
	FeeSnapshot escrow.FeeSnapshot `gorm:"embedded;embeddedPrefix:fee_snapshot_"`

	DepositAddress       string          `gorm:"size:64;not null;uniqueIndex:uq_chain_deposit_address"`
	DepositTxHash        *string         `gorm:"size:80;uniqueIndex:uq_chain_deposit_tx"`
	DepositConfirmations int             `gorm:"not null;default:0"`
	ReceivedAmount       decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`

	PayoutAddress string  `gorm:"size:64"`
	PayoutTxHash  *string `gorm:"size:80;uniqueIndex"`
	FeeTxHash     *string `gorm:"size:80;uniqueIndex"`

	Status escrow.Status `gorm:"size:32;not null;index"`

	BuyerConfirmedRelease bool `gorm:"not null;default:false"`
	AdminApproved         bool `gorm:"not null;default:false"`
	ChatFrozen            bool `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one chat line relayed between the deal's participants. Kind is
// "text" or "image"; image bodies carry the front end's file reference.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	EscrowID  uuid.UUID `gorm:"type:uuid;not null;index"`
	SenderID  int64     `gorm:"not null"`
	Kind      string    `gorm:"size:8;not null;default:text"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// Dispute records a participant freezing the deal for operator review.
type Dispute struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	EscrowID   uuid.UUID `gorm:"type:uuid;not null;index"`
	OpenedByID int64     `gorm:"not null"`
	Reason     string    `gorm:"type:text"`
	Resolved   bool      `gorm:"not null;default:false"`
	Resolution string    `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Review is feedback left by the buyer after a completed deal.
type Review struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	EscrowID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	AuthorID  int64     `gorm:"not null;index"`
	SubjectID int64     `gorm:"not null;index"`
	Rating    int       `gorm:"not null"`
	Body      string    `gorm:"type:text"`
	Published bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
}

// Revenue is the fee ledger: one row per fee-leg transfer the signer sends.
type Revenue struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	EscrowID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	Chain     chains.Chain    `gorm:"size:8;not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	TxHash    string          `gorm:"size:80;not null"`
	CreatedAt time.Time
}

// AuditLog records every operator and signer action that changes money or
// configuration.
type AuditLog struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	ActorID   int64      `gorm:"index"`
	Action    string     `gorm:"size:64;not null;index"`
	EscrowID  *uuid.UUID `gorm:"type:uuid;index"`
	Detail    string     `gorm:"type:text"`
	CreatedAt time.Time
}

// Config is the single mutable platform configuration row (id = 1). The
// payload is JSON so fields can evolve without migrations.
type Config struct {
	ID        int64  `gorm:"primaryKey"`
	Payload   string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// ConfigHistory keeps every prior configuration payload for audit.
type ConfigHistory struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	ActorID   int64
	Payload   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Escrow{},
		&Message{},
		&Dispute{},
		&Review{},
		&Revenue{},
		&AuditLog{},
		&Config{},
		&ConfigHistory{},
	)
}
