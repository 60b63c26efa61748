package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are stored as TEXT so SQLite's numeric affinity never rounds them.

// BalanceRecord is the authoritative balance row of one user.
type BalanceRecord struct {
	UserID    string          `gorm:"primaryKey"`
	Available decimal.Decimal `gorm:"type:text;not null"`
	Reserved  decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// Balance entry kinds and states.
const (
	EntryKindReservation = "reservation"
	EntryKindDeposit     = "deposit"

	EntryStatusReserved  = "reserved"
	EntryStatusReleased  = "released"
	EntryStatusCommitted = "committed"
	EntryStatusApplied   = "applied"
)

// BalanceEntryRecord is keyed by correlation id; it is what makes ledger operations idempotent.
type BalanceEntryRecord struct {
	CorrelationID string          `gorm:"primaryKey"`
	UserID        string          `gorm:"index;not null"`
	Kind          string          `gorm:"not null"`
	Amount        decimal.Decimal `gorm:"type:text;not null"`
	Status        string          `gorm:"index;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreditLotRecord is one lot of credits.
type CreditLotRecord struct {
	CreditID  string          `gorm:"primaryKey"`
	OwnerID   string          `gorm:"index;not null"`
	Total     decimal.Decimal `gorm:"type:text;not null"`
	Locked    decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// Inventory entry kinds and states.
const (
	InventoryKindLock  = "lock"
	InventoryKindIssue = "issue"

	InventoryStatusLocked   = "locked"
	InventoryStatusUnlocked = "unlocked"
	InventoryStatusDeducted = "deducted"
	InventoryStatusIssued   = "issued"
)

// InventoryEntryRecord is keyed by correlation id, mirroring BalanceEntryRecord.
type InventoryEntryRecord struct {
	CorrelationID string          `gorm:"primaryKey"`
	CreditID      string          `gorm:"index;not null"`
	Kind          string          `gorm:"not null"`
	Amount        decimal.Decimal `gorm:"type:text;not null"`
	Status        string          `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ListingRecord is the persisted listing aggregate root.
type ListingRecord struct {
	ID              string          `gorm:"primaryKey"`
	CreditID        string          `gorm:"index;not null"`
	OwnerID         string          `gorm:"index;not null"`
	Type            string          `gorm:"index;not null"`
	PricePerUnit    decimal.Decimal `gorm:"type:text;not null"`
	Amount          decimal.Decimal `gorm:"type:text;not null"`
	Status          string          `gorm:"index;not null"`
	AuctionEndTime  *time.Time
	EndsAt          int64 `gorm:"index"` // unix nanos of AuctionEndTime, 0 when unset
	InventoryLockID string
	WinnerID        string
	WinningBidID    string
	Settlement      string `gorm:"index"`
	ClosedAt        *time.Time
	Version         int64 `gorm:"not null"`
	CreatedAt       time.Time
}

// BidRecord is an accepted, immutable bid.
type BidRecord struct {
	ID            string          `gorm:"primaryKey"`
	ListingID     string          `gorm:"index;not null"`
	BidderID      string          `gorm:"not null"`
	Amount        decimal.Decimal `gorm:"type:text;not null"`
	SubmittedAt   time.Time
	ReservationID string
	Seq           int
}

// Outbox states.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusDead      = "dead"
)

// OutboxRecord holds one integration event waiting to be relayed.
type OutboxRecord struct {
	ID          string `gorm:"primaryKey"`
	EventName   string `gorm:"not null"`
	Key         string
	Payload     string `gorm:"type:text;not null"`
	Status      string `gorm:"index;not null"`
	Attempts    int
	LastError   string
	CreatedAt   time.Time `gorm:"index"`
	PublishedAt *time.Time
}
