package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceService is the balance ledger boundary. Reserve, Release, Commit and Deposit
// are idempotent by correlationID.
type BalanceService interface {
	Reserve(ctx context.Context, userID string, amount decimal.Decimal, correlationID string) error
	Release(ctx context.Context, userID, correlationID string) error
	Commit(ctx context.Context, userID, correlationID string) error
	Deposit(ctx context.Context, userID string, amount decimal.Decimal, correlationID string) error
	CanWithdraw(ctx context.Context, userID string, amount decimal.Decimal) (bool, error)
	WarmUpBalance(ctx context.Context, userID string)
}

// InventoryService is the credit inventory boundary. Lock, Unlock, Deduct and Issue
// are idempotent by correlationID.
type InventoryService interface {
	Get(ctx context.Context, creditID string) (*CreditInventory, error)
	Lock(ctx context.Context, creditID string, amount decimal.Decimal, correlationID string) error
	Unlock(ctx context.Context, creditID, correlationID string) error
	Deduct(ctx context.Context, creditID string, amount decimal.Decimal, correlationID string) error
	Issue(ctx context.Context, creditID, ownerID string, amount decimal.Decimal, correlationID string) (*CreditInventory, error)
}

// ListingRepository persists listing aggregates. Save is optimistic: it fails with
// ErrConcurrencyConflict when the stored version differs from l.Version.
type ListingRepository interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Save(ctx context.Context, l *Listing) error
	FindExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]string, error)
	FindPendingSettlements(ctx context.Context, limit int) ([]string, error)
}

// Notifier fans domain events out to real-time watchers. Events of a single call
// are delivered in slice order.
type Notifier interface {
	Notify(ctx context.Context, events ...Event) error
}

// IntegrationPublisher relays integration events to other bounded contexts (at least once).
type IntegrationPublisher interface {
	Publish(ctx context.Context, events ...IntegrationEvent) error
}
