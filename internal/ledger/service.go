package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"credit_market/internal/clock"
	"credit_market/internal/domain"
	"credit_market/internal/infra/storage"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const defaultCacheTTL = 5 * time.Second

type snapshot struct {
	balance  domain.Balance
	loadedAt time.Time
}

// Service is the balance ledger. Every mutation runs in one transaction and is keyed
// by a correlation id, so a replayed call returns the original outcome without
// touching the balance again.
type Service struct {
	store    *storage.Storage
	clock    clock.Clock
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]snapshot
	// gens counts invalidations per user so a load that raced a mutation is not cached.
	gens map[string]uint64
}

type Option func(*Service)

// WithClock overrides the clock used for cache expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithCacheTTL sets how long a warmed balance may answer CanWithdraw.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) { s.cacheTTL = d }
}

func NewService(store *storage.Storage, opts ...Option) *Service {
	s := &Service{
		store:    store,
		clock:    clock.NewSystem(),
		cacheTTL: defaultCacheTTL,
		cache:    make(map[string]snapshot),
		gens:     make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.BalanceService = (*Service)(nil)

// Reserve moves amount from available to reserved for userID.
func (s *Service) Reserve(ctx context.Context, userID string, amount decimal.Decimal, correlationID string) error {
	if correlationID == "" {
		return domain.NewValidationError("correlationId", "required")
	}
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := findEntry(tx, correlationID)
		if err != nil {
			return err
		}
		if entry != nil {
			return sameRequest(entry, userID, storage.EntryKindReservation, amount)
		}

		b, err := loadBalance(tx, userID)
		if err != nil {
			return err
		}
		if err := b.Reserve(amount); err != nil {
			return err
		}
		if err := saveBalance(tx, b); err != nil {
			return err
		}
		return tx.Create(&storage.BalanceEntryRecord{
			CorrelationID: correlationID,
			UserID:        userID,
			Kind:          storage.EntryKindReservation,
			Amount:        amount,
			Status:        storage.EntryStatusReserved,
		}).Error
	})
	s.invalidate(userID)
	return err
}

// Release returns a reservation to available funds. Releasing an unknown or
// already released reservation is a no-op.
func (s *Service) Release(ctx context.Context, userID, correlationID string) error {
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := findEntry(tx, correlationID)
		if err != nil || entry == nil {
			return err
		}
		if err := ownedBy(entry, userID); err != nil {
			return err
		}
		switch entry.Status {
		case storage.EntryStatusReleased:
			return nil
		case storage.EntryStatusCommitted:
			return fmt.Errorf("release %s: reservation already committed: %w", correlationID, domain.ErrInvalidOperation)
		}

		b, err := loadBalance(tx, userID)
		if err != nil {
			return err
		}
		if err := b.Release(entry.Amount); err != nil {
			return err
		}
		if err := saveBalance(tx, b); err != nil {
			return err
		}
		return setEntryStatus(tx, correlationID, storage.EntryStatusReleased)
	})
	s.invalidate(userID)
	return err
}

// Commit permanently debits a reservation.
func (s *Service) Commit(ctx context.Context, userID, correlationID string) error {
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := findEntry(tx, correlationID)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("reservation %s: %w", correlationID, domain.ErrNotFound)
		}
		if err := ownedBy(entry, userID); err != nil {
			return err
		}
		switch entry.Status {
		case storage.EntryStatusCommitted:
			return nil
		case storage.EntryStatusReleased:
			return fmt.Errorf("commit %s: reservation already released: %w", correlationID, domain.ErrInvalidOperation)
		}

		b, err := loadBalance(tx, userID)
		if err != nil {
			return err
		}
		if err := b.Commit(entry.Amount); err != nil {
			return err
		}
		if err := saveBalance(tx, b); err != nil {
			return err
		}
		return setEntryStatus(tx, correlationID, storage.EntryStatusCommitted)
	})
	s.invalidate(userID)
	return err
}

// Deposit credits available funds, e.g. a seller payout.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal, correlationID string) error {
	if correlationID == "" {
		return domain.NewValidationError("correlationId", "required")
	}
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := findEntry(tx, correlationID)
		if err != nil {
			return err
		}
		if entry != nil {
			return sameRequest(entry, userID, storage.EntryKindDeposit, amount)
		}

		b, err := loadBalance(tx, userID)
		if err != nil {
			return err
		}
		if err := b.Credit(amount); err != nil {
			return err
		}
		if err := saveBalance(tx, b); err != nil {
			return err
		}
		return tx.Create(&storage.BalanceEntryRecord{
			CorrelationID: correlationID,
			UserID:        userID,
			Kind:          storage.EntryKindDeposit,
			Amount:        amount,
			Status:        storage.EntryStatusApplied,
		}).Error
	})
	s.invalidate(userID)
	return err
}

// Balance reads the authoritative balance. Unknown users have a zero balance.
func (s *Service) Balance(ctx context.Context, userID string) (*domain.Balance, error) {
	return loadBalance(s.store.DB(ctx), userID)
}

// CanWithdraw is an advisory solvency check. A warmed snapshot may confirm that the
// funds are there; a negative answer always comes from the stored balance, since
// the snapshot can lag deposits made elsewhere. Reserve stays the authoritative gate.
func (s *Service) CanWithdraw(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	if b, ok := s.cached(userID); ok && !b.Available.LessThan(amount) {
		return true, nil
	}
	gen := s.generation(userID)
	b, err := s.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	s.remember(*b, gen)
	return !b.Available.LessThan(amount), nil
}

// WarmUpBalance preloads the snapshot used by CanWithdraw. Failures only cost a cache miss.
func (s *Service) WarmUpBalance(ctx context.Context, userID string) {
	gen := s.generation(userID)
	b, err := s.Balance(ctx, userID)
	if err != nil {
		slog.Warn("Balance warm-up failed", slog.String("user", userID), slog.Any("error", err))
		return
	}
	s.remember(*b, gen)
}

func (s *Service) cached(userID string) (domain.Balance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.cache[userID]
	if !ok || s.clock.Now().Sub(snap.loadedAt) > s.cacheTTL {
		return domain.Balance{}, false
	}
	return snap.balance, true
}

func (s *Service) generation(userID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[userID]
}

// remember caches b unless the user's balance was invalidated after gen was read.
func (s *Service) remember(b domain.Balance, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[b.UserID] != gen {
		return
	}
	s.cache[b.UserID] = snapshot{balance: b, loadedAt: s.clock.Now()}
}

func (s *Service) invalidate(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.gens[userID]++
	s.mu.Unlock()
}

func loadBalance(db *gorm.DB, userID string) (*domain.Balance, error) {
	if userID == "" {
		return nil, domain.NewValidationError("userId", "required")
	}
	var rec storage.BalanceRecord
	err := db.First(&rec, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.Balance{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance %s: %w", userID, err)
	}
	b := &domain.Balance{UserID: rec.UserID, Available: rec.Available, Reserved: rec.Reserved}
	if err := b.VerifyInvariant(); err != nil {
		slog.Error("Stored balance violates invariant", slog.String("user", userID), slog.Any("error", err))
		return nil, err
	}
	return b, nil
}

func saveBalance(tx *gorm.DB, b *domain.Balance) error {
	return tx.Save(&storage.BalanceRecord{
		UserID:    b.UserID,
		Available: b.Available,
		Reserved:  b.Reserved,
	}).Error
}

func findEntry(tx *gorm.DB, correlationID string) (*storage.BalanceEntryRecord, error) {
	var e storage.BalanceEntryRecord
	err := tx.First(&e, "correlation_id = ?", correlationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load entry %s: %w", correlationID, err)
	}
	return &e, nil
}

func setEntryStatus(tx *gorm.DB, correlationID, status string) error {
	return tx.Model(&storage.BalanceEntryRecord{}).
		Where("correlation_id = ?", correlationID).
		Update("status", status).Error
}

func sameRequest(e *storage.BalanceEntryRecord, userID, kind string, amount decimal.Decimal) error {
	if e.UserID != userID || e.Kind != kind || !e.Amount.Equal(amount) {
		return fmt.Errorf("correlation %s reused for a different %s: %w",
			e.CorrelationID, kind, domain.ErrIdempotencyConflict)
	}
	return nil
}

func ownedBy(e *storage.BalanceEntryRecord, userID string) error {
	if e.UserID != userID {
		return fmt.Errorf("correlation %s belongs to another user: %w", e.CorrelationID, domain.ErrIdempotencyConflict)
	}
	return nil
}
