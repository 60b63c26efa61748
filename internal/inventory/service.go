package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"credit_market/internal/domain"
	"credit_market/internal/infra/storage"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the credit inventory. Lock, Unlock, Deduct and Issue are keyed by a
// correlation id, the same way the balance ledger is.
type Service struct {
	store *storage.Storage
}

func NewService(store *storage.Storage) *Service {
	return &Service{store: store}
}

var _ domain.InventoryService = (*Service)(nil)

// Get returns a credit lot.
func (s *Service) Get(ctx context.Context, creditID string) (*domain.CreditInventory, error) {
	lot, err := loadLot(s.store.DB(ctx), creditID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, fmt.Errorf("credit %s: %w", creditID, domain.ErrNotFound)
	}
	return lot, nil
}

// ListByOwner returns every lot owned by ownerID.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.CreditInventory, error) {
	var recs []storage.CreditLotRecord
	if err := s.store.DB(ctx).Where("owner_id = ?", ownerID).Order("credit_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list lots of %s: %w", ownerID, err)
	}
	out := make([]domain.CreditInventory, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.CreditInventory{CreditID: r.CreditID, OwnerID: r.OwnerID, Total: r.Total, Locked: r.Locked})
	}
	return out, nil
}

// Lock sets amount aside for a listing.
func (s *Service) Lock(ctx context.Context, creditID string, amount decimal.Decimal, correlationID string) error {
	if correlationID == "" {
		return domain.NewValidationError("correlationId", "required")
	}
	return s.store.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := findEntry(tx, correlationID)
		if err != nil {
			return err
		}
		if entry != nil {
			return sameRequest(entry, creditID, storage.InventoryKindLock, amount)
		}

		lot, err := mustLoadLot(tx, creditID)
		if err != nil {
			return err
		}
		if err := lot.Lock(amount); err != nil {
			return err
		}
		if err := saveLot(tx, lot); err != nil {
			return err
		}
		return tx.Create(&storage.InventoryEntryRecord{
			CorrelationID: correlationID,
			CreditID:      creditID,
			Kind:          storage.InventoryKindLock,
			Amount:        amount,
			Status:        storage.InventoryStatusLocked,
		}).Error
	})
}

// Unlock returns a lock to the available pool. Unknown or already unlocked locks are a no-op.
func (s *Service) Unlock(ctx context.Context, creditID, correlationID string) error {
	return s.store.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := findEntry(tx, correlationID)
		if err != nil || entry == nil {
			return err
		}
		if entry.CreditID != creditID || entry.Kind != storage.InventoryKindLock {
			return fmt.Errorf("correlation %s is not a lock on %s: %w", correlationID, creditID, domain.ErrIdempotencyConflict)
		}
		switch entry.Status {
		case storage.InventoryStatusUnlocked:
			return nil
		case storage.InventoryStatusDeducted:
			return fmt.Errorf("unlock %s: already deducted: %w", correlationID, domain.ErrInvalidOperation)
		}

		lot, err := mustLoadLot(tx, creditID)
		if err != nil {
			return err
		}
		if err := lot.Unlock(entry.Amount); err != nil {
			return err
		}
		if err := saveLot(tx, lot); err != nil {
			return err
		}
		return setEntryStatus(tx, correlationID, storage.InventoryStatusUnlocked)
	})
}

// Deduct consumes the lock identified by correlationID. amount must match the lock.
func (s *Service) Deduct(ctx context.Context, creditID string, amount decimal.Decimal, correlationID string) error {
	return s.store.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := findEntry(tx, correlationID)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("lock %s: %w", correlationID, domain.ErrNotFound)
		}
		if err := sameRequest(entry, creditID, storage.InventoryKindLock, amount); err != nil {
			return err
		}
		switch entry.Status {
		case storage.InventoryStatusDeducted:
			return nil
		case storage.InventoryStatusUnlocked:
			return fmt.Errorf("deduct %s: lock already released: %w", correlationID, domain.ErrInvalidOperation)
		}

		lot, err := mustLoadLot(tx, creditID)
		if err != nil {
			return err
		}
		if err := lot.Deduct(amount); err != nil {
			return err
		}
		if err := saveLot(tx, lot); err != nil {
			return err
		}
		return setEntryStatus(tx, correlationID, storage.InventoryStatusDeducted)
	})
}

// Issue adds amount to a lot, creating it for ownerID when missing.
func (s *Service) Issue(ctx context.Context, creditID, ownerID string, amount decimal.Decimal, correlationID string) (*domain.CreditInventory, error) {
	if correlationID == "" {
		return nil, domain.NewValidationError("correlationId", "required")
	}
	if ownerID == "" {
		return nil, domain.NewValidationError("ownerId", "required")
	}
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "issue amount must be positive")
	}

	var out *domain.CreditInventory
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := findEntry(tx, correlationID)
		if err != nil {
			return err
		}
		if entry != nil {
			if err := sameRequest(entry, creditID, storage.InventoryKindIssue, amount); err != nil {
				return err
			}
			out, err = mustLoadLot(tx, creditID)
			return err
		}

		lot, err := loadLot(tx, creditID)
		if err != nil {
			return err
		}
		if lot == nil {
			lot = &domain.CreditInventory{CreditID: creditID, OwnerID: ownerID}
		} else if lot.OwnerID != ownerID {
			return domain.NewValidationError("ownerId", "credit "+creditID+" belongs to another user")
		}
		lot.Total = lot.Total.Add(amount)
		if err := lot.VerifyInvariant(); err != nil {
			return err
		}
		if err := saveLot(tx, lot); err != nil {
			return err
		}
		out = lot
		return tx.Create(&storage.InventoryEntryRecord{
			CorrelationID: correlationID,
			CreditID:      creditID,
			Kind:          storage.InventoryKindIssue,
			Amount:        amount,
			Status:        storage.InventoryStatusIssued,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadLot(db *gorm.DB, creditID string) (*domain.CreditInventory, error) {
	var rec storage.CreditLotRecord
	err := db.First(&rec, "credit_id = ?", creditID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credit %s: %w", creditID, err)
	}
	lot := &domain.CreditInventory{CreditID: rec.CreditID, OwnerID: rec.OwnerID, Total: rec.Total, Locked: rec.Locked}
	if err := lot.VerifyInvariant(); err != nil {
		slog.Error("Stored credit lot violates invariant", slog.String("credit", creditID), slog.Any("error", err))
		return nil, err
	}
	return lot, nil
}

func mustLoadLot(tx *gorm.DB, creditID string) (*domain.CreditInventory, error) {
	lot, err := loadLot(tx, creditID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, fmt.Errorf("credit %s: %w", creditID, domain.ErrNotFound)
	}
	return lot, nil
}

func saveLot(tx *gorm.DB, lot *domain.CreditInventory) error {
	return tx.Save(&storage.CreditLotRecord{
		CreditID: lot.CreditID,
		OwnerID:  lot.OwnerID,
		Total:    lot.Total,
		Locked:   lot.Locked,
	}).Error
}

func findEntry(tx *gorm.DB, correlationID string) (*storage.InventoryEntryRecord, error) {
	var e storage.InventoryEntryRecord
	err := tx.First(&e, "correlation_id = ?", correlationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load inventory entry %s: %w", correlationID, err)
	}
	return &e, nil
}

func setEntryStatus(tx *gorm.DB, correlationID, status string) error {
	return tx.Model(&storage.InventoryEntryRecord{}).
		Where("correlation_id = ?", correlationID).
		Update("status", status).Error
}

func sameRequest(e *storage.InventoryEntryRecord, creditID, kind string, amount decimal.Decimal) error {
	if e.CreditID != creditID || e.Kind != kind || !e.Amount.Equal(amount) {
		return fmt.Errorf("correlation %s reused for a different %s: %w",
			e.CorrelationID, kind, domain.ErrIdempotencyConflict)
	}
	return nil
}
