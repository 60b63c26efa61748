package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"credit_market/internal/domain"
	"credit_market/internal/infra/storage"

	"github.com/shopspring/decimal"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := storage.NewStorage(filepath.Join(t.TempDir(), "inventory.db"))
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st)
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func mustLot(t *testing.T, s *Service, creditID string, total, locked int64) {
	t.Helper()
	lot, err := s.Get(context.Background(), creditID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !lot.Total.Equal(d(total)) || !lot.Locked.Equal(d(locked)) {
		t.Errorf("%s: expected total=%d locked=%d, got total=%s locked=%s",
			creditID, total, locked, lot.Total, lot.Locked)
	}
}

func TestIssueLockDeduct(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	lot, err := s.Issue(ctx, "lot-1", "seller", d(100), "issue-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if lot.OwnerID != "seller" {
		t.Errorf("expected owner seller, got %s", lot.OwnerID)
	}

	if err := s.Lock(ctx, "lot-1", d(40), "lock:L1"); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	mustLot(t, s, "lot-1", 100, 40)

	if err := s.Deduct(ctx, "lot-1", d(40), "lock:L1"); err != nil {
		t.Fatalf("Deduct failed: %v", err)
	}
	mustLot(t, s, "lot-1", 60, 0)

	// Replays are no-ops.
	if err := s.Deduct(ctx, "lot-1", d(40), "lock:L1"); err != nil {
		t.Errorf("Deduct replay failed: %v", err)
	}
	if _, err := s.Issue(ctx, "lot-1", "seller", d(100), "issue-1"); err != nil {
		t.Errorf("Issue replay failed: %v", err)
	}
	mustLot(t, s, "lot-1", 60, 0)
}

func TestLockUnlock(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	s.Issue(ctx, "lot-1", "seller", d(10), "issue-1")

	if err := s.Lock(ctx, "lot-1", d(11), "lock:L1"); !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
	if err := s.Lock(ctx, "lot-1", d(10), "lock:L1"); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := s.Lock(ctx, "lot-1", d(1), "lock:L2"); !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Errorf("expected second lock to fail, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Unlock(ctx, "lot-1", "lock:L1"); err != nil {
			t.Fatalf("Unlock %d failed: %v", i, err)
		}
	}
	mustLot(t, s, "lot-1", 10, 0)

	if err := s.Deduct(ctx, "lot-1", d(10), "lock:L1"); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Errorf("expected deduct of released lock to fail, got %v", err)
	}
}

func TestIssueRejectsForeignOwner(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	s.Issue(ctx, "lot-1", "seller", d(10), "issue-1")

	_, err := s.Issue(ctx, "lot-1", "mallory", d(10), "issue-2")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	_, err = s.Issue(ctx, "lot-1", "seller", d(5), "issue-1")
	if !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Errorf("expected ErrIdempotencyConflict, got %v", err)
	}

	lots, err := s.ListByOwner(ctx, "seller")
	if err != nil || len(lots) != 1 {
		t.Fatalf("expected one lot, got %v (%v)", lots, err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
