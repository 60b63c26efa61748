package engine

import (
	"context"
	"errors"

	"credit_market/internal/domain"
	"credit_market/internal/infra"

	"github.com/shopspring/decimal"
)

// passthroughErrors are already classified: answers from a healthy boundary, or outages
// reported as such. Anything else is treated as an outage.
var passthroughErrors = []error{
	domain.ErrValidation,
	domain.ErrInsufficientFunds,
	domain.ErrInsufficientInventory,
	domain.ErrIdempotencyConflict,
	domain.ErrInvalidOperation,
	domain.ErrNotFound,
	domain.ErrInvariantViolation,
	domain.ErrServiceUnavailable,
	domain.ErrConcurrencyConflict,
}

func classify(service, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, target := range passthroughErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewServiceError(service, op, err)
}

// GuardedBalances puts a circuit breaker in front of a BalanceService.
type GuardedBalances struct {
	inner    domain.BalanceService
	breakers *infra.Breakers
}

func NewGuardedBalances(inner domain.BalanceService, breakers *infra.Breakers) *GuardedBalances {
	return &GuardedBalances{inner: inner, breakers: breakers}
}

var _ domain.BalanceService = (*GuardedBalances)(nil)

func (g *GuardedBalances) do(op string, fn func() error) error {
	return g.breakers.Do("balance", op, func() error {
		return classify("balance", op, fn())
	})
}

func (g *GuardedBalances) Reserve(ctx context.Context, userID string, amount decimal.Decimal, correlationID string) error {
	return g.do("reserve", func() error { return g.inner.Reserve(ctx, userID, amount, correlationID) })
}

func (g *GuardedBalances) Release(ctx context.Context, userID, correlationID string) error {
	return g.do("release", func() error { return g.inner.Release(ctx, userID, correlationID) })
}

func (g *GuardedBalances) Commit(ctx context.Context, userID, correlationID string) error {
	return g.do("commit", func() error { return g.inner.Commit(ctx, userID, correlationID) })
}

func (g *GuardedBalances) Deposit(ctx context.Context, userID string, amount decimal.Decimal, correlationID string) error {
	return g.do("deposit", func() error { return g.inner.Deposit(ctx, userID, amount, correlationID) })
}

func (g *GuardedBalances) CanWithdraw(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	var ok bool
	err := g.do("can_withdraw", func() error {
		var err error
		ok, err = g.inner.CanWithdraw(ctx, userID, amount)
		return err
	})
	return ok, err
}

func (g *GuardedBalances) WarmUpBalance(ctx context.Context, userID string) {
	g.inner.WarmUpBalance(ctx, userID)
}

// GuardedInventory puts a circuit breaker in front of an InventoryService.
type GuardedInventory struct {
	inner    domain.InventoryService
	breakers *infra.Breakers
}

func NewGuardedInventory(inner domain.InventoryService, breakers *infra.Breakers) *GuardedInventory {
	return &GuardedInventory{inner: inner, breakers: breakers}
}

var _ domain.InventoryService = (*GuardedInventory)(nil)

func (g *GuardedInventory) do(op string, fn func() error) error {
	return g.breakers.Do("inventory", op, func() error {
		return classify("inventory", op, fn())
	})
}

func (g *GuardedInventory) Get(ctx context.Context, creditID string) (*domain.CreditInventory, error) {
	var lot *domain.CreditInventory
	err := g.do("get", func() error {
		var err error
		lot, err = g.inner.Get(ctx, creditID)
		return err
	})
	return lot, err
}

func (g *GuardedInventory) Lock(ctx context.Context, creditID string, amount decimal.Decimal, correlationID string) error {
	return g.do("lock", func() error { return g.inner.Lock(ctx, creditID, amount, correlationID) })
}

func (g *GuardedInventory) Unlock(ctx context.Context, creditID, correlationID string) error {
	return g.do("unlock", func() error { return g.inner.Unlock(ctx, creditID, correlationID) })
}

func (g *GuardedInventory) Deduct(ctx context.Context, creditID string, amount decimal.Decimal, correlationID string) error {
	return g.do("deduct", func() error { return g.inner.Deduct(ctx, creditID, amount, correlationID) })
}

func (g *GuardedInventory) Issue(ctx context.Context, creditID, ownerID string, amount decimal.Decimal, correlationID string) (*domain.CreditInventory, error) {
	var lot *domain.CreditInventory
	err := g.do("issue", func() error {
		var err error
		lot, err = g.inner.Issue(ctx, creditID, ownerID, amount, correlationID)
		return err
	})
	return lot, err
}
