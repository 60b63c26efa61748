package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credit_market/internal/clock"
	"credit_market/internal/domain"
	"credit_market/internal/infra"
	"credit_market/internal/infra/lock"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settings tunes auction timing and the settlement retry policy.
type Settings struct {
	ExtensionWindow   time.Duration
	SweepInterval     time.Duration
	SweepBatch        int
	SettleMaxAttempts int
	SettleBaseDelay   time.Duration
	SettleMaxDelay    time.Duration
	// EscalateAfter is how long after close a listing may stay pending on
	// retriable failures before it is escalated. Zero never escalates them.
	EscalateAfter     time.Duration
}

// DefaultSettings matches the defaults of infra.DefaultConfig.
func DefaultSettings() Settings {
	return Settings{
		ExtensionWindow:   2 * time.Minute,
		SweepInterval:     5 * time.Second,
		SweepBatch:        100,
		SettleMaxAttempts: 5,
		SettleBaseDelay:   200 * time.Millisecond,
		SettleMaxDelay:    5 * time.Second,
		EscalateAfter:     time.Hour,
	}
}

// Engine runs the listing lifecycle: creation, bidding, purchase, cancellation,
// close and settlement. All mutations of one listing happen under its lock.
type Engine struct {
	listings  domain.ListingRepository
	balances  domain.BalanceService
	inventory domain.InventoryService
	locker    lock.Locker
	notifier  domain.Notifier
	publisher domain.IntegrationPublisher

	clock    clock.Clock
	metrics  *infra.Metrics
	settings Settings
	newID    func() string
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithSettings(s Settings) Option { return func(e *Engine) { e.settings = s } }

func WithMetrics(m *infra.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithNotifier(n domain.Notifier) Option { return func(e *Engine) { e.notifier = n } }

func WithPublisher(p domain.IntegrationPublisher) Option { return func(e *Engine) { e.publisher = p } }

// WithIDGenerator replaces uuid generation for listing and bid ids.
func WithIDGenerator(gen func() string) Option { return func(e *Engine) { e.newID = gen } }

func New(listings domain.ListingRepository, balances domain.BalanceService, inventory domain.InventoryService,
	locker lock.Locker, opts ...Option) *Engine {
	e := &Engine{
		listings:  listings,
		balances:  balances,
		inventory: inventory,
		locker:    locker,
		notifier:  nopNotifier{},
		publisher: nopPublisher{},
		clock:     clock.NewSystem(),
		metrics:   infra.GlobalMetrics,
		settings:  DefaultSettings(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetListing returns the current state of a listing.
func (e *Engine) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	return e.listings.Get(ctx, listingID)
}

// CreateListing validates the offer, locks the offered credits and stores an open listing.
func (e *Engine) CreateListing(ctx context.Context, p domain.NewListingParams) (*domain.Listing, error) {
	now := e.clock.Now()
	l, err := domain.NewListing(e.newID(), p, now)
	if err != nil {
		return nil, err
	}

	lot, err := e.inventory.Get(ctx, p.CreditID)
	if err != nil {
		return nil, err
	}
	if lot.OwnerID != p.OwnerID {
		return nil, domain.NewValidationError("creditId", "credit "+p.CreditID+" is not owned by "+p.OwnerID)
	}

	corr := "lock:" + l.ID
	if err := e.inventory.Lock(ctx, l.CreditID, l.Amount, corr); err != nil {
		return nil, err
	}
	l.InventoryLockID = corr

	if err := e.listings.Create(ctx, l); err != nil {
		if uerr := e.inventory.Unlock(ctx, l.CreditID, corr); uerr != nil {
			slog.Error("Failed to unlock inventory after listing create failure",
				slog.String("listing", l.ID), slog.String("credit", l.CreditID), slog.Any("error", uerr))
		}
		return nil, err
	}

	slog.Info("Listing created",
		slog.String("listing", l.ID),
		slog.String("type", string(l.Type)),
		slog.String("amount", l.Amount.String()))
	return l, nil
}

// PlaceBid evaluates and records a bid. On success the bidder holds the only active
// reservation on the listing.
func (e *Engine) PlaceBid(ctx context.Context, listingID, bidderID string, amount decimal.Decimal) (*domain.Bid, error) {
	start := time.Now()
	bid, err := e.placeBid(ctx, listingID, bidderID, amount)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		bid, err = e.placeBid(ctx, listingID, bidderID, amount)
	}
	e.metrics.RecordBid(err == nil, time.Since(start))
	if err != nil {
		slog.Debug("Bid rejected",
			slog.String("listing", listingID), slog.String("bidder", bidderID),
			slog.String("reason", domain.RejectionReason(err)), slog.Any("error", err))
		return nil, err
	}
	return bid, nil
}

func (e *Engine) placeBid(ctx context.Context, listingID, bidderID string, amount decimal.Decimal) (*domain.Bid, error) {
	var accepted *domain.Bid
	err := e.locker.WithLock(ctx, lock.ListingKey(listingID), func(ctx context.Context) error {
		l, err := e.listings.Get(ctx, listingID)
		if err != nil {
			return err
		}

		bidID := e.newID()
		d, err := domain.EvaluateBid(l, domain.BidInput{
			BidID:           bidID,
			BidderID:        bidderID,
			Amount:          amount,
			ReservationID:   "bid:" + bidID,
			Now:             e.clock.Now(),
			ExtensionWindow: e.settings.ExtensionWindow,
		})
		if err != nil {
			return err
		}

		ok, err := e.balances.CanWithdraw(ctx, bidderID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.InsufficientFundsError{UserID: bidderID, Requested: amount}
		}

		if err := e.balances.Reserve(ctx, bidderID, amount, d.Bid.ReservationID); err != nil {
			// The reservation may have landed before the failure was reported.
			if domain.IsRetriable(err) {
				e.release(ctx, bidderID, d.Bid.ReservationID, listingID)
			}
			return err
		}

		events := l.ApplyBid(d)
		if err := e.listings.Save(ctx, l); err != nil {
			e.release(ctx, bidderID, d.Bid.ReservationID, listingID)
			return err
		}

		// Settlement releases every losing reservation again, so a failure here only delays the refund.
		if d.Previous != nil {
			e.release(ctx, d.Previous.BidderID, d.Previous.ReservationID, listingID)
		}

		e.notify(ctx, events...)
		accepted = &d.Bid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// BuyNow purchases a fixed-price listing at its total price and settles it. When the
// purchase is committed but settlement fails, it returns the listing together with an
// error matching domain.ErrSettlementPending.
func (e *Engine) BuyNow(ctx context.Context, listingID, buyerID string) (*domain.Listing, error) {
	var bought *domain.Listing
	err := e.locker.WithLock(ctx, lock.ListingKey(listingID), func(ctx context.Context) error {
		l, err := e.listings.Get(ctx, listingID)
		if err != nil {
			return err
		}

		bidID := e.newID()
		purchase := domain.Bid{
			ID:            bidID,
			ListingID:     l.ID,
			BidderID:      buyerID,
			Amount:        l.TotalPrice(),
			SubmittedAt:   e.clock.Now(),
			ReservationID: "buy:" + bidID,
		}
		if buyerID == "" {
			return domain.NewValidationError("buyerId", "required")
		}
		if err := l.RecordPurchase(purchase, purchase.SubmittedAt); err != nil {
			return err
		}

		if err := e.balances.Reserve(ctx, buyerID, purchase.Amount, purchase.ReservationID); err != nil {
			if domain.IsRetriable(err) {
				e.release(ctx, buyerID, purchase.ReservationID, listingID)
			}
			return err
		}
		if err := e.listings.Save(ctx, l); err != nil {
			e.release(ctx, buyerID, purchase.ReservationID, listingID)
			return err
		}
		bought = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordClose()
	if err := e.settle(ctx, bought); err != nil {
		return bought, fmt.Errorf("%w: %w", domain.ErrSettlementPending, err)
	}
	if cur, err := e.listings.Get(ctx, listingID); err == nil {
		return cur, nil
	}
	return bought, nil
}

// CancelListing withdraws an open listing that has no bids and frees its credits.
func (e *Engine) CancelListing(ctx context.Context, listingID, callerID string) error {
	return e.locker.WithLock(ctx, lock.ListingKey(listingID), func(ctx context.Context) error {
		l, err := e.listings.Get(ctx, listingID)
		if err != nil {
			return err
		}
		if err := l.Cancel(callerID, e.clock.Now()); err != nil {
			return err
		}
		if err := e.listings.Save(ctx, l); err != nil {
			return err
		}
		if err := e.inventory.Unlock(ctx, l.CreditID, l.InventoryLockID); err != nil {
			slog.Error("Listing cancelled but inventory unlock failed",
				slog.String("listing", l.ID), slog.String("credit", l.CreditID), slog.Any("error", err))
			return fmt.Errorf("unlock credits of cancelled listing %s: %w", l.ID, err)
		}
		e.notify(ctx, domain.ListingCancelled{ListingID: l.ID, OwnerID: l.OwnerID})
		return nil
	})
}

// IssueCredits registers new credits for ownerID and announces them to other services.
// referenceID makes the call idempotent.
func (e *Engine) IssueCredits(ctx context.Context, ownerID, creditID string, amount decimal.Decimal, referenceID string) (*domain.CreditInventory, error) {
	if referenceID == "" {
		return nil, domain.NewValidationError("referenceId", "required")
	}
	lot, err := e.inventory.Issue(ctx, creditID, ownerID, amount, "issue:"+referenceID)
	if err != nil {
		return nil, err
	}
	err = e.publisher.Publish(ctx,
		domain.CreditIssued{OwnerUserID: ownerID, CreditAmount: amount, ReferenceID: referenceID, IssuedAt: e.clock.Now()},
		domain.CreditInventoryUpdate{CreditID: lot.CreditID, TotalAmount: lot.Total},
	)
	if err != nil {
		return lot, err
	}
	return lot, nil
}

// WarmUp preloads balance data for a user who just started watching listings.
func (e *Engine) WarmUp(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	e.balances.WarmUpBalance(ctx, userID)
}

func (e *Engine) release(ctx context.Context, userID, correlationID, listingID string) {
	if err := e.balances.Release(ctx, userID, correlationID); err != nil {
		slog.Error("Failed to release reservation",
			slog.String("listing", listingID),
			slog.String("user", userID),
			slog.String("reservation", correlationID),
			slog.Any("error", err))
	}
}

func (e *Engine) notify(ctx context.Context, events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	if err := e.notifier.Notify(ctx, events...); err != nil {
		slog.Warn("Notification failed", slog.Any("error", err))
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, ...domain.Event) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...domain.IntegrationEvent) error { return nil }
