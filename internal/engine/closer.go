package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"credit_market/internal/domain"
	"credit_market/internal/infra"
	"credit_market/internal/infra/lock"

	"github.com/google/uuid"
)

// Run sweeps for expired auctions every SweepInterval until ctx is done.
// An auction therefore closes at most one interval after its end time.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("Auction closer started", slog.Duration("interval", e.settings.SweepInterval))

	ticker := time.NewTicker(e.settings.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Sweep failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			slog.Info("Auction closer stopping...")
			return
		case <-ticker.C:
		}
	}
}

// Sweep closes every auction whose end time has passed, then settles them along with
// settlements left pending by an earlier run. Closing comes first so that a slow
// settlement never delays another auction's close. It returns the number of auctions closed.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	ids, err := e.listings.FindExpiredAuctions(ctx, e.clock.Now(), e.settings.SweepBatch)
	if err != nil {
		return 0, err
	}

	var closed []*domain.Listing
	for _, id := range ids {
		l, err := e.closeIfExpired(ctx, id)
		if err != nil {
			slog.Error("Failed to close auction", slog.String("listing", id), slog.Any("error", err))
			continue
		}
		if l != nil {
			closed = append(closed, l)
		}
	}
	for _, l := range closed {
		if err := e.settle(ctx, l); err != nil {
			slog.Error("Settlement failed", slog.String("listing", l.ID), slog.Any("error", err))
		}
	}

	pending, err := e.listings.FindPendingSettlements(ctx, e.settings.SweepBatch)
	if err != nil {
		return len(closed), err
	}
	for _, id := range pending {
		l, err := e.listings.Get(ctx, id)
		if err != nil {
			slog.Error("Failed to load pending settlement", slog.String("listing", id), slog.Any("error", err))
			continue
		}
		if err := e.settle(ctx, l); err != nil {
			slog.Error("Pending settlement failed", slog.String("listing", id), slog.Any("error", err))
		}
	}
	return len(closed), nil
}

// CloseAuction closes an expired auction and settles it. It reports whether this
// call performed the close; closing an already closed listing is a no-op.
func (e *Engine) CloseAuction(ctx context.Context, listingID string) (bool, error) {
	l, err := e.closeIfExpired(ctx, listingID)
	if err != nil || l == nil {
		return false, err
	}
	return true, e.settle(ctx, l)
}

func (e *Engine) closeIfExpired(ctx context.Context, listingID string) (*domain.Listing, error) {
	var closed *domain.Listing
	err := e.locker.WithLock(ctx, lock.ListingKey(listingID), func(ctx context.Context) error {
		l, err := e.listings.Get(ctx, listingID)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		// A late bid may have extended the end time since the sweep query ran.
		if !l.IsOpen() || !l.IsAuction() || !l.Expired(now) {
			return nil
		}
		if err := l.Close(l.HighestBid(), now); err != nil {
			return err
		}
		if err := e.listings.Save(ctx, l); err != nil {
			return err
		}
		closed = l
		return nil
	})
	if err != nil || closed == nil {
		return nil, err
	}

	slog.Info("Auction closed",
		slog.String("listing", closed.ID),
		slog.String("winner", closed.WinnerID),
		slog.Int("bids", len(closed.Bids)))
	e.metrics.RecordClose()
	return closed, nil
}

// Reconcile re-runs the settlement of an escalated (or still pending) listing,
// typically after an operator fixed the underlying cause.
func (e *Engine) Reconcile(ctx context.Context, listingID string) error {
	var target *domain.Listing
	err := e.locker.WithLock(ctx, lock.ListingKey(listingID), func(ctx context.Context) error {
		l, err := e.listings.Get(ctx, listingID)
		if err != nil {
			return err
		}
		switch l.Settlement {
		case domain.SettlementPending:
		case domain.SettlementEscalated:
			l.Settlement = domain.SettlementPending
			if err := e.listings.Save(ctx, l); err != nil {
				return err
			}
		default:
			return fmt.Errorf("reconcile listing %s in settlement state %q: %w",
				l.ID, l.Settlement, domain.ErrInvalidOperation)
		}
		target = l
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("Reconciling settlement", slog.String("listing", listingID))
	return e.settle(ctx, target)
}

// settle runs the commit protocol of a closed listing with bounded retries.
// Every step is idempotent, so a retry (or a second settler) repeats them safely.
// Retriable failures leave the listing pending for the next sweep until EscalateAfter
// has passed; anything else escalates it for manual reconciliation.
func (e *Engine) settle(ctx context.Context, l *domain.Listing) error {
	attempts := e.settings.SettleMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = e.settleOnce(ctx, l); err == nil {
			return e.finishSettlement(ctx, l)
		}
		if !domain.IsRetriable(err) || attempt == attempts-1 {
			break
		}
		e.metrics.RecordSettlementRetry()
		slog.Warn("Settlement attempt failed, retrying",
			slog.String("listing", l.ID), slog.Int("attempt", attempt+1), slog.Any("error", err))
		delay := infra.CalculateBackoffWithJitter(e.settings.SettleBaseDelay, e.settings.SettleMaxDelay, attempt)
		if serr := infra.SleepWithContext(ctx, delay); serr != nil {
			// Leave it pending; the next sweep picks it up.
			return fmt.Errorf("settle listing %s: %w", l.ID, serr)
		}
	}

	if domain.IsRetriable(err) && !e.overdue(l) {
		slog.Warn("Settlement still failing, left pending for the next sweep",
			slog.String("listing", l.ID), slog.Any("error", err))
		return fmt.Errorf("settle listing %s: %w", l.ID, err)
	}
	e.escalate(ctx, l, err)
	return fmt.Errorf("settle listing %s: %w", l.ID, err)
}

// overdue reports whether l has waited longer than EscalateAfter since it closed.
func (e *Engine) overdue(l *domain.Listing) bool {
	if e.settings.EscalateAfter <= 0 || l.ClosedAt == nil {
		return false
	}
	return e.clock.Now().Sub(*l.ClosedAt) >= e.settings.EscalateAfter
}

func (e *Engine) settleOnce(ctx context.Context, l *domain.Listing) error {
	winner := l.WinningBid()
	if winner == nil {
		return e.inventory.Unlock(ctx, l.CreditID, l.InventoryLockID)
	}

	if err := e.balances.Commit(ctx, winner.BidderID, winner.ReservationID); err != nil {
		return err
	}
	if err := e.inventory.Deduct(ctx, l.CreditID, l.Amount, l.InventoryLockID); err != nil {
		return err
	}
	if err := e.balances.Deposit(ctx, l.OwnerID, winner.Amount, "payout:"+l.ID); err != nil {
		return err
	}

	buyerLot, err := e.inventory.Issue(ctx, DeliveryLotID(l.ID, winner.BidderID), winner.BidderID, l.Amount, "deliver:"+l.ID)
	if err != nil {
		return err
	}

	for _, b := range l.Bids {
		if b.ID == winner.ID {
			continue
		}
		if err := e.balances.Release(ctx, b.BidderID, b.ReservationID); err != nil {
			return err
		}
	}

	sellerLot, err := e.inventory.Get(ctx, l.CreditID)
	if err != nil {
		return err
	}
	return e.publisher.Publish(ctx,
		domain.CreditInventoryUpdate{CreditID: sellerLot.CreditID, TotalAmount: sellerLot.Total},
		domain.CreditIssued{
			OwnerUserID:  winner.BidderID,
			CreditAmount: l.Amount,
			ReferenceID:  l.ID,
			IssuedAt:     e.clock.Now(),
		},
		domain.CreditInventoryUpdate{CreditID: buyerLot.CreditID, TotalAmount: buyerLot.Total},
	)
}

// finishSettlement marks l settled and announces the outcome exactly once.
func (e *Engine) finishSettlement(ctx context.Context, l *domain.Listing) error {
	return e.locker.WithLock(ctx, lock.ListingKey(l.ID), func(ctx context.Context) error {
		cur, err := e.listings.Get(ctx, l.ID)
		if err != nil {
			return err
		}
		if cur.Settlement == domain.SettlementSettled {
			return nil
		}
		cur.Settlement = domain.SettlementSettled
		if err := e.listings.Save(ctx, cur); err != nil {
			return err
		}
		e.metrics.RecordSettlement()
		e.notify(ctx, completionEvent(cur))
		return nil
	})
}

func (e *Engine) escalate(ctx context.Context, l *domain.Listing, cause error) {
	e.metrics.RecordEscalation()
	slog.Error("SETTLEMENT_ESCALATED",
		slog.String("listing", l.ID),
		slog.String("winner", l.WinnerID),
		slog.String("reason", domain.RejectionReason(cause)),
		slog.Any("error", cause))

	err := e.locker.WithLock(ctx, lock.ListingKey(l.ID), func(ctx context.Context) error {
		cur, err := e.listings.Get(ctx, l.ID)
		if err != nil {
			return err
		}
		if cur.Settlement != domain.SettlementPending {
			return nil
		}
		cur.Settlement = domain.SettlementEscalated
		return e.listings.Save(ctx, cur)
	})
	if err != nil {
		slog.Error("Failed to mark settlement escalated", slog.String("listing", l.ID), slog.Any("error", err))
	}
}

func completionEvent(l *domain.Listing) domain.Event {
	winner := l.WinningBid()
	switch {
	case winner == nil:
		return domain.AuctionCompletedWithoutBids{ListingID: l.ID, OwnerID: l.OwnerID}
	case l.IsAuction():
		return domain.AuctionCompleted{ListingID: l.ID, WinnerID: winner.BidderID, OwnerID: l.OwnerID, Amount: winner.Amount}
	default:
		return domain.ListingPurchased{ListingID: l.ID, BuyerID: winner.BidderID, OwnerID: l.OwnerID, Amount: winner.Amount}
	}
}

// DeliveryLotID is the credit lot that receives the credits bought through listingID.
func DeliveryLotID(listingID, buyerID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("delivery/"+listingID+"/"+buyerID)).String()
}
