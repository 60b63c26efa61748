package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit_market/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListingStore implements domain.ListingRepository on top of Storage.
type ListingStore struct {
	s *Storage
}

func NewListingStore(s *Storage) *ListingStore {
	return &ListingStore{s: s}
}

var _ domain.ListingRepository = (*ListingStore)(nil)

// Create inserts a new listing at version 1.
func (r *ListingStore) Create(ctx context.Context, l *domain.Listing) error {
	l.Version = 1
	rec := toListingRecord(l)
	return r.s.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.NewValidationError("id", "listing "+l.ID+" already exists")
			}
			return fmt.Errorf("create listing %s: %w", l.ID, err)
		}
		return insertBids(tx, l.Bids)
	})
}

// Get loads a listing with its bids in acceptance order.
func (r *ListingStore) Get(ctx context.Context, id string) (*domain.Listing, error) {
	var rec ListingRecord
	db := r.s.DB(ctx)
	if err := db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("listing %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}

	var bids []BidRecord
	if err := db.Where("listing_id = ?", id).Order("seq ASC").Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("get bids of %s: %w", id, err)
	}
	return fromListingRecord(rec, bids), nil
}

// Save writes l if nobody else saved it since it was loaded. New bids are appended;
// stored bids are never rewritten.
func (r *ListingStore) Save(ctx context.Context, l *domain.Listing) error {
	rec := toListingRecord(l)
	err := r.s.WithTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&ListingRecord{}).
			Where("id = ? AND version = ?", l.ID, l.Version).
			Updates(map[string]any{
				"status":            rec.Status,
				"auction_end_time":  rec.AuctionEndTime,
				"ends_at":           rec.EndsAt,
				"inventory_lock_id": rec.InventoryLockID,
				"winner_id":         rec.WinnerID,
				"winning_bid_id":    rec.WinningBidID,
				"settlement":        rec.Settlement,
				"closed_at":         rec.ClosedAt,
				"version":           l.Version + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("save listing %s: %w", l.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&ListingRecord{}).Where("id = ?", l.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("listing %s: %w", l.ID, domain.ErrNotFound)
			}
			return fmt.Errorf("listing %s version %d: %w", l.ID, l.Version, domain.ErrConcurrencyConflict)
		}
		return insertBids(tx, l.Bids)
	})
	if err != nil {
		return err
	}
	l.Version++
	return nil
}

// FindExpiredAuctions returns open auctions whose end time is at or before now,
// earliest first.
func (r *ListingStore) FindExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.s.DB(ctx).Model(&ListingRecord{}).
		Where("type = ? AND status = ? AND ends_at > 0 AND ends_at <= ?",
			string(domain.ListingTypeAuction), string(domain.ListingStatusOpen), now.UnixNano()).
		Order("ends_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("find expired auctions: %w", err)
	}
	return ids, nil
}

// FindPendingSettlements returns closed listings whose settlement hasn't finished.
func (r *ListingStore) FindPendingSettlements(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.s.DB(ctx).Model(&ListingRecord{}).
		Where("status = ? AND settlement = ?",
			string(domain.ListingStatusClosed), string(domain.SettlementPending)).
		Order("closed_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("find pending settlements: %w", err)
	}
	return ids, nil
}

// ListOpen returns open listings, newest first.
func (r *ListingStore) ListOpen(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.s.DB(ctx).Model(&ListingRecord{}).
		Where("status = ?", string(domain.ListingStatusOpen)).
		Order("created_at DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list open listings: %w", err)
	}
	return ids, nil
}

func insertBids(tx *gorm.DB, bids []domain.Bid) error {
	if len(bids) == 0 {
		return nil
	}
	recs := make([]BidRecord, 0, len(bids))
	for _, b := range bids {
		recs = append(recs, BidRecord{
			ID:            b.ID,
			ListingID:     b.ListingID,
			BidderID:      b.BidderID,
			Amount:        b.Amount,
			SubmittedAt:   b.SubmittedAt,
			ReservationID: b.ReservationID,
			Seq:           b.Seq,
		})
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&recs).Error; err != nil {
		return fmt.Errorf("insert bids: %w", err)
	}
	return nil
}

func toListingRecord(l *domain.Listing) ListingRecord {
	rec := ListingRecord{
		ID:              l.ID,
		CreditID:        l.CreditID,
		OwnerID:         l.OwnerID,
		Type:            string(l.Type),
		PricePerUnit:    l.PricePerUnit,
		Amount:          l.Amount,
		Status:          string(l.Status),
		AuctionEndTime:  l.AuctionEndTime,
		InventoryLockID: l.InventoryLockID,
		WinnerID:        l.WinnerID,
		WinningBidID:    l.WinningBidID,
		Settlement:      string(l.Settlement),
		ClosedAt:        l.ClosedAt,
		Version:         l.Version,
		CreatedAt:       l.CreatedAt,
	}
	if l.AuctionEndTime != nil {
		rec.EndsAt = l.AuctionEndTime.UnixNano()
	}
	return rec
}

func fromListingRecord(rec ListingRecord, bids []BidRecord) *domain.Listing {
	l := &domain.Listing{
		ID:              rec.ID,
		CreditID:        rec.CreditID,
		OwnerID:         rec.OwnerID,
		Type:            domain.ListingType(rec.Type),
		PricePerUnit:    rec.PricePerUnit,
		Amount:          rec.Amount,
		Status:          domain.ListingStatus(rec.Status),
		InventoryLockID: rec.InventoryLockID,
		WinnerID:        rec.WinnerID,
		WinningBidID:    rec.WinningBidID,
		Settlement:      domain.SettlementState(rec.Settlement),
		Version:         rec.Version,
		CreatedAt:       rec.CreatedAt.UTC(),
	}
	// EndsAt is authoritative; the time column may lose its zone on round trip.
	if rec.EndsAt != 0 {
		end := time.Unix(0, rec.EndsAt).UTC()
		l.AuctionEndTime = &end
	}
	if rec.ClosedAt != nil {
		c := rec.ClosedAt.UTC()
		l.ClosedAt = &c
	}
	l.Bids = make([]domain.Bid, 0, len(bids))
	for _, b := range bids {
		l.Bids = append(l.Bids, domain.Bid{
			ID:            b.ID,
			ListingID:     b.ListingID,
			BidderID:      b.BidderID,
			Amount:        b.Amount,
			SubmittedAt:   b.SubmittedAt.UTC(),
			ReservationID: b.ReservationID,
			Seq:           b.Seq,
		})
	}
	return l
}
