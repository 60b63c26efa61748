package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func auctionParams(end time.Duration) NewListingParams {
	endAt := now.Add(end)
	return NewListingParams{
		OwnerID:        "seller",
		CreditID:       "lot-1",
		Type:           ListingTypeAuction,
		PricePerUnit:   dec(10),
		Amount:         dec(100),
		AuctionEndTime: &endAt,
	}
}

func mustListing(t *testing.T, p NewListingParams) *Listing {
	t.Helper()
	l, err := NewListing("L1", p, now)
	if err != nil {
		t.Fatalf("NewListing failed: %v", err)
	}
	return l
}

func TestNewListing_Validation(t *testing.T) {
	past := now.Add(-time.Minute)
	tests := []struct {
		name   string
		mutate func(p *NewListingParams)
		field  string
	}{
		{"missing owner", func(p *NewListingParams) { p.OwnerID = "" }, "ownerId"},
		{"missing credit", func(p *NewListingParams) { p.CreditID = "" }, "creditId"},
		{"zero amount", func(p *NewListingParams) { p.Amount = decimal.Zero }, "amount"},
		{"negative price", func(p *NewListingParams) { p.PricePerUnit = dec(-1) }, "pricePerUnit"},
		{"auction without end", func(p *NewListingParams) { p.AuctionEndTime = nil }, "auctionEndTime"},
		{"auction ending in the past", func(p *NewListingParams) { p.AuctionEndTime = &past }, "auctionEndTime"},
		{"fixed price with end", func(p *NewListingParams) { p.Type = ListingTypeFixedPrice }, "auctionEndTime"},
		{"unknown type", func(p *NewListingParams) { p.Type = "raffle" }, "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := auctionParams(time.Hour)
			tt.mutate(&p)
			_, err := NewListing("L1", p, now)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}
}

func TestNewListing_Defaults(t *testing.T) {
	l := mustListing(t, auctionParams(time.Hour))
	if l.Status != ListingStatusOpen || !l.IsAuction() || l.Settlement != SettlementNone {
		t.Errorf("unexpected initial state %+v", l)
	}
	if !l.OpeningPrice().Equal(dec(10)) || !l.TotalPrice().Equal(dec(1000)) {
		t.Errorf("unexpected prices opening=%s total=%s", l.OpeningPrice(), l.TotalPrice())
	}
	if l.Expired(now.Add(59*time.Minute)) || !l.Expired(now.Add(time.Hour)) {
		t.Error("expected the auction to expire exactly at its end time")
	}
}

func TestHighestBid_TieGoesToEarliest(t *testing.T) {
	l := mustListing(t, auctionParams(time.Hour))
	l.Bids = []Bid{
		{ID: "b1", BidderID: "alice", Amount: dec(50), SubmittedAt: now.Add(2 * time.Second)},
		{ID: "b2", BidderID: "bob", Amount: dec(50), SubmittedAt: now.Add(time.Second)},
		{ID: "b3", BidderID: "carol", Amount: dec(40), SubmittedAt: now},
	}
	if got := l.HighestBid(); got.ID != "b2" {
		t.Errorf("expected b2, got %s", got.ID)
	}
	if l.FindBid("b3") == nil || l.FindBid("zz") != nil {
		t.Error("FindBid returned the wrong bid")
	}
}

func TestClose(t *testing.T) {
	l := mustListing(t, auctionParams(time.Hour))
	l.Bids = []Bid{{ID: "b1", BidderID: "alice", Amount: dec(50)}}

	if err := l.Close(&l.Bids[0], now.Add(time.Hour)); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if l.Status != ListingStatusClosed || l.Settlement != SettlementPending || !l.NeedsSettlement() {
		t.Errorf("unexpected state %s/%s", l.Status, l.Settlement)
	}
	if l.WinnerID != "alice" || l.WinningBid().ID != "b1" {
		t.Errorf("unexpected winner %s", l.WinnerID)
	}

	if err := l.Close(nil, now.Add(2*time.Hour)); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected second close to be invalid, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	t.Run("owner without bids", func(t *testing.T) {
		l := mustListing(t, auctionParams(time.Hour))
		if err := l.Cancel("seller", now); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if l.Status != ListingStatusCancelled || l.ClosedAt == nil {
			t.Errorf("unexpected state %s", l.Status)
		}
		if err := l.Cancel("seller", now); !errors.Is(err, ErrInvalidOperation) {
			t.Errorf("expected cancelled listing to reject cancel, got %v", err)
		}
	})

	t.Run("not the owner", func(t *testing.T) {
		l := mustListing(t, auctionParams(time.Hour))
		if err := l.Cancel("mallory", now); !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("with bids", func(t *testing.T) {
		l := mustListing(t, auctionParams(time.Hour))
		l.Bids = []Bid{{ID: "b1", BidderID: "alice", Amount: dec(50)}}
		if err := l.Cancel("seller", now); !errors.Is(err, ErrInvalidOperation) {
			t.Errorf("expected ErrInvalidOperation, got %v", err)
		}
	})
}

func TestListingJSON(t *testing.T) {
	l := mustListing(t, auctionParams(time.Hour))
	l.InventoryLockID = "lock:L1"
	raw, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var m map[string]any
	json.Unmarshal(raw, &m)
	if m["creditId"] != "lot-1" || m["ownerId"] != "seller" || m["status"] != "open" {
		t.Errorf("unexpected JSON %s", raw)
	}
	if _, leaked := m["InventoryLockID"]; leaked {
		t.Error("inventory lock handle must not be serialized")
	}
}
