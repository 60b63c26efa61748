package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingType distinguishes fixed-price offers from auctions.
type ListingType string

// ListingStatus is the lifecycle state of a listing. Closed and Cancelled are terminal.
type ListingStatus string

// SettlementState tracks the post-close commit protocol of a listing.
type SettlementState string

const (
	ListingTypeFixedPrice ListingType = "fixed_price"
	ListingTypeAuction    ListingType = "auction"

	ListingStatusOpen      ListingStatus = "open"
	ListingStatusClosed    ListingStatus = "closed"
	ListingStatusCancelled ListingStatus = "cancelled"

	SettlementNone      SettlementState = ""
	SettlementPending   SettlementState = "pending"
	SettlementSettled   SettlementState = "settled"
	SettlementEscalated SettlementState = "escalated"
)

// Bid is one accepted offer on an auction (or the single purchase of a fixed-price listing).
// Bids are immutable once accepted.
type Bid struct {
	ID            string          `json:"id"`
	ListingID     string          `json:"listingId"`
	BidderID      string          `json:"bidderId"`
	Amount        decimal.Decimal `json:"amount"`
	SubmittedAt   time.Time       `json:"submittedAt"`
	ReservationID string          `json:"-"` // balance correlation id
	Seq           int             `json:"seq"`
}

// Listing is the sale aggregate. It holds only reservation handles (correlation ids),
// never the balance or inventory records themselves.
type Listing struct {
	ID              string          `json:"id"`
	CreditID        string          `json:"creditId"`
	OwnerID         string          `json:"ownerId"`
	Type            ListingType     `json:"type"`
	PricePerUnit    decimal.Decimal `json:"pricePerUnit"`
	Amount          decimal.Decimal `json:"amount"`
	Status          ListingStatus   `json:"status"`
	AuctionEndTime  *time.Time      `json:"auctionEndTime,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	InventoryLockID string          `json:"-"`
	Bids            []Bid           `json:"bids"`

	WinnerID     string          `json:"winnerId,omitempty"`
	WinningBidID string          `json:"winningBidId,omitempty"`
	Settlement   SettlementState `json:"settlement,omitempty"`
	ClosedAt     *time.Time      `json:"closedAt,omitempty"`

	Version int64 `json:"version"`
}

// NewListingParams carries the seller's offer.
type NewListingParams struct {
	OwnerID        string
	CreditID       string
	Type           ListingType
	PricePerUnit   decimal.Decimal
	Amount         decimal.Decimal
	AuctionEndTime *time.Time
}

// NewListing validates params and builds an open listing.
func NewListing(id string, p NewListingParams, now time.Time) (*Listing, error) {
	if p.OwnerID == "" {
		return nil, NewValidationError("ownerId", "required")
	}
	if p.CreditID == "" {
		return nil, NewValidationError("creditId", "required")
	}
	if !p.Amount.IsPositive() {
		return nil, NewValidationError("amount", "must be positive")
	}
	if !p.PricePerUnit.IsPositive() {
		return nil, NewValidationError("pricePerUnit", "must be positive")
	}

	var end *time.Time
	switch p.Type {
	case ListingTypeAuction:
		if p.AuctionEndTime == nil {
			return nil, NewValidationError("auctionEndTime", "required for auctions")
		}
		if !p.AuctionEndTime.After(now) {
			return nil, NewValidationError("auctionEndTime", "must be in the future")
		}
		t := p.AuctionEndTime.UTC()
		end = &t
	case ListingTypeFixedPrice:
		if p.AuctionEndTime != nil {
			return nil, NewValidationError("auctionEndTime", "not allowed for fixed-price listings")
		}
	default:
		return nil, NewValidationError("type", "unknown listing type "+string(p.Type))
	}

	return &Listing{
		ID:             id,
		CreditID:       p.CreditID,
		OwnerID:        p.OwnerID,
		Type:           p.Type,
		PricePerUnit:   p.PricePerUnit,
		Amount:         p.Amount,
		Status:         ListingStatusOpen,
		AuctionEndTime: end,
		CreatedAt:      now,
	}, nil
}

// IsOpen checks if the listing still accepts bids or purchases.
func (l *Listing) IsOpen() bool {
	return l.Status == ListingStatusOpen
}

// IsAuction reports whether the listing is an auction.
func (l *Listing) IsAuction() bool {
	return l.Type == ListingTypeAuction
}

// TotalPrice is the fixed-price cost of the whole lot.
func (l *Listing) TotalPrice() decimal.Decimal {
	return l.PricePerUnit.Mul(l.Amount)
}

// OpeningPrice is the minimum acceptable first bid of an auction.
func (l *Listing) OpeningPrice() decimal.Decimal {
	return l.PricePerUnit
}

// Expired reports whether an auction's end time has been reached.
func (l *Listing) Expired(now time.Time) bool {
	return l.IsAuction() && l.AuctionEndTime != nil && !now.Before(*l.AuctionEndTime)
}

// HighestBid returns the leading bid, or nil when there are none.
// Ties go to the earliest submission.
func (l *Listing) HighestBid() *Bid {
	var best *Bid
	for i := range l.Bids {
		b := &l.Bids[i]
		if best == nil ||
			b.Amount.GreaterThan(best.Amount) ||
			(b.Amount.Equal(best.Amount) && b.SubmittedAt.Before(best.SubmittedAt)) {
			best = b
		}
	}
	return best
}

// FindBid returns the bid with the given id.
func (l *Listing) FindBid(id string) *Bid {
	for i := range l.Bids {
		if l.Bids[i].ID == id {
			return &l.Bids[i]
		}
	}
	return nil
}

// WinningBid returns the bid recorded at close time.
func (l *Listing) WinningBid() *Bid {
	if l.WinningBidID == "" {
		return nil
	}
	return l.FindBid(l.WinningBidID)
}

// Close moves an open listing to Closed and marks settlement pending.
// winner may be nil (auction without bids).
func (l *Listing) Close(winner *Bid, now time.Time) error {
	if !l.IsOpen() {
		return fmtInvalid("close", l)
	}
	l.Status = ListingStatusClosed
	l.Settlement = SettlementPending
	closed := now
	l.ClosedAt = &closed
	if winner != nil {
		l.WinnerID = winner.BidderID
		l.WinningBidID = winner.ID
	}
	return nil
}

// Cancel withdraws an open listing. Not allowed once any bid exists.
func (l *Listing) Cancel(callerID string, now time.Time) error {
	if callerID != l.OwnerID {
		return NewValidationError("ownerId", "only the owner can cancel a listing")
	}
	if !l.IsOpen() {
		return fmtInvalid("cancel", l)
	}
	if len(l.Bids) > 0 {
		return &invalidOperation{op: "cancel", reason: "listing already has bids"}
	}
	l.Status = ListingStatusCancelled
	cancelled := now
	l.ClosedAt = &cancelled
	return nil
}

// NeedsSettlement reports whether the commit protocol has work left.
func (l *Listing) NeedsSettlement() bool {
	return l.Status == ListingStatusClosed && l.Settlement == SettlementPending
}

type invalidOperation struct {
	op     string
	reason string
}

func (e *invalidOperation) Error() string { return "invalid operation " + e.op + ": " + e.reason }

func (e *invalidOperation) Is(target error) bool { return target == ErrInvalidOperation }

func fmtInvalid(op string, l *Listing) error {
	return &invalidOperation{op: op, reason: "listing " + l.ID + " is " + string(l.Status)}
}
