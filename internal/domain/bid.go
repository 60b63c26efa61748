package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidInput is a bid under evaluation. IDs are assigned by the caller so that the
// evaluation itself stays free of side effects.
type BidInput struct {
	BidID           string
	BidderID        string
	Amount          decimal.Decimal
	ReservationID   string
	Now             time.Time
	ExtensionWindow time.Duration
}

// BidDecision is the outcome of an accepted evaluation, ready to be applied.
type BidDecision struct {
	Bid        Bid
	Previous   *Bid       // displaced leader, nil for the first bid
	NewEndTime *time.Time // set when the anti-snipe rule fired
}

// EvaluateBid validates a bid against the listing's current state.
// Solvency is confirmed separately against the balance boundary.
func EvaluateBid(l *Listing, in BidInput) (BidDecision, error) {
	if !l.IsOpen() {
		return BidDecision{}, fmtInvalid("bid", l)
	}
	if !l.IsAuction() {
		return BidDecision{}, &invalidOperation{op: "bid", reason: "listing " + l.ID + " is not an auction"}
	}
	if l.Expired(in.Now) {
		return BidDecision{}, NewValidationError("auctionEndTime", "auction has ended")
	}
	if in.BidderID == "" {
		return BidDecision{}, NewValidationError("bidderId", "required")
	}
	if in.BidderID == l.OwnerID {
		return BidDecision{}, NewValidationError("bidderId", "owner cannot bid on own listing")
	}
	if !in.Amount.IsPositive() {
		return BidDecision{}, NewValidationError("amount", "must be positive")
	}

	prev := l.HighestBid()
	if prev != nil {
		if !in.Amount.GreaterThan(prev.Amount) {
			return BidDecision{}, NewValidationError("amount",
				"must be greater than current highest bid "+prev.Amount.String())
		}
	} else if in.Amount.LessThan(l.OpeningPrice()) {
		return BidDecision{}, NewValidationError("amount",
			"must be at least the opening price "+l.OpeningPrice().String())
	}

	d := BidDecision{
		Bid: Bid{
			ID:            in.BidID,
			ListingID:     l.ID,
			BidderID:      in.BidderID,
			Amount:        in.Amount,
			SubmittedAt:   in.Now,
			ReservationID: in.ReservationID,
			Seq:           len(l.Bids) + 1,
		},
	}
	if prev != nil {
		p := *prev
		d.Previous = &p
	}

	// Anti-snipe: a bid inside the window pushes the end out by one window.
	if in.ExtensionWindow > 0 && l.AuctionEndTime.Sub(in.Now) < in.ExtensionWindow {
		end := l.AuctionEndTime.Add(in.ExtensionWindow)
		d.NewEndTime = &end
	}
	return d, nil
}

// ApplyBid records an accepted decision on the listing and returns the events it raised,
// in emission order.
func (l *Listing) ApplyBid(d BidDecision) []Event {
	l.Bids = append(l.Bids, d.Bid)

	events := make([]Event, 0, 3)
	placed := BidPlaced{
		ListingID: l.ID,
		BidID:     d.Bid.ID,
		BidderID:  d.Bid.BidderID,
		Amount:    d.Bid.Amount,
		PlacedAt:  d.Bid.SubmittedAt,
	}
	if d.Previous != nil {
		placed.PreviousLeaderID = d.Previous.BidderID
	}
	events = append(events, placed)

	if d.Previous != nil && d.Previous.BidderID != d.Bid.BidderID {
		events = append(events, BidOutbid{
			ListingID:      l.ID,
			OutbidUserID:   d.Previous.BidderID,
			NewLeaderID:    d.Bid.BidderID,
			Amount:         d.Bid.Amount,
			PreviousAmount: d.Previous.Amount,
		})
	}

	if d.NewEndTime != nil {
		end := *d.NewEndTime
		l.AuctionEndTime = &end
		events = append(events, AuctionExtended{ListingID: l.ID, NewEndTime: end})
	}
	return events
}

// RecordPurchase stores the single purchase bid of a fixed-price listing and closes it.
func (l *Listing) RecordPurchase(purchase Bid, now time.Time) error {
	if l.Type != ListingTypeFixedPrice {
		return &invalidOperation{op: "buy", reason: "listing " + l.ID + " is not fixed-price"}
	}
	if purchase.BidderID == l.OwnerID {
		return NewValidationError("buyerId", "owner cannot buy own listing")
	}
	if !l.IsOpen() {
		return fmtInvalid("buy", l)
	}
	purchase.Seq = len(l.Bids) + 1
	l.Bids = append(l.Bids, purchase)
	return l.Close(&l.Bids[len(l.Bids)-1], now)
}
