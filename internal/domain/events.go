package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a domain event.
type EventType string

const (
	EventBidPlaced                   EventType = "BidPlaced"
	EventBidOutbid                   EventType = "BidOutbid"
	EventAuctionExtended             EventType = "AuctionExtended"
	EventAuctionCompleted            EventType = "AuctionCompleted"
	EventAuctionCompletedWithoutBids EventType = "AuctionCompletedWithoutBids"
	EventListingCancelled            EventType = "ListingCancelled"
	EventListingPurchased            EventType = "ListingPurchased"
)

// Event is a domain event raised by a listing. All events of one listing are
// emitted in the order of the operations that produced them.
type Event interface {
	Type() EventType
	AggregateID() string
}

type BidPlaced struct {
	ListingID        string          `json:"listingId"`
	BidID            string          `json:"bidId"`
	BidderID         string          `json:"bidderId"`
	Amount           decimal.Decimal `json:"amount"`
	PreviousLeaderID string          `json:"previousLeaderId,omitempty"`
	PlacedAt         time.Time       `json:"placedAt"`
}

func (BidPlaced) Type() EventType        { return EventBidPlaced }
func (e BidPlaced) AggregateID() string { return e.ListingID }

// BidOutbid is raised when a leader is displaced by a different bidder.
type BidOutbid struct {
	ListingID      string          `json:"listingId"`
	OutbidUserID   string          `json:"outbidUserId"`
	NewLeaderID    string          `json:"newLeaderId"`
	Amount         decimal.Decimal `json:"amount"`
	PreviousAmount decimal.Decimal `json:"previousAmount"`
}

func (BidOutbid) Type() EventType        { return EventBidOutbid }
func (e BidOutbid) AggregateID() string { return e.ListingID }

type AuctionExtended struct {
	ListingID  string    `json:"listingId"`
	NewEndTime time.Time `json:"newEndTime"`
}

func (AuctionExtended) Type() EventType        { return EventAuctionExtended }
func (e AuctionExtended) AggregateID() string { return e.ListingID }

type AuctionCompleted struct {
	ListingID string          `json:"listingId"`
	WinnerID  string          `json:"winnerId"`
	OwnerID   string          `json:"ownerId"`
	Amount    decimal.Decimal `json:"amount"`
}

func (AuctionCompleted) Type() EventType        { return EventAuctionCompleted }
func (e AuctionCompleted) AggregateID() string { return e.ListingID }

type AuctionCompletedWithoutBids struct {
	ListingID string `json:"listingId"`
	OwnerID   string `json:"ownerId"`
}

func (AuctionCompletedWithoutBids) Type() EventType        { return EventAuctionCompletedWithoutBids }
func (e AuctionCompletedWithoutBids) AggregateID() string { return e.ListingID }

type ListingCancelled struct {
	ListingID string `json:"listingId"`
	OwnerID   string `json:"ownerId"`
}

func (ListingCancelled) Type() EventType        { return EventListingCancelled }
func (e ListingCancelled) AggregateID() string { return e.ListingID }

// ListingPurchased is raised once a fixed-price purchase is settled.
type ListingPurchased struct {
	ListingID string          `json:"listingId"`
	BuyerID   string          `json:"buyerId"`
	OwnerID   string          `json:"ownerId"`
	Amount    decimal.Decimal `json:"amount"`
}

func (ListingPurchased) Type() EventType        { return EventListingPurchased }
func (e ListingPurchased) AggregateID() string { return e.ListingID }
