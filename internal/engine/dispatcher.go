package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credit_market/internal/domain"

	"github.com/shopspring/decimal"
)

// Command is a user request routed through Dispatch.
type Command interface {
	Name() string
}

type PlaceBidCommand struct {
	ListingID string          `json:"listingId"`
	BidderID  string          `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
}

type BuyNowCommand struct {
	ListingID string `json:"listingId"`
	BuyerID   string `json:"-"`
}

type CreateListingCommand struct {
	OwnerID        string             `json:"-"`
	CreditID       string             `json:"creditId"`
	Type           domain.ListingType `json:"listingType"`
	PricePerUnit   decimal.Decimal    `json:"pricePerUnit"`
	Amount         decimal.Decimal    `json:"amount"`
	AuctionEndTime *time.Time         `json:"auctionEndTime,omitempty"`
}

type CancelListingCommand struct {
	ListingID string `json:"listingId"`
	CallerID  string `json:"-"`
}

// CloseExpiredCommand triggers an immediate sweep. It is an operator command and is
// never decoded from client messages.
type CloseExpiredCommand struct{}

func (PlaceBidCommand) Name() string      { return "placeBid" }
func (BuyNowCommand) Name() string        { return "buyNow" }
func (CreateListingCommand) Name() string { return "createListing" }
func (CancelListingCommand) Name() string { return "cancelListing" }
func (CloseExpiredCommand) Name() string  { return "closeExpired" }

// Result is the answer to one command. Reason carries the rejection code.
type Result struct {
	Command   string `json:"command"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	ListingID string `json:"listingId,omitempty"`
	BidID     string `json:"bidId,omitempty"`
	Closed    int    `json:"closed,omitempty"`
}

// Dispatch executes cmd and reports the outcome.
func (e *Engine) Dispatch(ctx context.Context, cmd Command) Result {
	res := Result{Command: cmd.Name()}
	var err error

	switch c := cmd.(type) {
	case PlaceBidCommand:
		var bid *domain.Bid
		if bid, err = e.PlaceBid(ctx, c.ListingID, c.BidderID, c.Amount); err == nil {
			res.ListingID, res.BidID = bid.ListingID, bid.ID
		}
	case BuyNowCommand:
		var l *domain.Listing
		if l, err = e.BuyNow(ctx, c.ListingID, c.BuyerID); l != nil {
			res.ListingID = l.ID
		}
		// The purchase is committed; only the settlement is still being retried.
		if errors.Is(err, domain.ErrSettlementPending) {
			res.Accepted = true
			res.Reason = domain.RejectionReason(err)
			res.Error = err.Error()
			return res
		}
	case CreateListingCommand:
		var l *domain.Listing
		l, err = e.CreateListing(ctx, domain.NewListingParams{
			OwnerID:        c.OwnerID,
			CreditID:       c.CreditID,
			Type:           c.Type,
			PricePerUnit:   c.PricePerUnit,
			Amount:         c.Amount,
			AuctionEndTime: c.AuctionEndTime,
		})
		if err == nil {
			res.ListingID = l.ID
		}
	case CancelListingCommand:
		err = e.CancelListing(ctx, c.ListingID, c.CallerID)
		res.ListingID = c.ListingID
	case CloseExpiredCommand:
		res.Closed, err = e.Sweep(ctx)
	default:
		slog.Warn("Unknown command type", slog.String("command", cmd.Name()))
		err = domain.NewValidationError("type", "unknown command "+cmd.Name())
	}

	if err != nil {
		res.Reason = domain.RejectionReason(err)
		res.Error = err.Error()
		return res
	}
	res.Accepted = true
	return res
}

// DecodeCommand parses a client message of the form {"type": "placeBid", ...}.
// The acting user always comes from the authenticated session, never from the payload.
func DecodeCommand(userID string, raw []byte) (Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, domain.NewValidationError("", "malformed command: "+err.Error())
	}
	if userID == "" {
		return nil, domain.NewValidationError("userId", "commands require an identified user")
	}

	switch head.Type {
	case "placeBid":
		var c PlaceBidCommand
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, decodeErr(head.Type, err)
		}
		c.BidderID = userID
		return c, nil
	case "buyNow":
		var c BuyNowCommand
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, decodeErr(head.Type, err)
		}
		c.BuyerID = userID
		return c, nil
	case "createListing":
		var c CreateListingCommand
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, decodeErr(head.Type, err)
		}
		c.OwnerID = userID
		return c, nil
	case "cancelListing":
		var c CancelListingCommand
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, decodeErr(head.Type, err)
		}
		c.CallerID = userID
		return c, nil
	default:
		return nil, domain.NewValidationError("type", fmt.Sprintf("unknown command %q", head.Type))
	}
}

func decodeErr(kind string, err error) error {
	return domain.NewValidationError("", "malformed "+kind+": "+err.Error())
}

// HandleCommand decodes a raw client message and dispatches it for userID.
func (e *Engine) HandleCommand(ctx context.Context, userID string, raw []byte) Result {
	cmd, err := DecodeCommand(userID, raw)
	if err != nil {
		return Result{Reason: domain.RejectionReason(err), Error: err.Error()}
	}
	return e.Dispatch(ctx, cmd)
}
