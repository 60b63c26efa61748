package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"credit_market/internal/domain"
	"credit_market/internal/infra"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		raw     string
		want    string
		wantErr bool
	}{
		{"place bid", "alice", `{"type":"placeBid","listingId":"L1","amount":"12.5"}`, "placeBid", false},
		{"numeric amount", "alice", `{"type":"placeBid","listingId":"L1","amount":12.5}`, "placeBid", false},
		{"buy now", "bob", `{"type":"buyNow","listingId":"L1"}`, "buyNow", false},
		{"cancel", "seller", `{"type":"cancelListing","listingId":"L1"}`, "cancelListing", false},
		{"unknown", "alice", `{"type":"withdraw"}`, "", true},
		{"sweep is operator only", "alice", `{"type":"closeExpired"}`, "", true},
		{"anonymous", "", `{"type":"placeBid","listingId":"L1","amount":1}`, "", true},
		{"garbage", "alice", `not json`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand(tt.user, []byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCommand failed: %v", err)
			}
			if cmd.Name() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, cmd.Name())
			}
		})
	}

	// The session user wins over anything in the payload.
	cmd, _ := DecodeCommand("alice", []byte(`{"type":"placeBid","listingId":"L1","amount":5,"BidderID":"mallory"}`))
	if pb := cmd.(PlaceBidCommand); pb.BidderID != "alice" || !pb.Amount.Equal(d(5)) {
		t.Errorf("unexpected command %+v", pb)
	}
}

func TestDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "seller", "lot-1", 500)
	f.fund(t, "alice", 100)

	end := t0.Add(time.Hour)
	res := f.engine.Dispatch(ctx, CreateListingCommand{
		OwnerID: "seller", CreditID: "lot-1", Type: domain.ListingTypeAuction,
		PricePerUnit: d(10), Amount: d(50), AuctionEndTime: &end,
	})
	if !res.Accepted || res.ListingID == "" {
		t.Fatalf("expected listing to be created, got %+v", res)
	}
	listingID := res.ListingID

	res = f.engine.Dispatch(ctx, PlaceBidCommand{ListingID: listingID, BidderID: "alice", Amount: d(20)})
	if !res.Accepted || res.BidID == "" {
		t.Errorf("expected bid accepted, got %+v", res)
	}

	res = f.engine.Dispatch(ctx, PlaceBidCommand{ListingID: listingID, BidderID: "alice", Amount: d(15)})
	if res.Accepted || res.Reason != "validation_error" {
		t.Errorf("expected validation rejection, got %+v", res)
	}

	res = f.engine.Dispatch(ctx, CancelListingCommand{ListingID: listingID, CallerID: "seller"})
	if res.Accepted || res.Reason != "invalid_operation" {
		t.Errorf("expected cancel with bids to be rejected, got %+v", res)
	}

	f.clock.Set(end)
	res = f.engine.Dispatch(ctx, CloseExpiredCommand{})
	if !res.Accepted || res.Closed != 1 {
		t.Errorf("expected one auction closed, got %+v", res)
	}
}

func TestGuards_WrapOutages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 100)

	breakers := infra.NewBreakers(infra.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, nil)
	guarded := NewGuardedBalances(f.balances, breakers)

	// Business errors pass through and never open the circuit.
	for i := 0; i < 3; i++ {
		err := guarded.Reserve(ctx, "alice", d(1000), "too-much")
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds, got %v", err)
		}
	}
	if breakers.State("balance") != "closed" {
		t.Fatalf("expected closed breaker, got %s", breakers.State("balance"))
	}

	f.fund(t, "bob", 10)
	guarded.Reserve(ctx, "bob", d(10), "r-bob")
	f.balances.commitFailures.Store(5)
	for i := 0; i < 2; i++ {
		guarded.Commit(ctx, "bob", "r-bob")
	}
	err := guarded.Commit(ctx, "bob", "r-bob")
	if !errors.Is(err, domain.ErrServiceUnavailable) || !domain.IsRetriable(err) {
		t.Errorf("expected open-circuit ServiceError, got %v", err)
	}
	if f.balances.commitFailures.Load() != 3 {
		t.Errorf("expected the open circuit to skip the call, %d failures left", f.balances.commitFailures.Load())
	}

	ok, err := guarded.CanWithdraw(ctx, "alice", d(10))
	if err == nil || ok {
		t.Errorf("expected the open balance circuit to reject CanWithdraw, got ok=%v err=%v", ok, err)
	}
}

func TestClassify(t *testing.T) {
	plain := errors.New("disk I/O error")
	err := classify("inventory", "lock", plain)
	var se *domain.ServiceError
	if !errors.As(err, &se) || se.Service != "inventory" || !errors.Is(err, plain) {
		t.Errorf("expected infrastructure errors to become ServiceError, got %v", err)
	}

	biz := &domain.InsufficientInventoryError{CreditID: "lot"}
	if got := classify("inventory", "lock", biz); got != error(biz) {
		t.Errorf("expected business errors untouched, got %v", got)
	}
	if classify("inventory", "lock", nil) != nil {
		t.Error("expected nil to stay nil")
	}
}

func TestHandleCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.engine.HandleCommand(ctx, "alice", []byte(`{"type":"placeBid","listingId":"missing","amount":5}`))
	if res.Accepted || res.Command != "placeBid" || res.Reason != "not_found" {
		t.Errorf("expected not_found rejection, got %+v", res)
	}

	res = f.engine.HandleCommand(ctx, "", []byte(`{"type":"buyNow","listingId":"L1"}`))
	if res.Accepted || res.Reason != "validation_error" {
		t.Errorf("expected anonymous command to be rejected, got %+v", res)
	}
}

func TestDispatch_BuyNowPendingSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "seller", "lot-1", 500)
	f.fund(t, "buyer", 250)

	l, err := f.engine.CreateListing(ctx, domain.NewListingParams{
		OwnerID: "seller", CreditID: "lot-1", Type: domain.ListingTypeFixedPrice,
		PricePerUnit: d(2), Amount: d(100),
	})
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}

	f.balances.commitFailures.Store(100)
	res := f.engine.Dispatch(ctx, BuyNowCommand{ListingID: l.ID, BuyerID: "buyer"})
	if !res.Accepted || res.Reason != "settlement_pending" || res.ListingID != l.ID {
		t.Fatalf("expected an accepted purchase pending settlement, got %+v", res)
	}
	f.expectBalance(t, "buyer", 50, 200)

	res = f.engine.Dispatch(ctx, BuyNowCommand{ListingID: l.ID, BuyerID: "buyer"})
	if res.Accepted || res.Reason != "invalid_operation" {
		t.Errorf("expected a second purchase to be rejected, got %+v", res)
	}

	f.balances.commitFailures.Store(0)
	f.engine.Sweep(ctx)
	got, _ := f.engine.GetListing(ctx, l.ID)
	if got.Settlement != domain.SettlementSettled {
		t.Errorf("expected the sweep to finish the purchase, got %s", got.Settlement)
	}
	f.expectBalance(t, "buyer", 50, 0)
	f.expectBalance(t, "seller", 200, 0)
}

func TestHandleCommand_SweepNotExposed(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "seller", "lot-1", 500)
	l := f.auction(t, 100, 10, time.Hour)
	f.clock.Advance(2 * time.Hour)

	res := f.engine.HandleCommand(context.Background(), "alice", []byte(`{"type":"closeExpired"}`))
	if res.Accepted || res.Reason != "validation_error" {
		t.Errorf("expected clients to be refused a sweep, got %+v", res)
	}
	if got, _ := f.engine.GetListing(context.Background(), l.ID); !got.IsOpen() {
		t.Errorf("expected the listing untouched, got %s", got.Status)
	}
}
