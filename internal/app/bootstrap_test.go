package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"credit_market/internal/domain"
	"credit_market/internal/infra"
	"credit_market/internal/notify"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func testConfig(t *testing.T) *infra.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := infra.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "market.db")
	cfg.Logging.Dir = filepath.Join(dir, "logs")
	cfg.Logging.Level = "error"
	cfg.Notify.ListenAddr = "127.0.0.1:0"
	return cfg
}

func TestInitializeWith_Health(t *testing.T) {
	b := NewBootstrap()
	if err := b.InitializeWith(testConfig(t)); err != nil {
		t.Fatalf("InitializeWith failed: %v", err)
	}
	t.Cleanup(b.Close)

	if b.Relay != nil {
		t.Error("expected no relay while kafka is disabled")
	}

	srv := httptest.NewServer(b.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || report.Status != "ok" || report.Circuits["balance"] != "closed" {
		t.Errorf("unexpected health report %d %+v", resp.StatusCode, report)
	}
}

func TestInitializeWith_RedisLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Lock.Backend = "redis"
	cfg.Lock.RedisAddr = mr.Addr()

	b := NewBootstrap()
	if err := b.InitializeWith(cfg); err != nil {
		t.Fatalf("InitializeWith failed: %v", err)
	}
	t.Cleanup(b.Close)
	if b.redis == nil {
		t.Fatal("expected a redis client")
	}

	cfg = testConfig(t)
	cfg.Lock.Backend = "redis"
	cfg.Lock.RedisAddr = "127.0.0.1:1"
	if err := NewBootstrap().InitializeWith(cfg); err == nil {
		t.Error("expected startup to fail when redis is unreachable")
	}
}

// A bid sent over the websocket is evaluated by the engine and broadcast back.
func TestBidOverWebsocket(t *testing.T) {
	b := NewBootstrap()
	if err := b.InitializeWith(testConfig(t)); err != nil {
		t.Fatalf("InitializeWith failed: %v", err)
	}
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Hub.Run(ctx)

	if _, err := b.Inventory.Issue(ctx, "lot-1", "seller", decimal.NewFromInt(100), "seed"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := b.Balances.Deposit(ctx, "alice", decimal.NewFromInt(50), "fund"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	end := time.Now().Add(time.Hour)
	l, err := b.Engine.CreateListing(ctx, domain.NewListingParams{
		OwnerID: "seller", CreditID: "lot-1", Type: domain.ListingTypeAuction,
		PricePerUnit: decimal.NewFromInt(1), Amount: decimal.NewFromInt(10), AuctionEndTime: &end,
	})
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}

	srv := httptest.NewServer(b.routes())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?listing=" + l.ID + "&user=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.Hub.Subscribers(notify.AuctionGroup(l.ID)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"placeBid","listingId":"`+l.ID+`","amount":20}`))

	seen := map[string]bool{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(seen[notify.NameBidPlaced] && seen[notify.NameCommandResult]) {
		var msg notify.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed after %v: %v", seen, err)
		}
		seen[msg.Event] = true
		if msg.Event == notify.NameCommandResult {
			var res struct {
				Accepted bool   `json:"accepted"`
				Reason   string `json:"reason"`
			}
			json.Unmarshal(msg.Data, &res)
			if !res.Accepted {
				t.Fatalf("expected bid accepted, got %s", msg.Data)
			}
		}
	}

	bal, _ := b.Balances.Balance(ctx, "alice")
	if !bal.Reserved.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected 20 reserved, got %s", bal.Reserved)
	}
}
