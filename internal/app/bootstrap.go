package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"credit_market/internal/engine"
	"credit_market/internal/infra"
	"credit_market/internal/infra/lock"
	"credit_market/internal/infra/session"
	"credit_market/internal/infra/storage"
	"credit_market/internal/integration"
	"credit_market/internal/inventory"
	"credit_market/internal/ledger"
	"credit_market/internal/notify"

	goredislib "github.com/redis/go-redis/v9"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Outbox    *storage.OutboxStore
	Balances  *ledger.Service
	Inventory *inventory.Service
	Breakers  *infra.Breakers
	Hub       *notify.Hub
	Engine    *engine.Engine
	Relay     *integration.Relay

	producer integration.Producer
	redis    goredislib.UniversalClient
	server   *http.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the configuration at configPath and wires every component.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("Bootstrapping credit market...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	return b.InitializeWith(cfg)
}

// InitializeWith wires every component from an already loaded configuration.
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Storage
	store, err := storage.NewStorage(cfg.Database.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	b.Outbox = storage.NewOutboxStore(store)
	slog.Info("Database initialized")

	// 4. Balance and inventory boundaries behind circuit breakers
	b.Balances = ledger.NewService(store)
	b.Inventory = inventory.NewService(store)
	b.Breakers = infra.NewBreakers(infra.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}, infra.GlobalMetrics)

	// 5. Listing lock
	locker, err := b.newLocker(cfg)
	if err != nil {
		return err
	}

	// 6. Real-time hub. Its command handler reaches the engine built below.
	hubOpts := []notify.Option{
		notify.WithClientBuffer(cfg.Notify.ClientBuffer),
		notify.WithCommandHandler(func(ctx context.Context, userID string, raw []byte) any {
			return b.Engine.HandleCommand(ctx, userID, raw)
		}),
		notify.WithSubscribeHook(func(ctx context.Context, userID string) {
			b.Engine.WarmUp(ctx, userID)
		}),
	}
	if cfg.Notify.SessionSecret != "" {
		hubOpts = append(hubOpts, notify.WithAuthenticator(session.NewSigner(cfg.Notify.SessionSecret)))
	} else {
		slog.Warn("No session secret configured, websocket users are taken from the query string")
	}
	b.Hub = notify.NewHub(1024, hubOpts...)

	// 7. Engine
	b.Engine = engine.New(
		storage.NewListingStore(store),
		engine.NewGuardedBalances(b.Balances, b.Breakers),
		engine.NewGuardedInventory(b.Inventory, b.Breakers),
		locker,
		engine.WithSettings(engine.Settings{
			ExtensionWindow:   cfg.Auction.ExtensionWindow,
			SweepInterval:     cfg.Auction.SweepInterval,
			SweepBatch:        cfg.Auction.SweepBatch,
			SettleMaxAttempts: cfg.Auction.SettleMaxAttempts,
			SettleBaseDelay:   cfg.Auction.SettleBaseDelay,
			SettleMaxDelay:    cfg.Auction.SettleMaxDelay,
			EscalateAfter:     cfg.Auction.EscalateAfter,
		}),
		engine.WithNotifier(b.Hub),
		engine.WithPublisher(integration.NewOutboxPublisher(b.Outbox, nil)),
	)

	// 8. Outbox relay
	if cfg.Kafka.Enabled {
		b.producer = integration.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		b.Relay = integration.NewRelay(b.Outbox, b.producer, integration.RelayConfig{
			PollInterval: cfg.Kafka.PollInterval,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
		}, infra.GlobalMetrics)
		slog.Info("Kafka relay configured", slog.Any("brokers", cfg.Kafka.Brokers), slog.String("topic", cfg.Kafka.Topic))
	} else {
		slog.Info("Kafka disabled, integration events stay in the outbox")
	}

	b.server = &http.Server{
		Addr:              cfg.Notify.ListenAddr,
		Handler:           b.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

func (b *Bootstrap) newLocker(cfg *infra.Config) (lock.Locker, error) {
	if cfg.Lock.Backend != "redis" {
		slog.Info("Using in-process listing locks")
		return lock.NewLocalLocker(cfg.Lock.Wait), nil
	}

	client := goredislib.NewClient(&goredislib.Options{Addr: cfg.Lock.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	b.redis = client
	slog.Info("Using redis listing locks", slog.String("addr", cfg.Lock.RedisAddr))
	return lock.NewRedisLocker(client, cfg.Lock.Expiry, cfg.Lock.Wait), nil
}

func (b *Bootstrap) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.Hub.ServeWS)
	mux.HandleFunc("/healthz", b.handleHealth)
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, infra.GlobalMetrics.Snapshot())
	})
	return mux
}

type healthReport struct {
	Status   string            `json:"status"`
	Circuits map[string]string `json:"circuits"`
	Outbox   map[string]int64  `json:"outbox"`
}

func (b *Bootstrap) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{
		Status: "ok",
		Circuits: map[string]string{
			"balance":   b.Breakers.State("balance"),
			"inventory": b.Breakers.State("inventory"),
		},
		Outbox: make(map[string]int64),
	}
	for _, status := range []string{storage.OutboxStatusPending, storage.OutboxStatusDead} {
		n, err := b.Outbox.CountByStatus(r.Context(), status)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthReport{Status: "storage unavailable"})
			return
		}
		report.Outbox[status] = n
	}
	for _, state := range report.Circuits {
		if state == "open" {
			report.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", slog.Any("error", err))
	}
}

// Run starts the background loops and the HTTP server, and blocks until ctx is
// cancelled and everything has stopped.
func (b *Bootstrap) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	var wg sync.WaitGroup

	wg.Add(2)
	go func() { defer wg.Done(); b.Hub.Run(ctx) }()
	go func() { defer wg.Done(); b.Engine.Run(ctx) }()
	if b.Relay != nil {
		wg.Add(1)
		go func() { defer wg.Done(); b.Relay.Run(ctx) }()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.String("addr", b.server.Addr))
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		slog.Error("HTTP server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := b.server.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("HTTP shutdown incomplete", slog.Any("error", shutdownErr))
	}
	stop()
	wg.Wait()
	return err
}

// Close releases external resources.
func (b *Bootstrap) Close() {
	if b.producer != nil {
		if err := b.producer.Close(); err != nil {
			slog.Error("Failed to close kafka producer", slog.Any("error", err))
		}
	}
	if b.redis != nil {
		b.redis.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close storage", slog.Any("error", err))
		}
	}
}
