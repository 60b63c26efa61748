package integration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"credit_market/internal/clock"
	"credit_market/internal/infra"
	"credit_market/internal/infra/storage"

	"github.com/segmentio/kafka-go"
)

const headerEventType = "event-type"

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Relay moves pending outbox records to the broker. Delivery is at least once:
// a crash between the write and MarkPublished sends the record again.
type Relay struct {
	store    *storage.OutboxStore
	producer Producer
	cfg      RelayConfig
	clock    clock.Clock
	metrics  *infra.Metrics
}

func NewRelay(store *storage.OutboxStore, producer Producer, cfg RelayConfig, metrics *infra.Metrics) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Relay{store: store, producer: producer, cfg: cfg, clock: clock.NewSystem(), metrics: metrics}
}

// Run polls the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	slog.Info("Outbox relay started", slog.Duration("interval", r.cfg.PollInterval))
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Outbox flush failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			slog.Info("Outbox relay stopping...")
			return
		case <-ticker.C:
		}
	}
}

// Flush relays one batch and returns how many records were published. It stops
// at the first failure so later events for the same key are not sent ahead of it.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	recs, err := r.store.FetchPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range recs {
		msg := kafka.Message{
			Key:   []byte(rec.Key),
			Value: []byte(rec.Payload),
			Headers: []kafka.Header{
				{Key: headerEventType, Value: []byte(rec.EventName)},
			},
		}
		if err := r.producer.WriteMessage(ctx, msg); err != nil {
			r.metrics.RecordRelay(false)
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			slog.Warn("Integration event not delivered",
				slog.String("id", rec.ID),
				slog.String("event", rec.EventName),
				slog.Int("attempt", rec.Attempts+1),
				slog.Any("error", err),
			)
			if markErr := r.store.MarkFailed(ctx, rec.ID, err, r.cfg.MaxAttempts); markErr != nil {
				return sent, markErr
			}
			if r.cfg.MaxAttempts > 0 && rec.Attempts+1 >= r.cfg.MaxAttempts {
				slog.Error("INTEGRATION_EVENT_DEAD", slog.String("id", rec.ID), slog.String("event", rec.EventName))
			}
			return sent, err
		}
		r.metrics.RecordRelay(true)
		if err := r.store.MarkPublished(ctx, rec.ID, r.clock.Now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
