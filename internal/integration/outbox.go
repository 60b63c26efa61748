package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"credit_market/internal/clock"
	"credit_market/internal/domain"
	"credit_market/internal/infra/storage"

	"github.com/google/uuid"
)

// OutboxPublisher records integration events in the outbox table. The Relay
// delivers them to the broker afterwards.
type OutboxPublisher struct {
	store *storage.OutboxStore
	clock clock.Clock
}

func NewOutboxPublisher(store *storage.OutboxStore, clk clock.Clock) *OutboxPublisher {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &OutboxPublisher{store: store, clock: clk}
}

var _ domain.IntegrationPublisher = (*OutboxPublisher)(nil)

func (p *OutboxPublisher) Publish(ctx context.Context, events ...domain.IntegrationEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := p.clock.Now()
	recs := make([]storage.OutboxRecord, 0, len(events))
	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s: %w", ev.EventName(), err)
		}
		recs = append(recs, storage.OutboxRecord{
			ID:        uuid.NewString(),
			EventName: ev.EventName(),
			Key:       ev.PartitionKey(),
			Payload:   string(payload),
			// keeps batch order stable for the relay
			CreatedAt: now.Add(time.Duration(i)),
		})
	}
	return p.store.Enqueue(ctx, recs)
}
