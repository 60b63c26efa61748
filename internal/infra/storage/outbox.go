package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxStore persists integration events until the relay has handed them to the broker.
type OutboxStore struct {
	s *Storage
}

func NewOutboxStore(s *Storage) *OutboxStore {
	return &OutboxStore{s: s}
}

// Enqueue stores records as pending. Re-enqueueing an id is a no-op.
func (o *OutboxStore) Enqueue(ctx context.Context, recs []OutboxRecord) error {
	if len(recs) == 0 {
		return nil
	}
	for i := range recs {
		if recs[i].Status == "" {
			recs[i].Status = OutboxStatusPending
		}
	}
	return o.s.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&recs).Error; err != nil {
			return fmt.Errorf("enqueue outbox: %w", err)
		}
		return nil
	})
}

// FetchPending returns the oldest pending records.
func (o *OutboxStore) FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	var recs []OutboxRecord
	err := o.s.DB(ctx).
		Where("status = ?", OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	return recs, nil
}

// MarkPublished flags a record as delivered.
func (o *OutboxStore) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return o.s.DB(ctx).Model(&OutboxRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": OutboxStatusPublished, "published_at": at}).Error
}

// MarkFailed records a delivery failure. After maxAttempts the record is parked as dead.
func (o *OutboxStore) MarkFailed(ctx context.Context, id string, cause error, maxAttempts int) error {
	return o.s.WithTx(ctx, func(tx *gorm.DB) error {
		var rec OutboxRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return err
		}
		rec.Attempts++
		rec.LastError = cause.Error()
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			rec.Status = OutboxStatusDead
		}
		return tx.Model(&OutboxRecord{}).Where("id = ?", id).Updates(map[string]any{
			"attempts":   rec.Attempts,
			"last_error": rec.LastError,
			"status":     rec.Status,
		}).Error
	})
}

// CountByStatus is used by health reporting and tests.
func (o *OutboxStore) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := o.s.DB(ctx).Model(&OutboxRecord{}).Where("status = ?", status).Count(&n).Error
	return n, err
}
