package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"credit_market/internal/domain"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// RedisLocker is a Locker shared by every instance pointed at the same Redis.
type RedisLocker struct {
	rs         *redsync.Redsync
	expiry     time.Duration
	wait       time.Duration
	retryDelay time.Duration
}

// NewRedisLocker builds a redsync-backed locker on client. expiry bounds how long a
// crashed holder can block the key; wait bounds how long WithLock tries to acquire.
func NewRedisLocker(client goredislib.UniversalClient, expiry, wait time.Duration) *RedisLocker {
	if expiry <= 0 {
		expiry = 10 * time.Second
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &RedisLocker{
		rs:         redsync.New(goredis.NewPool(client)),
		expiry:     expiry,
		wait:       wait,
		retryDelay: 50 * time.Millisecond,
	}
}

var _ Locker = (*RedisLocker)(nil)

func (r *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return domain.NewValidationError("lockKey", "required")
	}
	tries := int(r.wait/r.retryDelay) + 1

	mutex := r.rs.NewMutex(key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(r.retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return fmt.Errorf("lock %s busy: %w", key, domain.ErrConcurrencyConflict)
		}
		return domain.NewServiceError("lock", "acquire", err)
	}

	defer func() {
		// A background ctx lets the unlock go out even when the caller gave up.
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			slog.Error("Failed to release lock",
				slog.String("key", key), slog.Bool("unlock_ok", ok), slog.Any("error", err))
		}
	}()

	return fn(ctx)
}

func isContention(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		strings.Contains(err.Error(), "lock already taken")
}
