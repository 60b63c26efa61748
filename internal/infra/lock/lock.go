package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"credit_market/internal/domain"
)

// Locker serializes work per key. fn runs only while the caller holds the key.
// Failing to get the key within the wait budget returns domain.ErrConcurrencyConflict.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// ListingKey is the lock key of a listing.
func ListingKey(listingID string) string {
	return "lock:listing:" + listingID
}

type entry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	wait time.Duration

	mu   sync.Mutex
	keys map[string]*entry
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &LocalLocker{wait: wait, keys: make(map[string]*entry)}
}

var _ Locker = (*LocalLocker)(nil)

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.acquireRef(key)
	defer l.releaseRef(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("lock %s busy: %w", key, domain.ErrConcurrencyConflict)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}

// Held reports whether key is currently taken.
func (l *LocalLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	return ok && len(e.sem) > 0
}

func (l *LocalLocker) acquireRef(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *LocalLocker) releaseRef(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.keys[key]
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}
