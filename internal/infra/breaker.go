package infra

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"credit_market/internal/domain"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        // consecutive failures that open the circuit
	OpenTimeout time.Duration // time spent open before probing again
	MaxRequests uint32        // probes allowed while half-open
}

// Breakers hands out one circuit breaker per external boundary. Only outages count
// as failures: business rejections such as insufficient funds pass through untouched.
type Breakers struct {
	cfg     BreakerConfig
	metrics *Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakers(cfg BreakerConfig, metrics *Metrics) *Breakers {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	return &Breakers{
		cfg:      cfg,
		metrics:  metrics,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *Breakers) get(service string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[service]; ok {
		return cb
	}
	trip := b.cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "service-" + service,
		MaxRequests: b.cfg.MaxRequests,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrServiceUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if b.metrics != nil {
				b.metrics.SetCircuitState(to == gobreaker.StateOpen)
			}
		},
	})
	b.breakers[service] = cb
	return cb
}

// Do runs fn through the breaker of service. A rejected call surfaces as a
// retriable *domain.ServiceError.
func (b *Breakers) Do(service, op string, fn func() error) error {
	_, err := b.get(service).Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewServiceError(service, op, err)
	}
	return err
}

// State reports the current state name of service's breaker.
func (b *Breakers) State(service string) string {
	return b.get(service).State().String()
}
