package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"credit_market/internal/domain"
)

func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 5 * time.Second},  // capped
		{100, 5 * time.Second}, // still capped
		{-1, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := CalculateBackoff(base, 5*time.Second, tt.attempt); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateBackoffWithJitter(t *testing.T) {
	for i := 0; i < 50; i++ {
		got := CalculateBackoffWithJitter(100*time.Millisecond, time.Second, 2)
		if got < 200*time.Millisecond || got > 400*time.Millisecond {
			t.Fatalf("jittered delay %v out of [200ms, 400ms]", got)
		}
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepWithContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBreakers_OpensOnOutagesOnly(t *testing.T) {
	m := &Metrics{}
	b := NewBreakers(BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, m)

	// Business rejections never trip the circuit.
	for i := 0; i < 5; i++ {
		err := b.Do("balance", "reserve", func() error {
			return &domain.InsufficientFundsError{UserID: "u"}
		})
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("expected the rejection to pass through, got %v", err)
		}
	}
	if b.State("balance") != "closed" {
		t.Fatalf("expected closed breaker, got %s", b.State("balance"))
	}

	outage := domain.NewServiceError("balance", "reserve", errors.New("connection refused"))
	for i := 0; i < 2; i++ {
		b.Do("balance", "reserve", func() error { return outage })
	}
	if b.State("balance") != "open" {
		t.Fatalf("expected open breaker, got %s", b.State("balance"))
	}
	if !m.Snapshot().CircuitOpen {
		t.Error("expected metrics to report the open circuit")
	}

	called := false
	err := b.Do("balance", "reserve", func() error { called = true; return nil })
	if called {
		t.Error("expected the open breaker to short-circuit the call")
	}
	if !errors.Is(err, domain.ErrServiceUnavailable) || !domain.IsRetriable(err) {
		t.Errorf("expected a retriable ServiceError, got %v", err)
	}

	// Other boundaries have their own breaker.
	if err := b.Do("inventory", "lock", func() error { return nil }); err != nil {
		t.Errorf("expected inventory breaker to be closed, got %v", err)
	}
}
