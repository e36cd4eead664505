package workflow

import (
	"context"
	"testing"
	"time"
)

func TestRetryWithBreaker_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	b := newBreaker("fake", DefaultBreakerConfig())
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	attempts, err := retryWithBreaker(context.Background(), cfg, b, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected exactly 1 attempt, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestRetryWithBreaker_RetriesUpToMaxAttempts(t *testing.T) {
	b := newBreaker("fake", BreakerConfig{FailureThreshold: 100, RecoveryTimeout: time.Hour, MonitoringPeriod: time.Minute})
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	_, err := retryWithBreaker(context.Background(), cfg, b, func(ctx context.Context) error {
		calls++
		return Wrap(ErrNetwork, "connection reset", nil)
	})
	if err == nil {
		t.Fatal("expected the final attempt's error to be returned")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryWithBreaker_StopsEarlyOnNonRetriableError(t *testing.T) {
	b := newBreaker("fake", BreakerConfig{FailureThreshold: 100, RecoveryTimeout: time.Hour, MonitoringPeriod: time.Minute})
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	_, err := retryWithBreaker(context.Background(), cfg, b, func(ctx context.Context) error {
		calls++
		return NewError(ErrValidationFailed, "bad input")
	})
	if !IsKind(err, ErrValidationFailed) {
		t.Fatalf("expected VALIDATION_FAILED to propagate, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a non-retriable error to stop after 1 attempt, got %d", calls)
	}
}

func TestRetryWithBreaker_AbortsOnContextCancellation(t *testing.T) {
	b := newBreaker("fake", BreakerConfig{FailureThreshold: 100, RecoveryTimeout: time.Hour, MonitoringPeriod: time.Minute})
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := retryWithBreaker(ctx, cfg, b, func(ctx context.Context) error {
		calls++
		return Wrap(ErrNetwork, "connection reset", nil)
	})
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if calls >= 5 {
		t.Fatalf("expected cancellation to cut retries short, got %d calls", calls)
	}
}
