package workflow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures the retry driver (spec §4.B).
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	BackoffFactor float64
	JitterFraction float64 // e.g. 0.3 for the spec's random(-0.3,+0.3)

	// Retriable overrides the fixed default classification. Nil means use
	// DefaultRetriable.
	Retriable func(error) bool
}

// DefaultRetryConfig mirrors infrastructure/resilience.DefaultRetryConfig,
// adjusted to the spec's documented jitter fraction.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.3,
	}
}

// retryWithBreaker runs fn through the per-engine circuit breaker, then
// retries per cfg on a retriable failure. Attempt 1 runs immediately; each
// subsequent attempt waits min(maxDelay, initialDelay*backoffFactor^(n-1))
// with +/- jitterFraction randomization, per spec §4.B.
func retryWithBreaker(ctx context.Context, cfg RetryConfig, b *breaker, fn func(ctx context.Context) error) (attempts int, err error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	retriable := cfg.Retriable
	if retriable == nil {
		retriable = DefaultRetriable
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.BackoffFactor > 0 {
		bo.Multiplier = cfg.BackoffFactor
	}
	bo.RandomizationFactor = cfg.JitterFraction
	bo.MaxElapsedTime = 0

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attempts = attempt
		runErr := b.Execute(ctx, func() error { return fn(ctx) })
		if runErr == nil {
			return attempts, nil
		}
		err = runErr

		if attempt >= cfg.MaxAttempts || !retriable(runErr) {
			return attempts, err
		}

		delay := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(delay):
		}
	}
	return attempts, err
}
