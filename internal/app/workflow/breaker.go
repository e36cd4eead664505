package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures a per-adapter circuit breaker (spec §4.A).
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // wait before attempting half-open
	MonitoringPeriod time.Duration // counters older than this window are ignored
	OnStateChange    func(adapter EngineType, from, to gobreaker.State)
}

// DefaultBreakerConfig mirrors infrastructure/resilience.DefaultConfig.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringPeriod: time.Minute,
	}
}

// breaker wraps gobreaker.CircuitBreaker, translating its sentinel errors to
// CoreError{Kind: CIRCUIT_OPEN} so callers never see a raw gobreaker type,
// following the same adapter pattern as infrastructure/resilience.
type breaker struct {
	gb *gobreaker.CircuitBreaker[any]
}

func newBreaker(engine EngineType, cfg BreakerConfig) *breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	threshold := uint32(cfg.FailureThreshold)

	settings := gobreaker.Settings{
		MaxRequests: 1, // spec §4.A: at most one HALF_OPEN probe at a time
		Interval:    cfg.MonitoringPeriod,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(engine, from, to)
		}
	}
	return &breaker{gb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Execute runs fn guarded by the breaker. A trip is reported as a CoreError
// with Kind=CIRCUIT_OPEN so the retry driver's default classification (which
// treats CIRCUIT_OPEN as retriable) applies uniformly.
func (b *breaker) Execute(_ context.Context, fn func() error) error {
	_, err := b.gb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Wrap(ErrCircuitOpenKind, "circuit breaker is open", err)
	}
	return err
}

func (b *breaker) State() gobreaker.State {
	return b.gb.State()
}

// breakerRegistry owns one breaker per engine type, created lazily.
type breakerRegistry struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	byEngine map[EngineType]*breaker
}

func newBreakerRegistry(cfg BreakerConfig) *breakerRegistry {
	return &breakerRegistry{cfg: cfg, byEngine: make(map[EngineType]*breaker)}
}

func (r *breakerRegistry) get(engine EngineType) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byEngine[engine]
	if !ok {
		b = newBreaker(engine, r.cfg)
		r.byEngine[engine] = b
	}
	return b
}
