package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState is the circuit breaker's position.
type BreakerState int

const (
	// BreakerClosed passes all calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the recovery timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets a limited number of probe calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes when a breaker trips and how it recovers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// RecoveryTimeout is how long an open breaker waits before probing.
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	// HalfOpenMaxProbes caps concurrent probe calls while half-open.
	HalfOpenMaxProbes int `json:"half_open_max_probes" yaml:"half_open_max_probes"`
	// HalfOpenSuccesses is the consecutive successes needed to close.
	HalfOpenSuccesses int `json:"half_open_successes" yaml:"half_open_successes"`
}

// DefaultBreakerConfig returns conservative production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 3,
		HalfOpenSuccesses: 2,
	}
}

// Breaker guards one external collaborator (model provider, tool runner,
// sandbox, HTTP endpoint). State changes are reported through the
// resilience publisher so breaker trips show up in the event stream.
type Breaker struct {
	component string
	config    BreakerConfig
	publisher *Publisher
	logger    *zap.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
}

// NewBreaker creates a closed breaker for one named component. The
// publisher may be nil, in which case state changes are only logged.
func NewBreaker(component string, config BreakerConfig, publisher *Publisher, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		component: component,
		config:    config,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "breaker"), zap.String("target", component)),
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may proceed. While open it returns an
// error naming the component and the remaining wait; while half-open it
// admits up to the configured probe count.
func (b *Breaker) Allow(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true, nil

	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.config.RecoveryTimeout {
			b.transition(ctx, BreakerHalfOpen, "recovery timeout elapsed")
			b.probes = 1
			b.successes = 0
			return true, nil
		}
		return false, fmt.Errorf("circuit open for %s: %d consecutive failures, retry in %v",
			b.component, b.failures, b.config.RecoveryTimeout-time.Since(b.lastFailure))

	case BreakerHalfOpen:
		if b.probes < b.config.HalfOpenMaxProbes {
			b.probes++
			return true, nil
		}
		return false, fmt.Errorf("circuit half-open for %s: probe limit %d reached",
			b.component, b.config.HalfOpenMaxProbes)

	default:
		return false, fmt.Errorf("unknown breaker state %d for %s", b.state, b.component)
	}
}

// RecordSuccess notes a successful call, closing a half-open breaker once
// enough probes succeed.
func (b *Breaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.config.HalfOpenSuccesses {
			b.transition(ctx, BreakerClosed, fmt.Sprintf("%d successful probes", b.successes))
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure notes a failed call. Threshold failures open a closed
// breaker; any failure re-opens a half-open one.
func (b *Breaker) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transition(ctx, BreakerOpen, fmt.Sprintf("%d consecutive failures", b.failures))
		}
	case BreakerHalfOpen:
		b.successes = 0
		b.transition(ctx, BreakerOpen, "probe failed")
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerClosed {
		b.transition(ctx, BreakerClosed, "manual reset")
	}
	b.failures = 0
	b.successes = 0
	b.probes = 0
}

// transition must be called with the mutex held.
func (b *Breaker) transition(ctx context.Context, next BreakerState, reason string) {
	prev := b.state
	b.state = next

	b.logger.Info("breaker state change",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures))

	if b.publisher == nil {
		return
	}
	failures := b.failures
	component := b.component
	// Published outside the lock; the publisher takes its own locks.
	switch next {
	case BreakerOpen:
		go b.publisher.PublishCircuitBreakerOpened(ctx, component, failures)
	case BreakerClosed:
		go b.publisher.PublishCircuitBreakerClosed(ctx, component)
	}
}

// BreakerRegistry hands out one breaker per component, created lazily
// with a shared config.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	config    BreakerConfig
	publisher *Publisher
	logger    *zap.Logger
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(config BreakerConfig, publisher *Publisher, logger *zap.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:  make(map[string]*Breaker),
		config:    config,
		publisher: publisher,
		logger:    logger,
	}
}

// Get returns the breaker for a component, creating it on first use.
func (r *BreakerRegistry) Get(component string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[component]; ok {
		return b
	}
	b := NewBreaker(component, r.config, r.publisher, r.logger)
	r.breakers[component] = b
	return b
}
