// Package resilience implements the circuit breaker and retry primitives
// that protect every outbound call the orchestrator makes to a specialist
// agent or external collaborator.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"goa.design/orchestra/telemetry"
)

// State is one of the three circuit breaker modes.
type State int

const (
	// Closed allows calls through; failures are counted.
	Closed State = iota
	// Open fast-fails every call until the timeout elapses.
	Open
	// HalfOpen allows a bounded number of probe calls through.
	HalfOpen
)

// String renders the state for logs and error messages.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute when the breaker is Open, or when
// HalfOpen has no probe slots left.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig configures a Breaker's thresholds.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that trips the
	// breaker from Closed to Open. Default 5.
	Threshold int
	// Timeout is how long the breaker stays Open before allowing a probe.
	// Default 60s.
	Timeout time.Duration
	// HalfOpenMax is the maximum number of concurrent probe calls allowed
	// while HalfOpen. Default 3.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the spec's default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:   5,
		Timeout:     60 * time.Second,
		HalfOpenMax: 3,
	}
}

// Breaker is a per-endpoint circuit breaker. One Breaker guards exactly one
// logical endpoint; callers hold a Breaker per endpoint (see the agent
// registry) rather than sharing one across endpoints.
type Breaker struct {
	cfg BreakerConfig
	obs telemetry.Provider
	// name identifies the guarded endpoint in logs and metrics.
	name string

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	halfOpenInF int
}

// NewBreaker constructs a Breaker for the named endpoint. obs must carry a
// Logger and Metrics; pass telemetry.Noop() when telemetry isn't needed.
func NewBreaker(name string, cfg BreakerConfig, obs telemetry.Provider) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &Breaker{cfg: cfg, obs: obs, name: name, state: Closed}
}

// State returns the breaker's current mode, accounting for a pending
// Open→HalfOpen transition that hasn't been observed by a call yet.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveState()
}

// effectiveState must be called with b.mu held. It promotes Open to
// HalfOpen once the timeout has elapsed, without mutating probe counters
// (that only happens on an actual Execute call).
func (b *Breaker) effectiveState() State {
	if b.state == Open && time.Since(b.lastFailure) >= b.cfg.Timeout {
		return HalfOpen
	}
	return b.state
}

// Execute runs op if the breaker allows it, or fails fast with
// ErrCircuitOpen. A successful Closed-state call resets the failure
// counter; a failure increments it and may trip the breaker. In HalfOpen,
// the first successful probe closes the breaker; any failure reopens it.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		b.obs.Metrics.IncCounter("circuit_breaker.rejected", 1, "endpoint", b.name)
		return err
	}

	err := op(ctx)
	b.release(err)
	return err
}

// acquire checks and, for HalfOpen, reserves a probe slot. It must not hold
// the lock across the call to op, since op may be slow.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.effectiveState()
	if state == Open {
		return ErrCircuitOpen
	}
	if state == HalfOpen {
		if b.state != HalfOpen {
			// First caller to observe the timeout elapsing performs the
			// Open -> HalfOpen transition and resets the probe counter.
			b.state = HalfOpen
			b.halfOpenInF = 0
			b.obs.Logger.Info(context.Background(), "circuit breaker half-open", "endpoint", b.name)
		}
		if b.halfOpenInF >= b.cfg.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.halfOpenInF++
	}
	return nil
}

// release records the outcome of a call that acquire allowed through.
func (b *Breaker) release(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInF--
		if err == nil {
			b.transitionClosed()
		} else {
			b.transitionOpen()
		}
	case Closed:
		if err == nil {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.cfg.Threshold {
				b.transitionOpen()
			}
		}
	case Open:
		// A call raced the timeout check between acquire and release; treat
		// it like a fresh failure so the Open timestamp reflects reality.
		if err != nil {
			b.lastFailure = time.Now()
		}
	}
}

// transitionOpen must be called with b.mu held.
func (b *Breaker) transitionOpen() {
	b.state = Open
	b.lastFailure = time.Now()
	b.failures = b.cfg.Threshold
	b.obs.Logger.Warn(context.Background(), "circuit breaker open", "endpoint", b.name)
	b.obs.Metrics.IncCounter("circuit_breaker.opened", 1, "endpoint", b.name)
}

// transitionClosed must be called with b.mu held.
func (b *Breaker) transitionClosed() {
	b.state = Closed
	b.failures = 0
	b.obs.Logger.Info(context.Background(), "circuit breaker closed", "endpoint", b.name)
	b.obs.Metrics.IncCounter("circuit_breaker.closed", 1, "endpoint", b.name)
}
