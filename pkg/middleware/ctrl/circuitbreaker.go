package ctrl

import (
	"sync"
	"time"

	"github.com/pipelinekit/pipelinekit"
)

// CircuitState is the breaker's current admission state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures, while
	// Closed, that trips the breaker to Open.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays Open before allowing a
	// HalfOpen probe.
	OpenTimeout time.Duration
	// HalfOpenProbes is how many calls are allowed through while
	// HalfOpen before the breaker decides to close (all succeed) or
	// reopen (any fails).
	HalfOpenProbes int
}

// DefaultCircuitBreakerConfig matches the teacher's hardcoded
// fallback.go circuit breaker (threshold 5, 30s timeout), adding a
// single half-open probe.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second, HalfOpenProbes: 1}
}

// CircuitBreaker is a Closed/Open/HalfOpen state machine guarding calls to
// a possibly-failing downstream. Grounded on the teacher's
// ctrl.circuitBreaker (three-state int + mutex), generalized from a
// single-probe half-open ("allow one, outcome decides everything") to a
// configurable probe count: the breaker closes only after HalfOpenProbes
// probes have succeeded, and any failed probe reopens it.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failures     int
	lastFailure  time.Time
	probesInFlight int
	probeSuccesses int
}

// NewCircuitBreaker creates a breaker starting Closed.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

// Allow reports whether a call should proceed, transitioning Open->HalfOpen
// once OpenTimeout has elapsed and admitting at most HalfOpenProbes probes
// in total while HalfOpen. A finished probe does not free its slot, so no
// further probe is admitted until the breaker closes or reopens.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.cfg.OpenTimeout {
			cb.state = CircuitHalfOpen
			cb.probesInFlight = 0
			cb.probeSuccesses = 0
		} else {
			return false
		}
		fallthrough
	case CircuitHalfOpen:
		if cb.probesInFlight >= cb.cfg.HalfOpenProbes {
			return false
		}
		cb.probesInFlight++
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call. While HalfOpen, the breaker
// closes once every outstanding probe has succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenProbes {
			cb.state = CircuitClosed
			cb.failures = 0
		}
	default:
		cb.failures = 0
	}
}

// RecordFailure reports a failed call. Any failure while HalfOpen reopens
// the breaker immediately; Closed-state failures trip it once the
// threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.failures >= cb.cfg.FailureThreshold {
		cb.state = CircuitOpen
	}
}

// State returns the breaker's current state, for health checks and tests.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Guard runs fn only if Allow() admits the call, recording the outcome
// against the breaker either way. When the breaker rejects the call, Guard
// returns a KindCircuitOpen error without invoking fn.
func (cb *CircuitBreaker) Guard(fn func() error) error {
	if !cb.Allow() {
		return pipelinekit.NewError(pipelinekit.KindCircuitOpen, "circuit breaker is open", nil)
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
