// Package resilience provides the failure-counting circuit breaker that guards
// the synthesis engine.
//
// The breaker is deliberately simpler than the classic three-state pattern:
// there is no half-open probe phase. Consecutive failures open it, and once
// the recovery window elapses the next [CircuitBreaker.IsOpen] check resets
// the counter and lets calls through again. Self-healing happens lazily on
// the next check, not on a timer, so an idle breaker costs nothing.
//
// All types are safe for concurrent use.
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; calls may proceed.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive
	// failures and the recovery window has not yet elapsed.
	StateOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [CircuitBreaker].
type Config struct {
	// Name is a human-readable label used in log messages.
	Name string

	// Threshold is the number of consecutive failures before the breaker
	// opens. Default: 5.
	Threshold int

	// Recovery is how long the breaker stays open after the last failure
	// before it self-heals. Default: 5m.
	Recovery time.Duration
}

// CircuitBreaker counts consecutive failures of a shared dependency and
// reports whether callers should fail fast instead of attempting the call.
//
// There is one breaker per synthesis engine instance, not per tenant:
// synthesis failures indicate engine-wide trouble, so a single shared
// failure signal is the right scope. It is safe for concurrent use.
type CircuitBreaker struct {
	name      string
	threshold int
	recovery  time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

// Snapshot is a point-in-time view of breaker state for status reporting.
type Snapshot struct {
	Name     string
	State    State
	Failures int
}

// New creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Recovery <= 0 {
		cfg.Recovery = 5 * time.Minute
	}
	return &CircuitBreaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		recovery:  cfg.Recovery,
	}
}

// RecordFailure increments the consecutive failure counter and stamps the
// failure time. The breaker opens once the counter reaches the threshold.
//
// There is no success-path counterpart: a single success does not clear
// accumulated failures. Only the recovery window does.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.failures == cb.threshold {
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// IsOpen reports whether callers should fail fast. It returns true only while
// the failure count has reached the threshold AND the recovery window since
// the last failure has not yet elapsed. If the window has elapsed, the
// failure counter is reset as a side effect and IsOpen returns false.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.failures < cb.threshold {
		return false
	}
	if time.Since(cb.lastFailure) >= cb.recovery {
		// Recovery window elapsed, self-heal.
		cb.failures = 0
		slog.Info("circuit breaker recovered", "name", cb.name)
		return false
	}
	return true
}

// State returns the current [State] without mutating the breaker, unlike
// [CircuitBreaker.IsOpen] which resets the counter once the recovery window
// has elapsed. Intended for status reporting.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// stateLocked computes the state. Must be called with cb.mu held.
func (cb *CircuitBreaker) stateLocked() State {
	if cb.failures >= cb.threshold && time.Since(cb.lastFailure) < cb.recovery {
		return StateOpen
	}
	return StateClosed
}

// Stats returns a [Snapshot] of the breaker for status reporting.
func (cb *CircuitBreaker) Stats() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:     cb.name,
		State:    cb.stateLocked(),
		Failures: cb.failures,
	}
}

// Reset manually forces the breaker closed, clearing the failure counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
