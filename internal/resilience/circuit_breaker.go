package resilience

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, attempts flow through
	CircuitOpen                         // Failures exceeded threshold, attempts blocked
	CircuitHalfOpen                     // Testing whether the operation recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures circuit breaker behavior. A zero
// threshold disables the breaker entirely.
type CircuitBreakerConfig struct {
	Threshold  int           // Consecutive failures before opening
	ResetAfter time.Duration // Time to wait before attempting half-open
}

// CircuitBreaker counts consecutive failures and blocks attempts once
// the threshold is reached, until the reset window passes.
type CircuitBreaker struct {
	mu          sync.Mutex
	config      CircuitBreakerConfig
	state       CircuitState
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: cfg, state: CircuitClosed}
}

// State returns the current circuit state, transitioning open to
// half-open when the reset window has passed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.lastFailure) >= cb.config.ResetAfter {
		cb.state = CircuitHalfOpen
	}
	return cb.state
}

// Allow reports whether an attempt may proceed right now.
func (cb *CircuitBreaker) Allow() bool {
	if cb.config.Threshold <= 0 {
		return true
	}
	return cb.State() != CircuitOpen
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure; at the threshold the circuit opens.
// Any failure in half-open reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	if cb.config.Threshold <= 0 {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()
	cb.failures++

	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.Threshold {
		cb.state = CircuitOpen
	}
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
