// Package clients provides circuit breaker implementation for API clients
package clients

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests until the cooldown elapses
	StateOpen
	// StateHalfOpen allows a single probe request to test recovery
	StateHalfOpen
)

// String returns the lowercase state name.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig is the configuration for circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	Cooldown         time.Duration // Time the circuit stays open before a probe
}

// CircuitBreaker implements a per-source failure gate. The circuit opens
// after FailureThreshold consecutive failures, stays open for Cooldown, then
// admits exactly one half-open probe. A successful probe closes the circuit;
// a failed probe reopens it and restarts the cooldown.
//
// Callers must check Allow before issuing a network call and must report
// exactly one of RecordSuccess/RecordFailure per attempt.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger

	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	return &CircuitBreaker{
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		state:  StateClosed,
	}
}

// Allow determines if a request may proceed. In the open state it returns
// false until the cooldown has elapsed, then admits a single probe and blocks
// further calls until that probe resolves.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.openedAt) < cb.config.Cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.probeInFlight = true
		cb.logger.Info("circuit breaker half-open")
		return true

	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess resets the consecutive failure count and, if a half-open
// probe succeeded, closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0

	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.probeInFlight = false
		cb.logger.Info("circuit breaker closed")
	}
}

// RecordFailure increments the consecutive failure count. In the closed state
// the circuit opens once the threshold is reached; a failed half-open probe
// reopens it immediately and restarts the cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.open()
		}

	case StateHalfOpen:
		cb.probeInFlight = false
		cb.open()
	}
}

// ReleaseProbe returns an admitted half-open probe slot without recording an
// outcome. Callers use it when the attempt is abandoned between Allow and the
// network call, e.g. on cancellation while waiting for a rate-limiter token,
// so the next caller can still probe.
func (cb *CircuitBreaker) ReleaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
	}
}

// open transitions to the open state; callers hold cb.mu
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = time.Now()

	cb.logger.Warn("circuit breaker opened",
		zap.Int("consecutive_failures", cb.consecutiveFailures),
		zap.Time("retry_after", cb.openedAt.Add(cb.config.Cooldown)))
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the current state and counters for reporting.
func (cb *CircuitBreaker) Snapshot() CircuitBreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snap := CircuitBreakerSnapshot{
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
	}
	if !cb.openedAt.IsZero() {
		snap.OpenedAt = &cb.openedAt
	}
	return snap
}

// CircuitBreakerSnapshot represents the observable state of a circuit breaker
type CircuitBreakerSnapshot struct {
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}
