// Package resilience provides circuit breaking and rate limiting around
// backend operations. Neither component retries anything on its own; retry
// policy belongs to the caller.
package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gatecache/gatecache/pkg/errors"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a limited number of requests to test if the backend has recovered
	StateHalfOpen
)

// CircuitBreakerConfig is the configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Consecutive successes before closing
	RetryTimeout     time.Duration // How long an open circuit waits before probing
}

// CircuitBreaker protects the backend from being hammered while it is
// failing. It starts closed and opens after a run of consecutive failures;
// after RetryTimeout it half-opens and lets a limited number of probes
// through.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger

	state           int32 // 0: closed, 1: open, 2: half-open
	lastStateChange time.Time
	nextRetryTime   time.Time

	consecutiveFailures  int32
	consecutiveSuccesses int32
	halfOpenLimit        int32
	halfOpenCounter      int32

	mu sync.RWMutex
}

// State is a snapshot of the breaker for monitoring.
type State struct {
	State                string    `json:"state"`
	LastStateChange      time.Time `json:"last_state_change"`
	ConsecutiveFailures  int32     `json:"consecutive_failures"`
	ConsecutiveSuccesses int32     `json:"consecutive_successes"`
	NextRetryTime        time.Time `json:"next_retry_time,omitempty"`
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		config:          config,
		logger:          logger.With(zap.String("component", "circuit_breaker")),
		state:           int32(StateClosed),
		lastStateChange: time.Now(),
		halfOpenLimit:   5, // Allow 5 probes in half-open state
	}
}

// Execute runs a function with circuit breaker protection.
// If the circuit is open, it returns a circuit_open error immediately
// without executing the function. Otherwise it executes the function and
// records the result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return errors.New(errors.ErrorTypeCircuitOpen, "circuit breaker is open")
	}

	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// Allow determines if a request should be allowed based on the current
// circuit state.
func (cb *CircuitBreaker) Allow() bool {
	state := CircuitState(atomic.LoadInt32(&cb.state))

	switch state {
	case StateClosed:
		return true

	case StateOpen:
		cb.mu.RLock()
		shouldRetry := time.Now().After(cb.nextRetryTime)
		cb.mu.RUnlock()

		if shouldRetry {
			cb.transitionToHalfOpen()
			return cb.allowHalfOpen()
		}
		return false

	case StateHalfOpen:
		return cb.allowHalfOpen()

	default:
		return false
	}
}

// RecordSuccess records a successful request. In half-open state, enough
// consecutive successes close the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)

	case StateHalfOpen:
		successes := atomic.AddInt32(&cb.consecutiveSuccesses, 1)
		if successes >= int32(cb.config.SuccessThreshold) {
			cb.transitionToClosed()
		}
	}
}

// RecordFailure records a failed request. In closed state, too many
// consecutive failures open the circuit. In half-open state, any failure
// reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		failures := atomic.AddInt32(&cb.consecutiveFailures, 1)
		if failures >= int32(cb.config.FailureThreshold) {
			cb.transitionToOpen()
		}

	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

// allowHalfOpen checks if a probe is allowed in half-open state
func (cb *CircuitBreaker) allowHalfOpen() bool {
	current := atomic.LoadInt32(&cb.halfOpenCounter)
	if current >= cb.halfOpenLimit {
		return false
	}

	atomic.AddInt32(&cb.halfOpenCounter, 1)
	return true
}

// transitionToOpen transitions to open state
func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateOpen)) {
		atomic.CompareAndSwapInt32(&cb.state, int32(StateClosed), int32(StateOpen))
	}

	cb.lastStateChange = time.Now()
	cb.nextRetryTime = time.Now().Add(cb.config.RetryTimeout)
	atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt32(&cb.halfOpenCounter, 0)

	cb.logger.Warn("circuit breaker opened",
		zap.Time("retry_after", cb.nextRetryTime),
		zap.Int32("consecutive_failures", atomic.LoadInt32(&cb.consecutiveFailures)))
}

// transitionToHalfOpen transitions to half-open state
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)

		cb.logger.Info("circuit breaker half-open")
	}
}

// transitionToClosed transitions to closed state
func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)

		cb.logger.Info("circuit breaker closed")
	}
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stateStr := "unknown"
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		stateStr = "closed"
	case StateOpen:
		stateStr = "open"
	case StateHalfOpen:
		stateStr = "half_open"
	}

	return State{
		State:                stateStr,
		LastStateChange:      cb.lastStateChange,
		ConsecutiveFailures:  atomic.LoadInt32(&cb.consecutiveFailures),
		ConsecutiveSuccesses: atomic.LoadInt32(&cb.consecutiveSuccesses),
		NextRetryTime:        cb.nextRetryTime,
	}
}
