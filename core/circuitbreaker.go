package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"bookguard/metrics"

	"github.com/facebookgo/clock"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState string

const (
	// CircuitBreakerStateClosed means calls pass through normally
	CircuitBreakerStateClosed CircuitBreakerState = "closed"
	// CircuitBreakerStateOpen means calls fail immediately
	CircuitBreakerStateOpen CircuitBreakerState = "open"
	// CircuitBreakerStateHalfOpen means a probe call is testing whether the backend recovered
	CircuitBreakerStateHalfOpen CircuitBreakerState = "half_open"
)

var (
	// ErrCircuitBreakerOpen is returned when circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when too many probes are in flight in half-open state
	ErrTooManyRequests = errors.New("too many requests")
	// ErrInvalidCircuitBreakerConfig is returned when circuit breaker config is invalid
	ErrInvalidCircuitBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit
	MaxFailures uint32 `mapstructure:"max_failures" yaml:"max_failures"`
	// Timeout is how long the circuit stays open before a probe is allowed
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MaxHalfOpenRequests is the number of concurrent probes in half-open state
	MaxHalfOpenRequests uint32 `mapstructure:"max_half_open_requests" yaml:"max_half_open_requests"`
}

// Validate checks if the circuit breaker configuration is valid
func (c *CircuitBreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("Timeout must be greater than 0")
	}
	if c.MaxHalfOpenRequests == 0 {
		return errors.New("MaxHalfOpenRequests must be greater than 0")
	}
	return nil
}

// DefaultCircuitBreakerConfig returns the token store defaults: a Redis outage
// is detected after a handful of timeouts and re-probed every few seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Timeout:             5 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker guards calls to a remote dependency
type CircuitBreaker struct {
	name         string
	config       CircuitBreakerConfig
	clock        clock.Clock
	state        CircuitBreakerState
	failures     uint32
	openedAt     time.Time
	halfOpenReqs uint32
	mu           sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker. A nil clock uses wall time.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, clk clock.Clock) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCircuitBreakerConfig, err)
	}
	if clk == nil {
		clk = clock.New()
	}

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		clock:  clk,
		state:  CircuitBreakerStateClosed,
	}
	cb.publish()
	return cb, nil
}

// Allow checks if a call is allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerStateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.config.Timeout {
			return ErrCircuitBreakerOpen
		}
		cb.state = CircuitBreakerStateHalfOpen
		cb.halfOpenReqs = 1
		cb.publish()
		return nil

	case CircuitBreakerStateHalfOpen:
		if cb.halfOpenReqs >= cb.config.MaxHalfOpenRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenReqs++
		return nil

	default:
		return nil
	}
}

// RecordSuccess records a successful call.
// Returns the old and new state atomically.
func (cb *CircuitBreaker) RecordSuccess() (oldState, newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.failures = 0
	if cb.state == CircuitBreakerStateHalfOpen {
		cb.state = CircuitBreakerStateClosed
		cb.halfOpenReqs = 0
		cb.publish()
	}
	return oldState, cb.state
}

// RecordFailure records a failed call.
// Returns the old and new state atomically.
func (cb *CircuitBreaker) RecordFailure() (oldState, newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.failures++

	switch cb.state {
	case CircuitBreakerStateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.trip()
		}
	case CircuitBreakerStateHalfOpen:
		cb.trip()
	}
	return oldState, cb.state
}

// Outcome is how a call result counts towards the breaker
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomeSuccess
	// OutcomeNeutral says nothing about the backend: the failure count is
	// left alone and a half-open probe slot is handed back.
	OutcomeNeutral
)

// Execute runs fn if the breaker allows it and records the outcome. Errors for
// which ignore returns true (for example "not found") count as successes.
func (cb *CircuitBreaker) Execute(fn func() error, ignore func(error) bool) error {
	return cb.ExecuteClassified(fn, func(err error) Outcome {
		if err == nil || (ignore != nil && ignore(err)) {
			return OutcomeSuccess
		}
		return OutcomeFailure
	})
}

// ExecuteClassified runs fn if the breaker allows it and records the outcome
// chosen by classify. A panic in fn is recorded as a failure and re-raised.
func (cb *CircuitBreaker) ExecuteClassified(fn func() error, classify func(error) Outcome) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			cb.RecordFailure()
			panic(p)
		}
	}()

	err := fn()
	switch classify(err) {
	case OutcomeSuccess:
		cb.RecordSuccess()
	case OutcomeNeutral:
		cb.recordNeutral()
	default:
		cb.RecordFailure()
	}
	return err
}

// recordNeutral releases a half-open probe slot without judging the backend
func (cb *CircuitBreaker) recordNeutral() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitBreakerStateHalfOpen && cb.halfOpenReqs > 0 {
		cb.halfOpenReqs--
	}
}

// trip opens the circuit; callers hold cb.mu
func (cb *CircuitBreaker) trip() {
	cb.state = CircuitBreakerStateOpen
	cb.openedAt = cb.clock.Now()
	cb.halfOpenReqs = 0
	cb.publish()
}

func (cb *CircuitBreaker) publish() {
	var v float64
	switch cb.state {
	case CircuitBreakerStateHalfOpen:
		v = 1
	case CircuitBreakerStateOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(v)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset returns the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitBreakerStateClosed
	cb.failures = 0
	cb.halfOpenReqs = 0
	cb.publish()
}
