// Package resilience guards the remote connect path with a circuit breaker.
//
// A [CircuitBreaker] counts consecutive connect failures. Once MaxFailures is
// reached it opens and rejects further attempts with [ErrCircuitOpen] until
// ResetTimeout has passed, after which a single probe is let through. The
// breaker never retries on its own; callers decide whether to try again.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without running
// it.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets one probe through. Success closes the breaker,
	// failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the tuning knobs of a [CircuitBreaker].
type Config struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// IsFailure classifies an error returned by the guarded call. The default
	// ignores context cancellation, so a Stop during connect does not count
	// against the remote service.
	IsFailure func(error) bool

	// OnStateChange, if set, is called outside the lock after every
	// transition.
	OnStateChange func(from, to State)
}

// CircuitBreaker implements the closed/open/half-open pattern for connects.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	isFailure     func(error) bool
	onStateChange func(from, to State)
	now           func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probing     bool
	lastFailure error
}

// New creates a [CircuitBreaker]. Zero-value fields of cfg take defaults.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn if the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := Call(cb, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Call runs fn through cb and returns its result. It is a function rather
// than a method because methods cannot declare type parameters.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	probe, err := cb.admit()
	if err != nil {
		return zero, err
	}
	v, err := fn()
	cb.record(probe, err)
	return v, err
}

// admit decides whether a call may run. probe is true for the single call
// allowed through in the half-open state.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		cb.mu.Unlock()
		slog.Info("circuit breaker half-open, probing", "name", cb.name)
		cb.notify(from, StateHalfOpen)
		return true, nil
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.probing = true
		cb.mu.Unlock()
		return true, nil
	}
	cb.mu.Unlock()
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if probe {
		cb.probing = false
	}

	failed := err != nil && cb.isFailure(err)
	switch {
	case err != nil && !failed:
		// Not held against the service. A probe that was cancelled leaves
		// the breaker half-open for the next caller.
	case failed:
		cb.lastFailure = err
		cb.failures++
		if probe || cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	default:
		cb.failures = 0
		cb.lastFailure = nil
		cb.state = StateClosed
	}
	to, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if from == to {
		return
	}
	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", failures, "err", err)
	case StateClosed:
		slog.Info("circuit breaker closed", "name", cb.name)
	}
	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// LastError returns the most recent counted failure, or nil after a success.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastFailure
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
	cb.lastFailure = nil
	cb.mu.Unlock()
	slog.Info("circuit breaker manually reset", "name", cb.name)
	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
