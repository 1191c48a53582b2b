// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience provides retry, circuit breaking and fallback helpers
// used by the upstream-facing parts of the pipeline.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker stops calling a failing dependency for a cooldown period.
// After resetTimeout it admits exactly one trial call; the trial's outcome
// decides between closed and open.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string // Component name for metrics
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	trialActive  bool
	clock        clock

	// If set, panics in the executed function are recorded as failure and re-panicked.
	recoverPanic bool
	// isSuccessful decides which errors still count as a healthy dependency.
	isSuccessful func(error) bool
}

// Option configuration pattern
type Option func(*CircuitBreaker)

func WithClock(c clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

func WithPanicRecovery(enabled bool) Option {
	return func(cb *CircuitBreaker) { cb.recoverPanic = enabled }
}

// WithIsSuccessful makes the breaker treat errors for which fn returns true as
// successful calls. The error is still returned to the caller.
func WithIsSuccessful(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.isSuccessful = fn }
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
	}

	for _, opt := range opts {
		opt(cb)
	}

	metrics.SetCircuitBreakerState(cb.name, string(cb.state))
	return cb
}

// Execute runs the given function respecting the breaker state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteContext(context.Background(), func(context.Context) error { return fn() })
}

// ExecuteContext is Execute for context-aware operations. A nil breaker
// simply runs fn.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) (err error) {
	if cb == nil {
		return fn(ctx)
	}
	trial, ok := cb.allowRequest()
	if !ok {
		metrics.RecordCircuitBreakerRejection(cb.name)
		return ErrCircuitOpen
	}

	// A panicking trial must not leave the breaker stuck in half-open.
	if cb.recoverPanic || trial {
		defer func() {
			if r := recover(); r != nil {
				cb.recordFailure(trial)
				panic(r)
			}
		}()
	}

	err = fn(ctx)
	if err != nil {
		if cb.isSuccessful != nil && cb.isSuccessful(err) {
			cb.recordSuccess(trial)
			return err
		}
		cb.recordFailure(trial)
		return err
	}

	cb.recordSuccess(trial)
	return nil
}

// allowRequest reports whether a call may proceed and whether it is the
// half-open trial.
func (cb *CircuitBreaker) allowRequest() (trial bool, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, false
		}
		cb.transitionTo(StateHalfOpen)
		cb.trialActive = true
		return true, true
	default:
		// StateHalfOpen: one trial at a time.
		if cb.trialActive {
			return false, false
		}
		cb.trialActive = true
		return true, true
	}
}

func (cb *CircuitBreaker) recordFailure(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if trial {
		cb.trialActive = false
	}

	if cb.state == StateHalfOpen {
		metrics.RecordCircuitBreakerTrip(cb.name, "half_open_failure")
		cb.transitionTo(StateOpen)
		return
	}

	if cb.state == StateClosed && cb.failures >= cb.threshold {
		metrics.RecordCircuitBreakerTrip(cb.name, "threshold_exceeded")
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialActive = false
	}
	cb.failures = 0
	if cb.state != StateClosed {
		cb.transitionTo(StateClosed)
	}
}

// transitionTo handles state transitions and updates metrics.
// Caller must hold lock.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		if newState == StateOpen {
			cb.openedAt = cb.clock.Now()
		}
		return
	}
	old := cb.state
	cb.state = newState
	if newState == StateOpen {
		cb.openedAt = cb.clock.Now()
	}
	metrics.SetCircuitBreakerState(cb.name, string(newState))

	l := log.WithComponent("resilience")
	evt := l.Info()
	if newState == StateOpen {
		evt = l.Warn()
	}
	evt.
		Str(log.FieldBreaker, cb.name).
		Str(log.FieldOldState, string(old)).
		Str(log.FieldNewState, string(newState)).
		Int("failures", cb.failures).
		Msg("circuit breaker state changed")
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Name returns the component name used for metrics and logs.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}
