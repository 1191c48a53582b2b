// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrRetriesExhausted is matched by every error returned after the last attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

const (
	defaultBaseDelay     = 200 * time.Millisecond
	defaultMaxDelay      = 2 * time.Second
	defaultBackoffFactor = 2.0
)

// RetryPolicy configures Retry. It is stateless and supplied per call site.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// ShouldRetry decides whether err is worth another attempt. Nil retries everything.
	ShouldRetry func(err error) bool
}

// DefaultRetryPolicy returns two retries with 200ms doubling backoff capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		BaseDelay:     defaultBaseDelay,
		MaxDelay:      defaultMaxDelay,
		BackoffFactor: defaultBackoffFactor,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = defaultBackoffFactor
	}
	return p
}

// Delay returns the wait before the retry following attempt (0-based):
// min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	wait := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	if wait > float64(p.MaxDelay) || math.IsInf(wait, 1) {
		return p.MaxDelay
	}
	return time.Duration(wait)
}

// RetryError reports the attempt count and the last underlying error.
type RetryError struct {
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the last underlying error.
func (e *RetryError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

// Retry invokes op until it succeeds, the policy gives up or ctx is done.
// On persistent failure op runs exactly MaxRetries+1 times.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	_, err := RetryValue(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryValue is Retry for operations returning a value.
func RetryValue[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := op(ctx)
	if err == nil {
		return v, nil
	}

	p := policy.normalized()
	attempts := 1
	for {
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return zero, err
		}
		if attempts > p.MaxRetries {
			return zero, &RetryError{Attempts: attempts, Last: err}
		}
		if werr := sleepWithContext(ctx, p.Delay(attempts-1)); werr != nil {
			return zero, werr
		}
		attempts++
		v, err = op(ctx)
		if err == nil {
			return v, nil
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
