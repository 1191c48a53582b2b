// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import "context"

// WithFallback runs primary and, if it fails, returns fallback's result.
// Only fallback's error propagates.
func WithFallback[T any](primary, fallback func() (T, error)) (T, error) {
	if v, err := primary(); err == nil {
		return v, nil
	}
	return fallback()
}

// WithFallbackContext is WithFallback for blocking operations. The fallback
// is skipped when ctx is already done, in which case the context error is returned.
func WithFallbackContext[T any](ctx context.Context, primary, fallback func(ctx context.Context) (T, error)) (T, error) {
	if v, err := primary(ctx); err == nil {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	return fallback(ctx)
}
