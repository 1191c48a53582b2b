// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
}

func TestRetry_FirstAttemptSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_PersistentFailureWrapsLastError(t *testing.T) {
	calls := 0
	last := errors.New("third")
	err := Retry(context.Background(), fastPolicy(2), func(context.Context) error {
		calls++
		if calls == 3 {
			return last
		}
		return errors.New("earlier")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, last)

	var rerr *RetryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 3, rerr.Attempts)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestRetry_EventualSuccess(t *testing.T) {
	calls := 0
	v, err := RetryValue(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errBoom
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetry_ShouldRetryStopsEarly(t *testing.T) {
	permanent := errors.New("permanent")
	policy := fastPolicy(5)
	policy.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Retry(context.Background(), policy, func(context.Context) error {
		calls++
		return permanent
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permanent)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}

	calls := 0
	err := Retry(ctx, policy, func(context.Context) error {
		calls++
		cancel()
		return errBoom
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(500))
}

func TestRetry_AttemptCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRetries := rapid.IntRange(0, 8).Draw(t, "max_retries")
		succeedOn := rapid.IntRange(1, 12).Draw(t, "succeed_on")

		calls := 0
		err := Retry(context.Background(), fastPolicy(maxRetries), func(context.Context) error {
			calls++
			if calls == succeedOn {
				return nil
			}
			return errBoom
		})

		if succeedOn <= maxRetries+1 {
			if err != nil {
				t.Fatalf("expected success on attempt %d, got %v", succeedOn, err)
			}
			if calls != succeedOn {
				t.Fatalf("calls = %d, want %d", calls, succeedOn)
			}
			return
		}
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("expected exhaustion, got %v", err)
		}
		if calls != maxRetries+1 {
			t.Fatalf("calls = %d, want %d", calls, maxRetries+1)
		}
	})
}
