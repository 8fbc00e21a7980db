package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetryConfig keeps test runtime negligible.
func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return Transient("fetch", errors.New("timeout"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(2), func() error {
		attempts++
		return Transient("embed", errors.New("unavailable"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_NonTransientAbortsImmediately(t *testing.T) {
	attempts := 0
	conflict := Conflict("D1", 1, 2)
	err := Retry(context.Background(), fastRetryConfig(5), func() error {
		attempts++
		return conflict
	})

	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetryConfig(3), func() error {
		return Transient("fetch", errors.New("slow"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	v, err := RetryWithResult(context.Background(), fastRetryConfig(3), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, Transient("fetch", errors.New("flaky"))
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("embed", WithMaxFailures(2), WithResetTimeout(time.Hour))
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		err := cb.Execute(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	// Third call fails fast without invoking fn.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("embed", WithMaxFailures(1), WithResetTimeout(5*time.Millisecond))

	require.Error(t, cb.Execute(func() error { return errors.New("down") }))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}
