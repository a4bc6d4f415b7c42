package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_ClientErrorAttemptedOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Policy{MaxRetries: 3, InitialDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return &StatusError{Code: 404, Body: "missing"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CategoryResourceNotFound, Classify(err))
}

func TestRetry_NetworkErrorExhaustsAttempts(t *testing.T) {
	calls := 0
	var delays []time.Duration
	err := Retry(context.Background(), Policy{
		MaxRetries:   4,
		InitialDelay: time.Millisecond,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			delays = append(delays, delay)
		},
	}, func(context.Context) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, calls)
	require.Len(t, delays, 3)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, delays)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
}

func TestRetry_TimeoutRetriedThenSucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Policy{MaxRetries: 3, InitialDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Policy{MaxRetries: 5, InitialDelay: time.Millisecond}, func(context.Context) error {
		calls++
		cancel()
		return errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_DefaultsToThreeAttempts(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), Policy{InitialDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("upstream server error")
	})
	assert.Equal(t, DefaultMaxRetries, calls)
}

func TestConstantRetry(t *testing.T) {
	calls := 0
	err := ConstantRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}
