package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("connection refused")

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker("test", BreakerConfig{Threshold: 5, Timeout: time.Minute, Clock: clock})
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) error {
		calls++
		return errBoom
	}

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failing), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 5, calls)

	err := b.Execute(ctx, failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, calls, "guarded function must not run while open")
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker("test", BreakerConfig{Threshold: 5, Timeout: time.Minute, Clock: clock})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return errBoom })
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return nil }), ErrCircuitOpen)

	clock.Advance(time.Second)
	called := false
	require.NoError(t, b.Execute(ctx, func(context.Context) error {
		called = true
		assert.Equal(t, StateHalfOpen, b.State())
		return nil
	}))
	assert.True(t, called)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker("test", BreakerConfig{Threshold: 2, Timeout: time.Second, Clock: clock})
	ctx := context.Background()

	_ = b.Execute(ctx, func(context.Context) error { return errBoom })
	_ = b.Execute(ctx, func(context.Context) error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	b := NewCircuitBreaker("test", BreakerConfig{Threshold: 1})
	err := b.Execute(context.Background(), func(context.Context) error {
		return Errorf(CategoryValidation, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_StateChangeCallbackAndReset(t *testing.T) {
	var transitions []string
	b := NewCircuitBreaker("svc", BreakerConfig{
		Threshold: 1,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	b.Reset()
	assert.Equal(t, []string{"svc:closed->open", "svc:open->closed"}, transitions)
}

func TestBreakerSet(t *testing.T) {
	s := NewBreakerSet(BreakerConfig{Threshold: 1})
	a := s.Get("provider:a")
	assert.Same(t, a, s.Get("provider:a"))
	assert.NotSame(t, a, s.Get("provider:b"))

	_ = a.Execute(context.Background(), func(context.Context) error { return errBoom })
	assert.Equal(t, StateOpen, s.States()["provider:a"])
	assert.Equal(t, StateClosed, s.States()["provider:b"])

	s.ResetAll()
	assert.Equal(t, StateClosed, s.States()["provider:a"])
}
