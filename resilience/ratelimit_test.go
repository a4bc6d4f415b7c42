package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(Limit{MaxRequests: 2, Window: time.Second}, clock)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, 0, l.Remaining())

	clock.Advance(time.Second)
	assert.Equal(t, 2, l.Remaining())
	assert.True(t, l.Allow())

	l.Reset()
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestRateLimiter_Unlimited(t *testing.T) {
	l := NewRateLimiter(Limit{}, nil)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	assert.Equal(t, -1, l.Remaining())
}

func TestLimiterSet(t *testing.T) {
	clock := newFakeClock()
	s := NewLimiterSet(map[string]Limit{"tool_call": {MaxRequests: 1, Window: time.Minute}}, clock)

	assert.True(t, s.Allow("tool_call"))
	assert.False(t, s.Allow("tool_call"))
	assert.True(t, s.Allow("unconfigured"))

	s.Configure("tool_call", Limit{MaxRequests: 1, Window: time.Minute})
	assert.False(t, s.Allow("tool_call"), "unchanged limit keeps the window")

	s.Configure("tool_call", Limit{MaxRequests: 2, Window: time.Minute})
	assert.True(t, s.Allow("tool_call"))

	s.Reset()
	assert.True(t, s.Allow("tool_call"))

	s.Remove("tool_call")
	for i := 0; i < 10; i++ {
		assert.True(t, s.Allow("tool_call"))
	}
}
