package transport

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/toolgateway/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingTransport records how often it was closed.
type countingTransport struct {
	closes atomic.Int32
	err    error
}

func (t *countingTransport) Close() error {
	t.closes.Add(1)
	return t.err
}

type harness struct {
	clock      *fakeClock
	mgr        *Manager
	mu         sync.Mutex
	transports map[string]*countingTransport
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), transports: make(map[string]*countingTransport)}
	opts.Clock = h.clock
	opts.NewTransport = func(id string) Transport {
		ct := &countingTransport{}
		h.mu.Lock()
		h.transports[id] = ct
		h.mu.Unlock()
		return ct
	}
	h.mgr = NewManager(opts)
	t.Cleanup(h.mgr.Shutdown)
	return h
}

func (h *harness) closes(id string) int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[id].closes.Load()
}

func TestAcquire_IssuesAndReuses(t *testing.T) {
	h := newHarness(t, Options{})

	s, created, err := h.mgr.Acquire("")
	require.NoError(t, err)
	assert.True(t, created)
	parsed, err := uuid.Parse(s.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	again, created, err := h.mgr.Acquire(s.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s, again)

	supplied, created, err := h.mgr.Acquire("client-chosen-id")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "client-chosen-id", supplied.ID)
	assert.Equal(t, 2, h.mgr.Len())
}

func TestAcquire_RejectsInvalidIDs(t *testing.T) {
	h := newHarness(t, Options{})
	for _, id := range []string{"has space", "tab\tid", strings.Repeat("x", MaxSessionIDLength+1), "é"} {
		_, _, err := h.mgr.Acquire(id)
		assert.ErrorIs(t, err, ErrInvalidSessionID, id)
	}
	assert.Equal(t, 0, h.mgr.Len())
}

func TestAcquire_Stateless(t *testing.T) {
	h := newHarness(t, Options{Mode: ModeStateless})
	_, _, err := h.mgr.Acquire("")
	assert.ErrorIs(t, err, ErrStateless)

	s := h.mgr.Ephemeral()
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 0, h.mgr.Len(), "ephemeral sessions are never stored")
	h.mgr.Release(s)
	h.mgr.Release(s)
	assert.Equal(t, int32(1), h.closes(s.ID))
}

func TestLookup(t *testing.T) {
	h := newHarness(t, Options{})
	s, _, err := h.mgr.Acquire("abc")
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	got, err := h.mgr.Lookup("abc")
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, h.clock.Now(), got.LastAccess())

	_, err = h.mgr.Lookup("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCapacity_EvictsLeastRecentlyUsed(t *testing.T) {
	h := newHarness(t, Options{MaxSessions: 3})

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := h.mgr.Acquire(id)
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}
	// Touch "a" so "b" becomes the oldest.
	_, _, err := h.mgr.Acquire("a")
	require.NoError(t, err)
	h.clock.Advance(time.Second)

	_, created, err := h.mgr.Acquire("d")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 3, h.mgr.Len())

	_, err = h.mgr.Lookup("b")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, int32(1), h.closes("b"))
	for _, id := range []string{"a", "c", "d"} {
		_, err := h.mgr.Lookup(id)
		assert.NoError(t, err, id)
		assert.Equal(t, int32(0), h.closes(id), id)
	}

	// Reusing a live session never evicts.
	_, created, err = h.mgr.Acquire("c")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 3, h.mgr.Len())
}

func TestSweep_ExpiresIdleSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, Options{TTL: 10 * time.Minute, Metrics: m})

	_, _, err := h.mgr.Acquire("old")
	require.NoError(t, err)
	h.clock.Advance(8 * time.Minute)
	_, _, err = h.mgr.Acquire("fresh")
	require.NoError(t, err)
	h.clock.Advance(3 * time.Minute)

	assert.Equal(t, 1, h.mgr.Sweep())
	_, err = h.mgr.Lookup("old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.mgr.Lookup("fresh")
	assert.NoError(t, err)

	assert.Equal(t, 0, h.mgr.Sweep())
	assert.Equal(t, int32(1), h.closes("old"), "transport released exactly once")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionEvictions.WithLabelValues(ReasonExpired)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveSessions))
}

func TestSweep_RunsOnTicker(t *testing.T) {
	h := newHarness(t, Options{TTL: time.Minute, SweepInterval: 5 * time.Millisecond})
	_, _, err := h.mgr.Acquire("idle")
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	h.mgr.Start()
	h.mgr.Start()
	assert.Eventually(t, func() bool { return h.mgr.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.closes("idle"))
}

func TestTerminate_Idempotent(t *testing.T) {
	h := newHarness(t, Options{})
	_, _, err := h.mgr.Acquire("s1")
	require.NoError(t, err)

	h.mgr.Terminate("s1")
	h.mgr.Terminate("s1")
	h.mgr.Terminate("never-existed")
	assert.Equal(t, 0, h.mgr.Len())
	assert.Equal(t, int32(1), h.closes("s1"))
}

func TestShutdown_ClosesEverything(t *testing.T) {
	h := newHarness(t, Options{SweepInterval: time.Millisecond})
	h.mgr.Start()
	for _, id := range []string{"a", "b", "c"} {
		_, _, err := h.mgr.Acquire(id)
		require.NoError(t, err)
	}
	h.transports["b"].err = errors.New("already gone")

	h.mgr.Shutdown()
	h.mgr.Shutdown()

	assert.Equal(t, 0, h.mgr.Len())
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, int32(1), h.closes(id), id)
	}
	_, _, err := h.mgr.Acquire("d")
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestConcurrentAcquire(t *testing.T) {
	h := newHarness(t, Options{MaxSessions: 10})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = h.mgr.Acquire("")
			_, _, _ = h.mgr.Acquire("shared")
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, h.mgr.Len(), 10)
}

func TestStream(t *testing.T) {
	s := NewStream(1)
	assert.True(t, s.Send([]byte("a")))
	assert.False(t, s.Send([]byte("b")), "full stream drops")
	assert.Equal(t, []byte("a"), <-s.Events())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Send([]byte("c")))
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}

	m := NewManager(Options{})
	defer m.Shutdown()
	sess, _, err := m.Acquire("")
	require.NoError(t, err)
	_, ok := sess.Stream()
	assert.True(t, ok, "default transport is a Stream")
}
