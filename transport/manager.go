package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgateway/logging"
	"github.com/jonwraymond/toolgateway/metrics"
	"github.com/jonwraymond/toolgateway/resilience"
)

// Mode selects how client sessions are kept.
type Mode string

const (
	ModeStateful  Mode = "stateful"
	ModeStateless Mode = "stateless"
)

// Defaults.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultMaxSessions   = 1000
	DefaultSweepInterval = 60 * time.Second
	MaxSessionIDLength   = 128
)

// Eviction reasons reported to metrics.
const (
	ReasonExpired    = "expired"
	ReasonCapacity   = "capacity"
	ReasonTerminated = "terminated"
	ReasonShutdown   = "shutdown"
)

// Options configures a Manager.
type Options struct {
	Mode Mode
	// TTL is the idle time after which a session is swept. Default: 30m.
	TTL time.Duration
	// MaxSessions caps live sessions. Default: 1000.
	MaxSessions int
	// SweepInterval is the period of the expiry sweep. Default: 60s.
	SweepInterval time.Duration
	// NewTransport builds the handle for a new session. Default: a Stream.
	NewTransport func(id string) Transport

	Clock   resilience.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// ClientSession is one client-facing session.
type ClientSession struct {
	ID        string
	Transport Transport
	Created   time.Time

	mu         sync.Mutex
	lastAccess time.Time
	closeOnce  sync.Once
}

// LastAccess returns when the session was last used.
func (s *ClientSession) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *ClientSession) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

// Stream returns the session transport as a Stream, if it is one.
func (s *ClientSession) Stream() (*Stream, bool) {
	st, ok := s.Transport.(*Stream)
	return st, ok
}

// close releases the transport at most once.
func (s *ClientSession) close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.Transport != nil {
			err = s.Transport.Close()
		}
	})
	return err
}

// Manager owns the client session table.
type Manager struct {
	opts  Options
	clock resilience.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*ClientSession
	shutdown bool

	stop     chan struct{}
	sweeping sync.WaitGroup
	started  bool
}

// NewManager creates a Manager. Call Start to run the expiry sweep.
func NewManager(opts Options) *Manager {
	if opts.Mode == "" {
		opts.Mode = ModeStateful
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.NewTransport == nil {
		opts.NewTransport = func(string) Transport { return NewStream(DefaultStreamBuffer) }
	}
	clock := opts.Clock
	if clock == nil {
		clock = resilience.SystemClock{}
	}
	return &Manager{
		opts:     opts,
		clock:    clock,
		log:      logging.Component(opts.Logger, "transport"),
		sessions: make(map[string]*ClientSession),
		stop:     make(chan struct{}),
	}
}

// Mode returns the configured mode.
func (m *Manager) Mode() Mode { return m.opts.Mode }

// MaxSessions returns the session cap.
func (m *Manager) MaxSessions() int { return m.opts.MaxSessions }

// ValidSessionID reports whether id is 1..128 visible ASCII characters.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > MaxSessionIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// NewSessionID returns a fresh time-ordered session ID.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Acquire returns the session for id, creating it on first use. An empty id
// issues a new one. created reports whether the session is new.
func (m *Manager) Acquire(id string) (sess *ClientSession, created bool, err error) {
	if m.opts.Mode != ModeStateful {
		return nil, false, ErrStateless
	}
	if id == "" {
		id = NewSessionID()
	} else if !ValidSessionID(id) {
		return nil, false, ErrInvalidSessionID
	}

	now := m.clock.Now()
	var evicted *ClientSession

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, false, ErrShutdown
	}
	if s, ok := m.sessions[id]; ok {
		s.touch(now)
		m.mu.Unlock()
		return s, false, nil
	}
	if len(m.sessions) >= m.opts.MaxSessions {
		evicted = m.oldestLocked()
		if evicted != nil {
			delete(m.sessions, evicted.ID)
		}
	}
	sess = &ClientSession{
		ID:         id,
		Transport:  m.opts.NewTransport(id),
		Created:    now,
		lastAccess: now,
	}
	m.sessions[id] = sess
	n := len(m.sessions)
	m.mu.Unlock()

	if evicted != nil {
		m.release(evicted, ReasonCapacity)
	}
	m.opts.Metrics.SetSessions(n)
	m.log.Debug().Str("session", id).Int("sessions", n).Msg("session created")
	return sess, true, nil
}

// oldestLocked returns the least recently used session.
func (m *Manager) oldestLocked() *ClientSession {
	var oldest *ClientSession
	var oldestAt time.Time
	for _, s := range m.sessions {
		at := s.LastAccess()
		if oldest == nil || at.Before(oldestAt) {
			oldest, oldestAt = s, at
		}
	}
	return oldest
}

// Lookup returns an existing session and marks it used.
func (m *Manager) Lookup(id string) (*ClientSession, error) {
	if !ValidSessionID(id) {
		return nil, ErrInvalidSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, ErrShutdown
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.touch(m.clock.Now())
	return s, nil
}

// Ephemeral returns a throwaway session that is never stored. The caller
// must Release it when the request completes.
func (m *Manager) Ephemeral() *ClientSession {
	id := NewSessionID()
	now := m.clock.Now()
	return &ClientSession{ID: id, Transport: m.opts.NewTransport(id), Created: now, lastAccess: now}
}

// Release closes an ephemeral session's transport.
func (m *Manager) Release(s *ClientSession) {
	if s == nil {
		return
	}
	if err := s.close(); err != nil {
		m.log.Debug().Str("session", s.ID).Err(err).Msg("close ephemeral transport")
	}
}

// Terminate closes and removes a session. Unknown IDs are not an error.
func (m *Manager) Terminate(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if ok {
		m.release(s, ReasonTerminated)
		m.opts.Metrics.SetSessions(n)
	}
}

// Sweep removes every session idle longer than the TTL and returns how many
// were removed.
func (m *Manager) Sweep() int {
	now := m.clock.Now()
	var expired []*ClientSession

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastAccess()) > m.opts.TTL {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		m.release(s, ReasonExpired)
	}
	if len(expired) > 0 {
		m.opts.Metrics.SetSessions(n)
		m.log.Debug().Int("expired", len(expired)).Int("sessions", n).Msg("session sweep")
	}
	return len(expired)
}

// Start runs Sweep every SweepInterval until Shutdown. It is a no-op in
// stateless mode or when already started.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opts.Mode != ModeStateful || m.started || m.shutdown {
		return
	}
	m.started = true
	m.sweeping.Add(1)
	go func() {
		defer m.sweeping.Done()
		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Shutdown stops the sweep, closes every session, then clears the table.
// Later calls are no-ops.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	close(m.stop)
	m.mu.Unlock()

	m.sweeping.Wait()

	m.mu.Lock()
	live := make([]*ClientSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		m.release(s, ReasonShutdown)
	}

	m.mu.Lock()
	clear(m.sessions)
	m.mu.Unlock()
	m.opts.Metrics.SetSessions(0)
	m.log.Info().Int("closed", len(live)).Msg("session manager shut down")
}

// Broadcast queues msg on the Stream of every live session and returns how
// many accepted it.
func (m *Manager) Broadcast(msg []byte) int {
	m.mu.Lock()
	streams := make([]*Stream, 0, len(m.sessions))
	for _, s := range m.sessions {
		if st, ok := s.Stream(); ok {
			streams = append(streams, st)
		}
	}
	m.mu.Unlock()

	sent := 0
	for _, st := range streams {
		if st.Send(msg) {
			sent++
		}
	}
	return sent
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) release(s *ClientSession, reason string) {
	if err := s.close(); err != nil {
		m.log.Warn().Str("session", s.ID).Str("reason", reason).Err(err).Msg("close session transport")
	}
	m.opts.Metrics.Evicted(reason)
	m.log.Debug().Str("session", s.ID).Str("reason", reason).Msg("session closed")
}
