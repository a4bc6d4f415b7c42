package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/toolgateway/provider"
	"github.com/jonwraymond/toolgateway/resilience"
)

// Connect retry defaults.
const (
	DefaultAttempts = 3
	DefaultDelay    = 2500 * time.Millisecond
)

// Options configures a Registry.
type Options struct {
	Dialer Dialer
	// Attempts is the number of dial attempts per GetOrCreate. Default: 3.
	Attempts int
	// Delay is the fixed pause between attempts. Default: 2.5s.
	Delay  time.Duration
	Logger zerolog.Logger
	// OnDial, if set, observes every dial attempt outcome.
	OnDial func(providerID string, err error)
}

// Registry owns the provider connections.
type Registry struct {
	opts  Options
	group singleflight.Group

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool
}

// NewRegistry creates a Registry. Options.Dialer defaults to MCPDialer.
func NewRegistry(opts Options) *Registry {
	if opts.Dialer == nil {
		opts.Dialer = MCPDialer{}
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	} else if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	}
	return &Registry{
		opts:  opts,
		conns: make(map[string]*Connection),
	}
}

// GetOrCreate returns the cached connection for key or dials a new one.
// When every attempt fails the error wraps ErrUnavailable.
func (r *Registry) GetOrCreate(ctx context.Context, key, providerID string, params provider.ConnectionParams) (*Connection, error) {
	if conn, err := r.cached(key); conn != nil || err != nil {
		return conn, err
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if conn, err := r.cached(key); conn != nil || err != nil {
			return conn, err
		}
		return r.dial(ctx, key, providerID, params)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

func (r *Registry) cached(key string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.conns[key], nil
}

func (r *Registry) dial(ctx context.Context, key, providerID string, params provider.ConnectionParams) (*Connection, error) {
	log := r.opts.Logger.With().Str("provider", providerID).Logger()

	var session *mcp.ClientSession
	attempt := 0
	err := resilience.ConstantRetry(ctx, r.opts.Attempts, r.opts.Delay, func(ctx context.Context) error {
		attempt++
		s, err := r.opts.Dialer.Dial(ctx, providerID, params)
		if r.opts.OnDial != nil {
			r.opts.OnDial(providerID, err)
		}
		if err != nil {
			if s != nil {
				_ = s.Close()
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("provider connect failed")
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, providerID, attempt, err)
	}

	conn := &Connection{
		ProviderID: providerID,
		Key:        key,
		Created:    time.Now(),
		session:    session,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = session.Close()
		return nil, ErrClosed
	}
	r.conns[key] = conn
	r.mu.Unlock()

	log.Debug().Int("attempt", attempt).Msg("provider connected")
	return conn, nil
}

// Invalidate closes and forgets the connection for key.
func (r *Registry) Invalidate(key string) {
	r.mu.Lock()
	conn, ok := r.conns[key]
	delete(r.conns, key)
	r.mu.Unlock()

	if ok {
		if err := conn.Close(); err != nil {
			r.opts.Logger.Debug().Err(err).Str("provider", conn.ProviderID).Msg("close invalidated session")
		}
	}
}

// Retain closes every connection whose key is not in keep and returns how
// many were closed.
func (r *Registry) Retain(keep map[string]bool) int {
	r.mu.Lock()
	var stale []*Connection
	for key, conn := range r.conns {
		if !keep[key] {
			stale = append(stale, conn)
			delete(r.conns, key)
		}
	}
	r.mu.Unlock()

	for _, conn := range stale {
		_ = conn.Close()
	}
	return len(stale)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every connection and empties the table. The registry
// stays usable: the next GetOrCreate dials afresh, so a discovery cycle can
// call it to force reconnection.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()
	return closeConns(conns)
}

// Close closes every connection and retires the registry. Later
// GetOrCreate calls fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()
	return closeConns(conns)
}

func closeConns(conns map[string]*Connection) error {
	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
