package resilience

import (
	"context"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default breaker settings.
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 60 * time.Second
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int
	// Timeout is how long the breaker stays open before allowing a trial
	// call. Default: 60s.
	Timeout time.Duration
	// IsFailure decides whether an error counts against the breaker.
	// Default: errors whose category is Retryable.
	IsFailure func(error) bool
	// OnStateChange is called after every transition.
	OnStateChange func(name string, from, to State)
	Clock         Clock
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultBreakerThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultBreakerTimeout
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return Retryable(Classify(err)) }
	}
	c.Clock = clockOrDefault(c.Clock)
	return c
}

// CircuitBreaker guards one operation class. While open, Execute fails with
// ErrCircuitOpen without invoking the guarded function.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{name: name, cfg: cfg.withDefaults()}
}

// Execute runs fn if the breaker admits the call and records its outcome.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *CircuitBreaker) admit() bool {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.cfg.Clock.Now().Sub(b.lastFailure) < b.cfg.Timeout {
			b.mu.Unlock()
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return false
		}
		b.probing = true
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return true
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	from := b.state
	if err == nil || !b.cfg.IsFailure(err) {
		b.state = StateClosed
		b.failures = 0
		b.probing = false
	} else {
		b.failures++
		b.lastFailure = b.cfg.Clock.Now()
		if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
			b.state = StateOpen
		}
		b.probing = false
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *CircuitBreaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker whose timeout elapsed
// still reports open until the next call.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears its counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.lastFailure = time.Time{}
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

// BreakerSet holds one breaker per operation class.
type BreakerSet struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty set whose breakers share cfg.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for class, creating it on first use.
func (s *BreakerSet) Get(class string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[class]
	if !ok {
		b = NewCircuitBreaker(class, s.cfg)
		s.breakers[class] = b
	}
	return b
}

// States returns a snapshot of every breaker's state.
func (s *BreakerSet) States() map[string]State {
	s.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(s.breakers))
	for k, v := range s.breakers {
		breakers[k] = v
	}
	s.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for k, b := range breakers {
		out[k] = b.State()
	}
	return out
}

// ResetAll closes every breaker.
func (s *BreakerSet) ResetAll() {
	s.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()
	for _, b := range breakers {
		b.Reset()
	}
}
