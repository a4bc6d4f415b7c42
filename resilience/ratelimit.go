package resilience

import (
	"sync"
	"time"
)

// Limit is a fixed-window rate limit. A zero MaxRequests disables limiting.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// RateLimiter admits at most MaxRequests per Window. Rejected requests are
// not queued.
type RateLimiter struct {
	limit Limit
	clock Clock

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewRateLimiter creates a limiter.
func NewRateLimiter(limit Limit, clock Clock) *RateLimiter {
	return &RateLimiter{limit: limit, clock: clockOrDefault(clock)}
}

// Allow records a request and reports whether it fits in the current window.
func (l *RateLimiter) Allow() bool {
	if l.limit.MaxRequests <= 0 || l.limit.Window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.limit.Window {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.limit.MaxRequests {
		return false
	}
	l.count++
	return true
}

// Remaining returns how many requests the current window still admits.
func (l *RateLimiter) Remaining() int {
	if l.limit.MaxRequests <= 0 || l.limit.Window <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.windowStart.IsZero() || l.clock.Now().Sub(l.windowStart) >= l.limit.Window {
		return l.limit.MaxRequests
	}
	return l.limit.MaxRequests - l.count
}

// Reset clears the current window.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	l.windowStart = time.Time{}
	l.count = 0
	l.mu.Unlock()
}

// LimiterSet holds one limiter per category. Categories without a
// configured limit are unlimited.
type LimiterSet struct {
	clock Clock

	mu       sync.Mutex
	limits   map[string]Limit
	limiters map[string]*RateLimiter
}

// NewLimiterSet creates a set with the given per-category limits.
func NewLimiterSet(limits map[string]Limit, clock Clock) *LimiterSet {
	s := &LimiterSet{
		clock:    clockOrDefault(clock),
		limits:   make(map[string]Limit, len(limits)),
		limiters: make(map[string]*RateLimiter),
	}
	for k, v := range limits {
		s.limits[k] = v
	}
	return s
}

// Allow records a request in category.
func (s *LimiterSet) Allow(category string) bool {
	s.mu.Lock()
	l, ok := s.limiters[category]
	if !ok {
		limit, configured := s.limits[category]
		if !configured {
			s.mu.Unlock()
			return true
		}
		l = NewRateLimiter(limit, s.clock)
		s.limiters[category] = l
	}
	s.mu.Unlock()
	return l.Allow()
}

// Configure sets the limit of category. An unchanged limit keeps the
// current window.
func (s *LimiterSet) Configure(category string, limit Limit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.limits[category]; ok && old == limit {
		return
	}
	s.limits[category] = limit
	delete(s.limiters, category)
}

// Remove drops the limit of category.
func (s *LimiterSet) Remove(category string) {
	s.mu.Lock()
	delete(s.limits, category)
	delete(s.limiters, category)
	s.mu.Unlock()
}

// Reset clears every window.
func (s *LimiterSet) Reset() {
	s.mu.Lock()
	limiters := make([]*RateLimiter, 0, len(s.limiters))
	for _, l := range s.limiters {
		limiters = append(limiters, l)
	}
	s.mu.Unlock()
	for _, l := range limiters {
		l.Reset()
	}
}
