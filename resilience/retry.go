package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default retry settings.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 500 * time.Millisecond
)

// Policy configures Retry.
type Policy struct {
	// MaxRetries is the total number of attempts. Default: 3.
	MaxRetries int
	// InitialDelay is the delay before the second attempt; each later delay
	// doubles. Default: 500ms.
	InitialDelay time.Duration
	// ShouldRetry decides whether a failed attempt may be repeated.
	// Default: errors whose category is Retryable.
	ShouldRetry func(error) bool
	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry calls fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted, or ctx is done. The delay before attempt n+1 is
// InitialDelay * 2^(n-1). It returns the last error.
func Retry(ctx context.Context, p Policy, fn func(context.Context) error) error {
	attempts := p.MaxRetries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}
	initial := p.InitialDelay
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return Retryable(Classify(err)) }
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = initial << uint(attempts)
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	op := func() error {
		err := fn(ctx)
		if err != nil && !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	attempt := 0
	notify := func(err error, delay time.Duration) {
		attempt++
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
	}
	return backoff.RetryNotify(op, policy, notify)
}

// ConstantRetry calls fn up to attempts times with a fixed delay between
// attempts, retrying every error. It returns the last error.
func ConstantRetry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)), ctx)
	return backoff.Retry(func() error { return fn(ctx) }, policy)
}
