// Package resilience provides the failure-handling primitives the gateway
// puts around every call to a provider or to the platform backend:
//
//   - CircuitBreaker: closed -> open after Threshold consecutive failures,
//     open -> half-open after Timeout, half-open -> closed on success.
//   - Retry: bounded exponential backoff that never retries client-side
//     failures.
//   - RateLimiter: fixed-window request counting per operation category.
//   - Classify / Sanitize: map raw failures to a Category and produce
//     messages that are safe to return to callers.
//
// Breakers and limiters are keyed by operation class through BreakerSet and
// LimiterSet. Their counters are reset only by explicit Reset calls.
package resilience
