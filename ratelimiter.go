package wskit

import (
	"time"

	"github.com/wskit/wskit/internal/ratelimit"
)

// RateLimitPolicy configures a token bucket.
type RateLimitPolicy struct {
	Capacity        float64
	TokensPerSecond float64
	Prefix          string
}

// RateDecision is the tagged, non-throwing result of a rate-limit check.
type RateDecision struct {
	Allowed      bool
	Remaining    int64
	RetryAfterMs *int64
}

// RateLimiter is a per-key token bucket rate limiter. The
// zero value is not usable; construct with NewRateLimiter.
type RateLimiter struct {
	inner *ratelimit.Limiter
}

// NewRateLimiter creates a rate limiter over policy using wall time.
func NewRateLimiter(policy RateLimitPolicy) *RateLimiter {
	return &RateLimiter{inner: ratelimit.New(ratelimit.Policy{
		Capacity:        policy.Capacity,
		TokensPerSecond: policy.TokensPerSecond,
		Prefix:          policy.Prefix,
	}, time.Now)}
}

// newRateLimiterWithClock is used by tests to inject a deterministic clock.
func newRateLimiterWithClock(policy RateLimitPolicy, clock func() time.Time) *RateLimiter {
	return &RateLimiter{inner: ratelimit.New(ratelimit.Policy{
		Capacity:        policy.Capacity,
		TokensPerSecond: policy.TokensPerSecond,
		Prefix:          policy.Prefix,
	}, clock)}
}

// Consume attempts to debit cost tokens from key's bucket.
func (r *RateLimiter) Consume(key string, cost float64) RateDecision {
	d := r.inner.Consume(key, cost)
	return RateDecision{Allowed: d.Allowed, Remaining: d.Remaining, RetryAfterMs: d.RetryAfterMs}
}

// Policy returns the frozen policy this limiter was constructed with.
func (r *RateLimiter) Policy() RateLimitPolicy {
	p := r.inner.Policy()
	return RateLimitPolicy{Capacity: p.Capacity, TokensPerSecond: p.TokensPerSecond, Prefix: p.Prefix}
}

// Dispose clears all buckets.
func (r *RateLimiter) Dispose() { r.inner.Dispose() }
