// Package ratelimit implements the per-key token bucket described in
// wskit's rate-limiter component: a frozen policy, a lazily
// created bucket per key, and a per-key FIFO mutex so concurrent
// consumers of the same key serialize cleanly while different keys
// never contend. The sharding idea is adapted from
// go-concurrency/projects/rate-limiter/final/rate_limiter.go, trimmed
// down to the single-shard-per-key form this limiter needs.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Clock returns the current time. Production code uses time.Now;
// tests inject a controllable clock.
type Clock func() time.Time

// Policy is the frozen configuration of a Limiter. Mutating a Policy
// value after passing it to New has no effect on the limiter — the
// limiter copies it.
type Policy struct {
	// Capacity is the maximum token count (>= 1).
	Capacity float64
	// TokensPerSecond is the refill rate (> 0).
	TokensPerSecond float64
	// Prefix is prepended to every key before bucketing.
	Prefix string
}

// Decision is the outcome of a Consume call.
type Decision struct {
	Allowed      bool
	Remaining    int64
	RetryAfterMs *int64
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Limiter is a process-local, per-key token bucket rate limiter.
type Limiter struct {
	policy Policy
	clock  Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a Limiter with the given frozen policy. A nil clock
// defaults to time.Now.
func New(policy Policy, clock Clock) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		policy:  policy,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

// Policy returns the limiter's frozen policy.
func (l *Limiter) Policy() Policy { return l.policy }

// Consume attempts to take cost tokens from key's bucket: compose the
// effective key, acquire that key's mutex, refill based on elapsed
// time (clamped to zero on clock regression), then allow or deny.
func (l *Limiter) Consume(key string, cost float64) Decision {
	effectiveKey := l.policy.Prefix + key

	b := l.getOrCreate(effectiveKey)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.clock()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0 // clock regression: no refill, never debit
	}
	refilled := math.Floor(elapsed * l.policy.TokensPerSecond)
	b.tokens = math.Min(l.policy.Capacity, b.tokens+refilled)
	b.lastRefill = now

	if b.tokens < cost {
		var retryAfterMs *int64
		if cost <= l.policy.Capacity {
			deficit := cost - b.tokens
			ms := int64(math.Ceil(deficit / l.policy.TokensPerSecond * 1000))
			retryAfterMs = &ms
		}
		return Decision{
			Allowed:      false,
			Remaining:    int64(math.Floor(b.tokens)),
			RetryAfterMs: retryAfterMs,
		}
	}

	b.tokens -= cost
	return Decision{Allowed: true, Remaining: int64(math.Floor(b.tokens))}
}

func (l *Limiter) getOrCreate(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.policy.Capacity, lastRefill: l.clock()}
		l.buckets[key] = b
	}
	return b
}

// Dispose clears all buckets, releasing their memory. The limiter
// remains usable afterward — new keys are created lazily again.
func (l *Limiter) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}
