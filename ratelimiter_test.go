package wskit

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_AllowsWithinCapacityThenRejects(t *testing.T) {
	now := time.Unix(0, 0)
	rl := newRateLimiterWithClock(RateLimitPolicy{Capacity: 5, TokensPerSecond: 1}, func() time.Time { return now })

	for i := 0; i < 5; i++ {
		d := rl.Consume("k", 1)
		if !d.Allowed {
			t.Fatalf("consume %d should be allowed within capacity", i)
		}
	}
	d := rl.Consume("k", 1)
	if d.Allowed {
		t.Fatalf("consume past capacity should be rejected")
	}
	if d.RetryAfterMs == nil {
		t.Fatalf("rejected decision should carry RetryAfterMs")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	now := time.Unix(0, 0)
	rl := newRateLimiterWithClock(RateLimitPolicy{Capacity: 2, TokensPerSecond: 1}, func() time.Time { return now })

	rl.Consume("k", 2)
	if rl.Consume("k", 1).Allowed {
		t.Fatalf("bucket should be empty")
	}
	now = now.Add(time.Second)
	if !rl.Consume("k", 1).Allowed {
		t.Fatalf("one token should have refilled after 1s at 1/s")
	}
}

func TestRateLimiter_PrefixIsolatesKeys(t *testing.T) {
	now := time.Unix(0, 0)
	a := newRateLimiterWithClock(RateLimitPolicy{Capacity: 1, TokensPerSecond: 1, Prefix: "a:"}, func() time.Time { return now })
	b := newRateLimiterWithClock(RateLimitPolicy{Capacity: 1, TokensPerSecond: 1, Prefix: "b:"}, func() time.Time { return now })

	if !a.Consume("k", 1).Allowed || !b.Consume("k", 1).Allowed {
		t.Fatalf("distinct limiters over the same raw key should not share buckets")
	}
}

func TestRateLimiter_ConcurrentConsumersRespectCapacity(t *testing.T) {
	rl := NewRateLimiter(RateLimitPolicy{Capacity: 5, TokensPerSecond: 0})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := rl.Consume("shared", 1)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Fatalf("allowed = %d, want exactly 5 out of 10 concurrent consumers against capacity 5", allowed)
	}
}

func TestRateLimiter_PolicyRoundTrips(t *testing.T) {
	policy := RateLimitPolicy{Capacity: 3, TokensPerSecond: 2, Prefix: "p:"}
	rl := NewRateLimiter(policy)
	if got := rl.Policy(); got != policy {
		t.Fatalf("Policy() = %+v, want %+v", got, policy)
	}
}
