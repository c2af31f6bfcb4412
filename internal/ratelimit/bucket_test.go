package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConsume_AllowsUpToCapacity(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(Policy{Capacity: 5, TokensPerSecond: 1}, func() time.Time { return now })

	for i := 0; i < 5; i++ {
		d := l.Consume("k", 1)
		if !d.Allowed {
			t.Fatalf("consume %d: want allowed, got denied", i)
		}
	}
	d := l.Consume("k", 1)
	if d.Allowed {
		t.Fatalf("6th consume: want denied, got allowed")
	}
	if d.RetryAfterMs == nil || *d.RetryAfterMs <= 0 {
		t.Fatalf("want positive retryAfterMs, got %v", d.RetryAfterMs)
	}
}

func TestConsume_CostExceedsCapacity_NoRetryAfter(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(Policy{Capacity: 5, TokensPerSecond: 1}, func() time.Time { return now })

	d := l.Consume("k", 10)
	if d.Allowed {
		t.Fatalf("want denied when cost > capacity")
	}
	if d.RetryAfterMs != nil {
		t.Fatalf("want nil retryAfterMs when cost > capacity, got %v", *d.RetryAfterMs)
	}
}

func TestConsume_ClockRegressionClampedToZero(t *testing.T) {
	now := time.Unix(100, 0)
	l := New(Policy{Capacity: 5, TokensPerSecond: 10}, func() time.Time { return now })

	l.Consume("k", 5) // drain to zero

	now = time.Unix(50, 0) // clock moves backward
	d := l.Consume("k", 1)
	if d.Allowed {
		t.Fatalf("want denied: clock regression must not refill")
	}
}

func TestConsume_IndependentKeys(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(Policy{Capacity: 1, TokensPerSecond: 1}, func() time.Time { return now })

	if !l.Consume("a", 1).Allowed {
		t.Fatalf("key a should be allowed")
	}
	if !l.Consume("b", 1).Allowed {
		t.Fatalf("key b should be independently allowed")
	}
}

func TestConsume_PrefixIsApplied(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(Policy{Capacity: 1, TokensPerSecond: 1, Prefix: "rpc:"}, func() time.Time { return now })

	l.Consume("k", 1)
	d := l.Consume("k", 1) // same logical key, same effective key → still denied
	if d.Allowed {
		t.Fatalf("want denied: prefix must compose into the same effective key across calls")
	}
}

// TestConsume_Concurrent checks that a bucket with capacity 5 under
// ten concurrent single-token consumers allows exactly 5 and denies 5.
func TestConsume_Concurrent(t *testing.T) {
	l := New(Policy{Capacity: 5, TokensPerSecond: 0.001}, time.Now)

	var allowed, denied int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := l.Consume("k", 1)
			if d.Allowed {
				atomic.AddInt64(&allowed, 1)
			} else {
				atomic.AddInt64(&denied, 1)
				if d.RetryAfterMs == nil || *d.RetryAfterMs <= 0 {
					t.Errorf("blocked decision must carry a positive retryAfterMs, got %v", d.RetryAfterMs)
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 5 || denied != 5 {
		t.Fatalf("want 5 allowed / 5 denied, got %d allowed / %d denied", allowed, denied)
	}
}

func TestPolicy_FrozenAtConstruction(t *testing.T) {
	p := Policy{Capacity: 5, TokensPerSecond: 1}
	l := New(p, time.Now)
	p.Capacity = 100 // mutate caller's copy after construction

	if l.Policy().Capacity != 5 {
		t.Fatalf("limiter policy must not be affected by mutations to caller's struct")
	}
}

func TestDispose_ClearsBuckets(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(Policy{Capacity: 1, TokensPerSecond: 1}, func() time.Time { return now })

	l.Consume("k", 1)
	l.Dispose()

	d := l.Consume("k", 1)
	if !d.Allowed {
		t.Fatalf("want allowed after Dispose recreates the bucket fresh")
	}
}
