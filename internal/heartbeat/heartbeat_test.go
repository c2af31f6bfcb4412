package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_PingsOnInterval(t *testing.T) {
	var pings atomic.Int32
	s := Start(context.Background(), Config{
		Interval: 10 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Ping: func() error {
			pings.Add(1)
			return nil
		},
	})
	defer s.Stop()

	deadline := time.After(300 * time.Millisecond)
	for pings.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 pings, got %d", pings.Load())
		case <-time.After(5 * time.Millisecond):
			s.Pong() // answer each ping so the scheduler keeps its cadence
		}
	}
}

func TestScheduler_PongKeepsAlive(t *testing.T) {
	stopped := make(chan struct{})
	s := Start(context.Background(), Config{
		Interval: 10 * time.Millisecond,
		Timeout:  20 * time.Millisecond,
		Ping:     func() error { return nil },
		OnStale:  func() { close(stopped) },
	})
	defer s.Stop()

	for i := 0; i < 10; i++ {
		time.Sleep(8 * time.Millisecond)
		s.Pong()
	}

	select {
	case <-stopped:
		t.Fatalf("scheduler should not have declared stale while pongs keep arriving")
	default:
	}
	if s.IsStale() {
		t.Fatalf("IsStale() = true, want false")
	}
}

func TestScheduler_DeclaresStaleOnPongTimeout(t *testing.T) {
	stale := make(chan struct{})
	s := Start(context.Background(), Config{
		Interval: 10 * time.Millisecond,
		Timeout:  15 * time.Millisecond,
		Ping:     func() error { return nil },
		OnStale:  func() { close(stale) },
	})
	defer s.Stop()

	select {
	case <-stale:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("scheduler should have declared stale after no pongs arrived")
	}
	if !s.IsStale() {
		t.Fatalf("IsStale() = false, want true")
	}
}

func TestScheduler_DeclaresStaleOnPingError(t *testing.T) {
	stale := make(chan struct{})
	called := make(chan struct{}, 1)
	s := Start(context.Background(), Config{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Ping: func() error {
			select {
			case called <- struct{}{}:
			default:
			}
			return errFailedPing
		},
		OnStale: func() { close(stale) },
	})
	defer s.Stop()

	<-called
	select {
	case <-stale:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("scheduler should have declared stale after a ping error")
	}
}

func TestScheduler_StopIsIdempotentlySafe(t *testing.T) {
	s := Start(context.Background(), Config{
		Interval: time.Hour,
		Ping:     func() error { return nil },
	})
	s.Stop()
	s.Stop()
}

var errFailedPing = errPing{}

type errPing struct{}

func (errPing) Error() string { return "ping failed" }
