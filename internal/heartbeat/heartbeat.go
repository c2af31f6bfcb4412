// Package heartbeat implements the ping/pong liveness scheduler for a
// single connection: a cadence of outbound pings, a timeout on the
// answering pong, and a close callback fired when the peer goes stale.
// Its goroutine-per-connection shape — cancel func, done channel, one
// run loop — mirrors the same pattern used for the broker reconnect
// poll in examples/mqttbroker, swapped here for a fixed-interval
// ping/deadline loop instead of a connection probe.
package heartbeat

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// PingFunc sends a ping frame to the connection. An error is treated
// the same as a pong timeout: the scheduler declares the connection
// stale and stops.
type PingFunc func() error

// Config controls ping cadence and pong timeout.
type Config struct {
	// Interval between pings (default: 30s).
	Interval time.Duration

	// Timeout is how long the scheduler waits for a Pong call after a
	// ping before declaring the connection stale (default: Interval).
	Timeout time.Duration

	// Ping sends one ping frame. Required.
	Ping PingFunc

	// OnStale is called once, from the scheduler's own goroutine, when
	// no pong arrives within Timeout. Optional.
	OnStale func()

	Logger *slog.Logger
}

// Scheduler runs the ping/pong liveness loop for one connection.
type Scheduler struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}
	stale  atomic.Bool
	pongCh chan struct{}
}

// Start configures defaults, launches the scheduler's goroutine, and
// returns it running. Callers must call Stop to release resources.
func Start(ctx context.Context, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Ping == nil {
		panic("heartbeat: Config.Ping must not be nil")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		pongCh: make(chan struct{}, 1),
	}
	go s.run(runCtx)
	return s
}

// Pong records a pong arrival, clearing any pending timeout.
func (s *Scheduler) Pong() {
	select {
	case s.pongCh <- struct{}{}:
	default:
	}
}

// IsStale reports whether the scheduler has already declared the
// connection dead.
func (s *Scheduler) IsStale() bool {
	return s.stale.Load()
}

// Stop cancels the scheduler and waits for its goroutine to exit. Once
// the connection has been declared stale the goroutine is already on its
// way out, so Stop returns without waiting; this lets OnStale itself
// (which runs on that goroutine) call Stop without blocking on itself.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.stale.Load() {
		return
	}
	<-s.done
}

// run alternates between waiting out the ping interval and, after each
// ping, waiting out the pong timeout. A stray Pong received outside the
// wait window is simply drained on the next wait via the buffered
// channel and has no effect.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	for {
		if !s.sleep(ctx, s.cfg.Interval) {
			return
		}

		s.drainStalePong()

		if err := s.cfg.Ping(); err != nil {
			s.cfg.Logger.Debug("heartbeat ping failed", "error", err)
			s.declareStale()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.pongCh:
			// alive; loop back around for the next interval
		case <-time.After(s.cfg.Timeout):
			s.declareStale()
			return
		}
	}
}

func (s *Scheduler) drainStalePong() {
	select {
	case <-s.pongCh:
	default:
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) declareStale() {
	if !s.stale.CompareAndSwap(false, true) {
		return
	}
	s.cfg.Logger.Info("connection heartbeat timed out")
	if s.cfg.OnStale != nil {
		s.cfg.OnStale()
	}
}
