package wskit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wskit/wskit/internal/connstate"
	"github.com/wskit/wskit/internal/heartbeat"
	"github.com/wskit/wskit/internal/rpctable"
)

// Connection is one accepted duplex session. It is created by a
// PlatformAdapter at upgrade and owned by the Router for its whole
// lifetime.
type Connection struct {
	// ClientID is assigned at upgrade and never changes.
	ClientID string

	router *Router
	socket ServerSocket

	state *connstate.Machine
	data  *connstate.DataBag
	rpcs  *rpctable.Table

	hb *heartbeat.Scheduler

	// progressWindows tracks the last-sent-at time per correlation id for
	// ctx.Progress's throttleMs option.
	progressMu      sync.Mutex
	progressWindows map[string]int64 // correlationId -> unix millis of last send

	closeOnce sync.Once
}

func newConnection(r *Router, socket ServerSocket) *Connection {
	return &Connection{
		ClientID:        connstate.NewClientID(),
		router:          r,
		socket:          socket,
		state:           connstate.NewMachine(),
		data:            connstate.NewDataBag(),
		rpcs:            rpctable.New(r.options.Limits.PendingLimit()),
		progressWindows: make(map[string]int64),
	}
}

// State returns the connection's current lifecycle stage.
func (c *Connection) State() connstate.State { return c.state.Current() }

// Data returns the connection's free-form data bag.
func (c *Connection) Data() *connstate.DataBag { return c.data }

// RemoteAddr returns the transport's logging-friendly peer address.
func (c *Connection) RemoteAddr() string { return c.socket.RemoteAddr() }

// startHeartbeat arms the ping/pong scheduler. Called once the
// connection reaches Open.
func (c *Connection) startHeartbeat(ctx context.Context, logger *slog.Logger) {
	c.hb = heartbeat.Start(ctx, heartbeat.Config{
		Interval: c.router.options.Heartbeat.Interval(),
		Timeout:  c.router.options.Heartbeat.Timeout(),
		Logger:   logger,
		Ping: func() error {
			return c.socket.Ping(ctx)
		},
		OnStale: func() {
			c.router.closeConnection(ctx, c, 1011, "HEARTBEAT_TIMEOUT")
		},
	})
}

// OnPong resets the heartbeat timeout.
func (c *Connection) OnPong() {
	if c.hb != nil {
		c.hb.Pong()
	}
}

// destroy runs the terminal-close drain: abort every in-flight RPC,
// purge subscriptions, stop the heartbeat scheduler.
// Idempotent.
func (c *Connection) destroy() {
	c.closeOnce.Do(func() {
		c.rpcs.AbortAll()
		if c.hb != nil {
			c.hb.Stop()
		}
		if c.router.pubsub != nil {
			_ = c.router.topics.replace(c.ClientID, nil)
		}
	})
}

// send writes a raw frame, silently dropping the error on an already
// closed socket — the connection lifecycle owns cleanup.
func (c *Connection) send(ctx context.Context, frame []byte) error {
	if c.state.Current() == connstate.StateClosed {
		return nil
	}
	return c.socket.Send(ctx, frame)
}
