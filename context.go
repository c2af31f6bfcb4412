package wskit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wskit/wskit/internal/connstate"
	"github.com/wskit/wskit/internal/rpctable"
)

// Context is assembled once per inbound message and passed to
// middleware and the matched handler. Its base fields are always
// present; the Messaging, RPC, and Pub/Sub method sets described below
// are baked into every Context rather than opt-in, treating them as
// the router's standard vocabulary — RPC methods simply guard
// on Kind. Genuinely optional, caller-supplied behavior hangs off
// Extensions instead (see Plugin).
type Context struct {
	ctx context.Context

	ClientID string
	Type     string
	conn     *Connection
	router   *Router
	env      Envelope
	descr    *Descriptor
	entry    *rpctable.Entry // non-nil only for Kind == KindRPC

	// Extensions holds router-plugin-contributed state, keyed by plugin
	// name, following a decorator pattern: a later plugin may read and
	// wrap an earlier plugin's entry.
	Extensions map[string]any
}

// Data returns a snapshot copy of the connection's free-form data bag;
// changing the returned map does not change the bag (use AssignData).
func (c *Context) Data() map[string]any { return c.conn.data.Snapshot() }

// Get reads one key from the connection's data bag.
func (c *Context) Get(key string) (any, bool) { return c.conn.data.Get(key) }

// AssignData merges patch into the connection's data bag.
func (c *Context) AssignData(patch map[string]any) { c.conn.data.AssignData(patch) }

// WS returns the connection's opaque socket handle, for adapters that
// need to thread platform-specific context through a handler.
func (c *Context) WS() ServerSocket { return c.conn.socket }

// Conn returns the underlying Connection.
func (c *Context) Conn() *Connection { return c.conn }

// SendOptions customizes an outbound Messaging-plugin send.
type SendOptions struct {
	Meta                 map[string]any
	InheritCorrelationID bool
	Signal               <-chan struct{}
}

// Send emits a fire-and-forget outbound frame of the given descriptor's
// type. Reserved meta keys in opts.Meta are
// stripped. A firing Signal observed before the frame is handed to the
// socket results in a silent no-op.
func (c *Context) Send(descr *Descriptor, payload any, opts *SendOptions) error {
	if c.isDead() {
		c.logNoop("send")
		return nil
	}
	if opts != nil && signalFired(opts.Signal) {
		return nil
	}

	meta := map[string]any{}
	if opts != nil {
		for k, v := range normalizeMeta(opts.Meta) {
			meta[k] = v
		}
		if opts.InheritCorrelationID {
			if cid := c.env.CorrelationID(); cid != "" {
				meta["correlationId"] = cid
			}
		}
	}

	frame, err := encodeEnvelope(descr.Type, meta, payload)
	if err != nil {
		return err
	}
	return c.conn.send(c.ctx, frame)
}

// requireRPC guards RPC-only Context methods.
func (c *Context) requireRPC() error {
	if c.descr == nil || c.descr.Kind != KindRPC || c.entry == nil {
		return ErrNotRPC
	}
	return nil
}

// CorrelationID returns the in-flight RPC's correlation id, or "" if
// this Context is not an RPC context.
func (c *Context) CorrelationID() string {
	if c.entry == nil {
		return ""
	}
	return c.entry.CorrelationID
}

// AbortSignal returns a channel closed when the client sends $ws:abort
// for this correlation id, or when the connection closes.
func (c *Context) AbortSignal() (<-chan struct{}, error) {
	if err := c.requireRPC(); err != nil {
		return nil, err
	}
	return c.entry.AbortSignal(), nil
}

// OnCancel registers fn to run on abort, firing immediately if the
// entry is already aborted.
func (c *Context) OnCancel(fn func()) error {
	if err := c.requireRPC(); err != nil {
		return err
	}
	c.entry.OnCancel(fn)
	return nil
}

// ReplyOptions customizes an RPC terminal/progress frame.
type ReplyOptions struct {
	Meta map[string]any
	// ThrottleMs applies to Progress only: within the window, intermediate
	// calls are dropped.
	ThrottleMs int64
}

// Reply sends the RPC's terminal success response. Only the first of
// Reply/Error wins for a given correlation id; later
// calls are silent no-ops.
func (c *Context) Reply(payload any, opts *ReplyOptions) error {
	if err := c.requireRPC(); err != nil {
		return err
	}
	if !c.entry.TryTerminal() {
		c.router.logger().Debug("reply after terminal dropped", "correlationId", c.entry.CorrelationID)
		return nil
	}
	c.conn.rpcs.Remove(c.entry.CorrelationID)

	respType := ""
	if c.descr.Response != nil {
		respType = c.descr.Response.Type
	}
	meta := map[string]any{"correlationId": c.entry.CorrelationID}
	if opts != nil {
		for k, v := range normalizeMeta(opts.Meta) {
			meta[k] = v
		}
	}
	frame, err := encodeEnvelope(respType, meta, payload)
	if err != nil {
		return err
	}
	return c.conn.send(c.ctx, frame)
}

// Progress sends a non-terminal RPC response frame (meta.progress=true).
// It silently no-ops if the terminal has already been sent or the entry
// was aborted.
func (c *Context) Progress(payload any, opts *ReplyOptions) error {
	if err := c.requireRPC(); err != nil {
		return err
	}
	if !c.entry.Pending() {
		return nil
	}

	var throttle int64
	if opts != nil {
		throttle = opts.ThrottleMs
	}
	if throttle > 0 && c.throttled(throttle) {
		return nil
	}

	respType := ""
	if c.descr.Response != nil {
		respType = c.descr.Response.Type
	}
	meta := map[string]any{"correlationId": c.entry.CorrelationID, "progress": true}
	if opts != nil {
		for k, v := range normalizeMeta(opts.Meta) {
			meta[k] = v
		}
	}
	frame, err := encodeEnvelope(respType, meta, payload)
	if err != nil {
		return err
	}
	return c.conn.send(c.ctx, frame)
}

func (c *Context) throttled(windowMs int64) bool {
	now := time.Now().UnixMilli()
	cid := c.entry.CorrelationID

	c.conn.progressMu.Lock()
	defer c.conn.progressMu.Unlock()

	last, ok := c.conn.progressWindows[cid]
	if ok && now-last < windowMs {
		return true
	}
	c.conn.progressWindows[cid] = now
	return false
}

// Error sends the RPC's terminal error response.
func (c *Context) Error(code ErrorCode, message string, details map[string]any) error {
	if err := c.requireRPC(); err != nil {
		return err
	}
	if !c.entry.TryTerminal() {
		c.router.logger().Debug("error after terminal dropped", "correlationId", c.entry.CorrelationID)
		return nil
	}
	c.conn.rpcs.Remove(c.entry.CorrelationID)

	we := WireError{Code: code, Message: message, Details: details}
	meta := map[string]any{"correlationId": c.entry.CorrelationID}
	frame, err := encodeEnvelope("ERROR", meta, we)
	if err != nil {
		return err
	}
	return c.conn.send(c.ctx, frame)
}

// PublishOptions customizes a Pub/Sub-plugin publish call.
type PublishOptions struct {
	ExcludeSelf bool
	Meta        map[string]any
}

// Publish broadcasts payload to topic.
func (c *Context) Publish(topic string, descr *Descriptor, payload any, opts *PublishOptions) PublishResult {
	exclude := ""
	meta := map[string]any{}
	if opts != nil {
		if opts.ExcludeSelf {
			exclude = c.ClientID
		}
		for k, v := range normalizeMeta(opts.Meta) {
			meta[k] = v
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Fail(ErrInvalid, false, map[string]any{"error": err.Error()})
	}
	return c.router.publishInternal(c.ctx, PublishEnvelope{
		Topic:           topic,
		Type:            descr.Type,
		Payload:         body,
		Meta:            meta,
		ExcludeClientID: exclude,
	})
}

// Topics returns this connection's subscription management handle.
func (c *Context) Topics() *TopicsHandle {
	return &TopicsHandle{clientID: c.ClientID, mgr: c.router.topics}
}

func (c *Context) isDead() bool {
	return c.conn.State() == connstate.StateClosed
}

func (c *Context) logNoop(op string) {
	c.router.logger().Log(c.ctx, LevelTrace, "wskit: no-op after close", "op", op, "clientId", c.ClientID)
}

func signalFired(signal <-chan struct{}) bool {
	if signal == nil {
		return false
	}
	select {
	case <-signal:
		return true
	default:
		return false
	}
}

func encodeEnvelope(typ string, meta map[string]any, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wskit: encoding outbound payload: %w", err)
	}
	env := struct {
		Type    string          `json:"type"`
		Meta    map[string]any  `json:"meta,omitempty"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}{Type: typ, Meta: meta, Payload: body}
	return json.Marshal(env)
}
