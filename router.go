package wskit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wskit/wskit/internal/connstate"
	"github.com/wskit/wskit/internal/rpctable"
)

type registeredHandler struct {
	descr   *Descriptor
	eventFn EventHandler
	rpcFn   RPCHandler
}

// Router is the top-level assembly object: a handler registry, a
// middleware chain, lifecycle/error sinks, and the pub/sub and
// rate-limit collaborators a deployment wires in.
type Router struct {
	options Options

	validator   ValidatorAdapter
	pubsub      PubSubAdapter
	localIndex  *MemoryPubSub
	topics      *topicsManager
	rateLimiter *RateLimiter
	log         *slog.Logger
	consumer    BrokerConsumer

	mu       sync.RWMutex
	handlers map[string][]registeredHandler
	mw       []Middleware
	onOpens  []LifecycleFunc
	onCloses []func(conn *Connection, code int, reason string)
	onErrors []ErrorFunc
	onAuth   AuthFunc
	plugins  []Plugin

	conns   map[string]*Connection
	connsMu sync.RWMutex

	started atomic.Bool
}

// RouterOption configures a Router at construction time.
type RouterOption func(*Router)

// WithValidator sets the ValidatorAdapter used for inbound/outbound
// schema checks.
func WithValidator(v ValidatorAdapter) RouterOption {
	return func(r *Router) { r.validator = v }
}

// WithPubSub sets a distributed PubSubAdapter backend. Local fan-out to
// connections on this instance always goes through the router's
// in-memory index regardless of this setting.
func WithPubSub(p PubSubAdapter) RouterOption {
	return func(r *Router) { r.pubsub = p }
}

// WithRateLimiter attaches a shared RateLimiter; handlers and
// middleware consult it via Router.RateLimiter.
func WithRateLimiter(rl *RateLimiter) RouterOption {
	return func(r *Router) { r.rateLimiter = rl }
}

// WithLogger sets the structured logger used for internal diagnostics.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

// WithBrokerConsumer attaches a distributed-ingress consumer.
func WithBrokerConsumer(c BrokerConsumer) RouterOption {
	return func(r *Router) { r.consumer = c }
}

// NewRouter builds a Router from opts and any RouterOptions. A
// MemoryPubSub is always constructed as the local fan-out index; pass
// WithPubSub to additionally wire a distributed backend.
func NewRouter(opts Options, opts2 ...RouterOption) *Router {
	r := &Router{
		options:    opts,
		localIndex: NewMemoryPubSub(),
		handlers:   make(map[string][]registeredHandler),
		conns:      make(map[string]*Connection),
		log:        slog.Default(),
	}
	for _, o := range opts2 {
		o(r)
	}
	if r.pubsub == nil {
		r.pubsub = r.localIndex
	}
	r.topics = newTopicsManager(r.pubsub, r.localIndex, DefaultTopicValidator, opts.Limits.MaxTopicsPerConn)
	return r
}

func (r *Router) logger() *slog.Logger { return r.log }

func (r *Router) guardRegistration() error {
	if r.started.Load() {
		return ErrRouterStarted
	}
	return nil
}

// On registers an event handler. Multiple handlers per type run in
// registration order.
func (r *Router) On(descr *Descriptor, handler EventHandler) error {
	if err := r.guardRegistration(); err != nil {
		return err
	}
	d := *descr
	d.Kind = KindEvent
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[d.Type] = append(r.handlers[d.Type], registeredHandler{descr: &d, eventFn: handler})
	return nil
}

// RPC registers a request/response handler.
func (r *Router) RPC(descr *Descriptor, handler RPCHandler) error {
	if err := r.guardRegistration(); err != nil {
		return err
	}
	d := *descr
	d.Kind = KindRPC
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[d.Type] = append(r.handlers[d.Type], registeredHandler{descr: &d, rpcFn: handler})
	return nil
}

// Use appends mw to the global middleware chain.
func (r *Router) Use(mw Middleware) error {
	if err := r.guardRegistration(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mw = append(r.mw, mw)
	return nil
}

// OnOpen registers a hook run when a connection reaches Open.
func (r *Router) OnOpen(fn LifecycleFunc) error {
	if err := r.guardRegistration(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOpens = append(r.onOpens, fn)
	return nil
}

// OnClose registers a hook run when a connection is destroyed.
func (r *Router) OnClose(fn func(conn *Connection, code int, reason string)) error {
	if err := r.guardRegistration(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCloses = append(r.onCloses, fn)
	return nil
}

// OnError registers a non-fatal error sink. Multiple sinks run in
// registration order; a panic inside a sink is recovered and logged
// rather than propagated.
func (r *Router) OnError(fn ErrorFunc) error {
	if err := r.guardRegistration(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onErrors = append(r.onErrors, fn)
	return nil
}

// OnAuth sets the single-slot authentication hook, replacing any prior.
func (r *Router) OnAuth(fn AuthFunc) error {
	if err := r.guardRegistration(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAuth = fn
	return nil
}

// Plugin folds p into the router's Context factory.
func (r *Router) Plugin(p Plugin) error {
	if err := r.guardRegistration(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
	return nil
}

// Merge takes the union of other's handlers and middleware into r,
// preserving registration order.
func (r *Router) Merge(other *Router) error {
	if err := r.guardRegistration(); err != nil {
		return err
	}
	other.mu.RLock()
	defer other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for typ, hs := range other.handlers {
		r.handlers[typ] = append(r.handlers[typ], hs...)
	}
	r.mw = append(r.mw, other.mw...)
	r.onOpens = append(r.onOpens, other.onOpens...)
	r.onCloses = append(r.onCloses, other.onCloses...)
	r.onErrors = append(r.onErrors, other.onErrors...)
	r.plugins = append(r.plugins, other.plugins...)
	if r.onAuth == nil {
		r.onAuth = other.onAuth
	}
	return nil
}

// Publish broadcasts payload to topic with no sender connection
// (a router-level broadcast, as opposed to a handler-initiated one).
func (r *Router) Publish(ctx context.Context, topic string, descr *Descriptor, payload []byte, meta map[string]any) PublishResult {
	return r.publishInternal(ctx, PublishEnvelope{
		Topic:   topic,
		Type:    descr.Type,
		Payload: payload,
		Meta:    normalizeMeta(meta),
	})
}

// publishInternal calls the configured PubSubAdapter for capability
// reporting and always fans the envelope out to locally connected
// subscribers tracked by the router's in-memory index.
func (r *Router) publishInternal(ctx context.Context, env PublishEnvelope) PublishResult {
	res := r.pubsub.Publish(ctx, env)

	recipients := r.localIndex.Recipients(env.Topic, env.ExcludeClientID)
	if len(recipients) == 0 {
		return res
	}

	frame, err := encodeEnvelope(env.Type, env.Meta, rawPayload(env.Payload))
	if err != nil {
		return res
	}

	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	for _, id := range recipients {
		if conn, ok := r.conns[id]; ok {
			_ = conn.send(ctx, frame)
		}
	}
	return res
}

// rawPayload wraps already-encoded JSON bytes so encodeEnvelope's
// json.Marshal re-emits them verbatim instead of base64-encoding a []byte.
type rawPayload []byte

func (p rawPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// RateLimiter returns the router's shared rate limiter, or nil if none
// was configured.
func (r *Router) RateLimiter() *RateLimiter { return r.rateLimiter }

// Accept registers a newly upgraded connection, freezes further
// registration, transitions it to Open, and runs every onOpen hook.
func (r *Router) Accept(ctx context.Context, socket ServerSocket) *Connection {
	r.started.Store(true)

	conn := newConnection(r, socket)
	conn.state.Transition(connstate.StateOpen)

	r.connsMu.Lock()
	r.conns[conn.ClientID] = conn
	r.connsMu.Unlock()

	conn.startHeartbeat(ctx, r.log)

	r.mu.RLock()
	hooks := append([]LifecycleFunc(nil), r.onOpens...)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(conn)
	}
	return conn
}

// closeConnection runs the terminal-close drain and the registered
// onClose hooks, then forgets the connection.
func (r *Router) closeConnection(ctx context.Context, conn *Connection, code int, reason string) {
	_ = conn.socket.Close(code, reason)
	conn.state.Transition(connstate.StateClosing)
	conn.state.Transition(connstate.StateClosed)
	conn.destroy()
	r.topics.forget(conn.ClientID)

	r.connsMu.Lock()
	delete(r.conns, conn.ClientID)
	r.connsMu.Unlock()

	r.mu.RLock()
	hooks := append([]func(conn *Connection, code int, reason string){}, r.onCloses...)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(conn, code, reason)
	}
}

// HandleClose is called by a PlatformAdapter when the wire reports
// closed.
func (r *Router) HandleClose(ctx context.Context, conn *Connection, code int, reason string) {
	r.closeConnection(ctx, conn, code, reason)
}

// HandlePong resets the given connection's heartbeat timeout.
func (r *Router) HandlePong(conn *Connection) { conn.OnPong() }

// OnMessage, OnClose, and OnPong let *Router itself satisfy
// PlatformAdapter directly: a transport package that owns upgrade and
// the read loop can hand frames straight to a Router instead of
// writing its own bridging type.
func (r *Router) OnMessage(ctx context.Context, conn *Connection, frame []byte) error {
	return r.HandleMessage(ctx, conn, frame)
}

func (r *Router) OnClose(conn *Connection, code int, reason string) {
	r.HandleClose(context.Background(), conn, code, reason)
}

func (r *Router) OnPong(conn *Connection) { r.HandlePong(conn) }

var _ PlatformAdapter = (*Router)(nil)

func (r *Router) emitError(de *DispatchError) {
	r.mu.RLock()
	sinks := append([]ErrorFunc{}, r.onErrors...)
	r.mu.RUnlock()
	for _, fn := range sinks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("onError sink panicked", "recover", rec)
				}
			}()
			fn(de)
		}()
	}
}

func (r *Router) lookupHandlers(typ string) ([]registeredHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs, ok := r.handlers[typ]
	return hs, ok
}

func (r *Router) buildContext(ctx context.Context, conn *Connection, env Envelope, descr *Descriptor, entry *rpctable.Entry) *Context {
	c := &Context{
		ctx:        ctx,
		ClientID:   conn.ClientID,
		Type:       env.Type,
		conn:       conn,
		router:     r,
		env:        env,
		descr:      descr,
		entry:      entry,
		Extensions: make(map[string]any),
	}
	r.mu.RLock()
	plugins := append([]Plugin{}, r.plugins...)
	r.mu.RUnlock()
	for _, p := range plugins {
		c.Extensions[p.Name()] = p.Install(c, c.Extensions[p.Name()])
	}
	return c
}
