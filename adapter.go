package wskit

import "context"

// ServerSocket is the abstract per-connection transport handle the core
// consumes. A concrete implementation wraps one real duplex connection
// (e.g. a *gorilla/websocket.Conn) — see examples/gorillaws.
type ServerSocket interface {
	// Send writes one outbound frame. Implementations must preserve FIFO
	// order of calls made from a single goroutine.
	Send(ctx context.Context, frame []byte) error
	// Ping writes a transport-level ping control frame.
	Ping(ctx context.Context) error
	// Close closes the underlying connection with the given close code
	// and reason.
	Close(code int, reason string) error
	// RemoteAddr returns a logging-friendly peer address.
	RemoteAddr() string
}

// PlatformAdapter bridges a concrete transport runtime (net/http upgrade
// handler, etc.) to the router. The adapter owns accept/upgrade and the
// read loop; it calls back into the router for every inbound frame and
// lifecycle transition.
type PlatformAdapter interface {
	// OnMessage is called by the platform's read loop for each inbound
	// frame. It must be called in wire order for a given connection and
	// must not be called again for that connection until the returned
	// error (if any) has been observed.
	OnMessage(ctx context.Context, conn *Connection, frame []byte) error
	// OnClose is called once when the platform detects the wire is
	// closed, with the close code and reason as reported by the
	// transport (0/"" if unknown).
	OnClose(conn *Connection, code int, reason string)
	// OnPong is called when a pong control frame is received, resetting
	// the heartbeat timeout.
	OnPong(conn *Connection)
}

// ValidatorAdapter wraps an external schema validation library. It never
// panics or returns a Go error for validation failure — failures are
// reported through the OK field of ValidateResult.
type ValidatorAdapter interface {
	// Validate checks value against the schema referenced by schemaID
	// (the router passes Descriptor.PayloadSchemaID) and returns the
	// (possibly coerced) data on success, or issues on failure.
	Validate(schemaID any, value []byte) ValidateResult
	// ValidateOutgoing optionally validates a response payload before
	// it is sent, when outgoing validation is enabled.
	ValidateOutgoing(schemaID any, value []byte) ValidateResult
}

// ValidateResult is the non-throwing result of a ValidatorAdapter call.
type ValidateResult struct {
	OK     bool
	Data   []byte
	Issues []ValidationIssue
}

// PubSubAdapter is the pluggable pub/sub backend the topic manager and
// Router.Publish drive. The in-memory implementation lives in
// internal/pubsubmem; distributed backends (e.g. MQTT) live under
// examples/.
type PubSubAdapter interface {
	// Publish fans out an envelope to topic subscribers. Never throws —
	// failures are reported through the returned PublishResult
	//.
	Publish(ctx context.Context, env PublishEnvelope) PublishResult
	// Subscribe adds (clientID, topic) to the index. Idempotent.
	Subscribe(clientID, topic string) error
	// Unsubscribe removes (clientID, topic) from the index. Idempotent,
	// and safe to call for a non-member; no validation is performed.
	Unsubscribe(clientID, topic string) error
	// GetSubscribers returns the current subscriber set for topic.
	GetSubscribers(ctx context.Context, topic string) ([]string, error)
}

// ListableAdapter is an optional PubSubAdapter capability.
type ListableAdapter interface {
	ListTopics() []string
	HasTopic(topic string) bool
}

// ReplaceableAdapter is an optional PubSubAdapter capability for atomic
// bulk subscription replacement.
type ReplaceableAdapter interface {
	Replace(clientID string, newTopics []string) (added, removed int, total int)
}

// DisposableAdapter is an optional PubSubAdapter capability for releasing
// resources at shutdown.
type DisposableAdapter interface {
	Dispose()
}

// PublishEnvelope is the internal publish unit threaded through a
// PubSubAdapter.
type PublishEnvelope struct {
	Topic           string
	Type            string
	Payload         []byte
	Meta            map[string]any
	ExcludeClientID string
}

// BrokerConsumer is the distributed-ingress collaborator: it
// receives envelopes from a remote broker and hands them to onEnvelope
// for local fan-out via the in-memory subscription index.
type BrokerConsumer interface {
	// Start begins consuming. It must call onEnvelope for each decoded
	// remote envelope and must isolate per-envelope decode/delivery
	// errors so one bad envelope never breaks the stream.
	Start(ctx context.Context, onEnvelope func(PublishEnvelope)) error
	// Stop shuts the consumer down. Idempotent.
	Stop() error
}

// AuthVerdict is returned by an OnAuth hook.
type AuthVerdict struct {
	OK     bool
	Reason string // machine-readable token, e.g. "UNAUTHENTICATED"
}

// AuthFunc authenticates the first inbound message on a connection.
type AuthFunc func(ctx context.Context, conn *Connection, env Envelope) AuthVerdict

// Middleware wraps handler invocation. Calling next continues the chain;
// not calling it short-circuits.
type Middleware func(ctx *Context, next func(*Context) error) error

// EventHandler handles a KindEvent descriptor.
type EventHandler func(ctx *Context) error

// RPCHandler handles a KindRPC descriptor.
type RPCHandler func(ctx *Context) error

// LifecycleFunc is an onOpen/onClose hook.
type LifecycleFunc func(conn *Connection)

// ErrorFunc is an onError sink.
type ErrorFunc func(err *DispatchError)
