// Package wskit is a schema-driven WebSocket message router. It terminates
// long-lived duplex connections, validates every inbound frame against a
// declared message catalog, routes typed messages to registered handlers,
// and provides first-class support for fire-and-forget events,
// request/response RPC with progress streaming and client-initiated
// cancellation, and topic-scoped publish/subscribe broadcasting across
// single or distributed instances.
//
// The package exposes a Router assembled from plugins. Transport
// acceptors, validator libraries, and broker drivers are external
// collaborators consumed through the ServerSocket, PlatformAdapter,
// ValidatorAdapter, PubSubAdapter, and BrokerConsumer interfaces — see
// adapter.go. Concrete adapters live under examples/.
package wskit
