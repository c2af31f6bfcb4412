package wskit

import (
	"encoding/json"
	"maps"
)

// Kind distinguishes the two message shapes a Descriptor can declare.
type Kind int

const (
	// KindEvent is a fire-and-forget message: no response is expected.
	KindEvent Kind = iota
	// KindRPC is a request/response message bound to exactly one response
	// descriptor, with optional progress frames before the terminal.
	KindRPC
)

// String returns the human-readable name of a Kind.
func (k Kind) String() string {
	if k == KindRPC {
		return "rpc"
	}
	return "event"
}

// ReservedMetaClientID and ReservedMetaReceivedAt are server-only meta
// keys. They are stripped from every inbound envelope before
// normalization hands it to a validator, so a client can never spoof
// them.
const (
	ReservedMetaClientID   = "clientId"
	ReservedMetaReceivedAt = "receivedAt"
)

// AbortType is the wire type of the client-initiated RPC cancellation
// control frame.
const AbortType = "$ws:abort"

// ControlPrefix marks a type string as a control frame routed to the
// router's internal handlers rather than the user registry.
const ControlPrefix = "$ws:"

// Envelope is the canonical inbound/outbound wire shape:
// { "type": string, "meta": {...}, "payload": {...}? }.
type Envelope struct {
	Type    string         `json:"type"`
	Meta    map[string]any `json:"meta,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsControl reports whether the envelope's type is a reserved control
// frame ($ws:*) rather than a user-registered message type.
func (e Envelope) IsControl() bool {
	return len(e.Type) >= len(ControlPrefix) && e.Type[:len(ControlPrefix)] == ControlPrefix
}

// CorrelationID returns meta.correlationId, or "" if absent or not a string.
func (e Envelope) CorrelationID() string {
	return metaString(e.Meta, "correlationId")
}

// Progress reports whether meta.progress is set to true — a non-terminal
// RPC response frame.
func (e Envelope) Progress() bool {
	v, ok := e.Meta["progress"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	v, ok := meta[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Descriptor is a design-time declaration of a message type: its wire
// type string, its Kind, and — for RPC descriptors — the Response
// descriptor bound to it. Descriptors are plain values, not types; a
// program builds its message catalog by constructing Descriptor values
// and registering them with a Router via On/RPC.
type Descriptor struct {
	// Type is the stable wire identifier (uppercase convention, e.g. "GET_USER").
	Type string
	// Kind is KindEvent or KindRPC.
	Kind Kind
	// PayloadSchemaID names the schema a ValidatorAdapter should use to
	// validate this descriptor's payload. The schema itself is owned by
	// the adapter (a struct type, a compiled JSON-schema, etc.) — the
	// router only ever threads this ID/handle through.
	PayloadSchemaID any
	// MetaSchemaID names a schema for the envelope's meta object. The
	// router carries it on the descriptor but does not pass it to the
	// ValidatorAdapter: inbound dispatch validates the payload only.
	MetaSchemaID any
	// Response is the response descriptor for an RPC request. Required
	// when Kind == KindRPC, ignored otherwise.
	Response *Descriptor
}

// normalizeMeta strips reserved server-only keys from a raw meta map,
// returning a new top-level map so deleting keys never touches the
// caller's map. The copy is shallow: nested maps and slices inside meta
// are shared with the caller, not duplicated. A nil
// input yields a nil output. Idempotent: normalizing twice yields the
// same result as normalizing once.
func normalizeMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := maps.Clone(meta)
	delete(out, ReservedMetaClientID)
	delete(out, ReservedMetaReceivedAt)
	return out
}

// normalizeResult is the outcome of normalizing a raw decoded object
// into an Envelope: either a usable envelope, or a soft decode failure.
type normalizeResult struct {
	OK       bool
	Envelope Envelope
}

// normalize validates the minimal inbound shape (object with a string
// "type") and strips reserved meta keys. Anything else — missing type,
// wrong-typed type — is a soft decode failure.
func normalize(raw map[string]any) normalizeResult {
	typ, ok := raw["type"].(string)
	if !ok || typ == "" {
		return normalizeResult{}
	}

	env := Envelope{Type: typ}

	if m, ok := raw["meta"].(map[string]any); ok {
		env.Meta = normalizeMeta(m)
	}

	if p, ok := raw["payload"]; ok && p != nil {
		b, err := json.Marshal(p)
		if err != nil {
			return normalizeResult{}
		}
		env.Payload = b
	}

	return normalizeResult{OK: true, Envelope: env}
}

// decode parses a raw inbound frame and normalizes it in one step. It
// is the first two stages of the dispatch pipeline.
func decode(frame []byte) normalizeResult {
	var raw map[string]any
	if err := json.Unmarshal(frame, &raw); err != nil {
		return normalizeResult{}
	}
	return normalize(raw)
}
