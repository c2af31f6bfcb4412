// Package connstate implements the per-connection state machine and
// data bag. Mutex discipline mirrors homeassistant.WSClient's
// connMu/pendingMu split in websocket.go: one lock for lifecycle/state
// transitions, a separate one for the free-form data bag, so a slow
// bag read never blocks a state transition.
package connstate

import (
	"sync"

	"github.com/google/uuid"
)

// State is a connection's lifecycle stage.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateAuthenticated
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NewClientID mints a UUIDv7 client identifier. UUIDv7 is time-ordered, so log lines and storage keys
// sort roughly by connection age for free.
func NewClientID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the global entropy source errors,
		// which the standard library's crypto/rand never does in
		// practice. Fall back to a random v4 rather than propagate a
		// constructor error into every call site.
		return uuid.NewString()
	}
	return id.String()
}

// Machine guards the connection lifecycle transitions.
// Transition returns false if the requested move is illegal from the
// current state; callers treat that as a no-op.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine creates a state machine starting in StateOpening.
func NewMachine() *Machine {
	return &Machine{state: StateOpening}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

var legalTransitions = map[State]map[State]bool{
	StateOpening: {StateOpen: true, StateClosed: true},
	StateOpen:    {StateAuthenticated: true, StateClosing: true},
	StateAuthenticated: {StateClosing: true},
	StateClosing: {StateClosed: true},
}

// Transition attempts to move to next, returning true if the move was
// legal and applied.
func (m *Machine) Transition(next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !legalTransitions[m.state][next] {
		return false
	}
	m.state = next
	return true
}

// DataBag is a small, mutex-guarded key/value store attached to a
// Connection, used by handlers to stash per-connection state (the
// authenticated principal, feature flags negotiated at auth time, etc).
type DataBag struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewDataBag creates an empty data bag.
func NewDataBag() *DataBag {
	return &DataBag{data: make(map[string]any)}
}

// Get returns the value for key and whether it was present.
func (b *DataBag) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

// Set stores a single key/value pair.
func (b *DataBag) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

// AssignData merges patch into the bag.
func (b *DataBag) AssignData(patch map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range patch {
		b.data[k] = v
	}
}

// Snapshot returns a shallow copy of the bag's contents.
func (b *DataBag) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out
}
