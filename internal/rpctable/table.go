// Package rpctable implements the per-connection RPC correlation table:
// one entry per in-flight request, a one-shot terminal guard, and
// client-abort cancellation with a compare-and-set tie-break between
// concurrent abort and terminal resolution. The pending-map-keyed-by-id
// shape is grounded on internal/mcp/client.go's request/response
// correlation and websocket.go's pendingMu-guarded map.
package rpctable

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDuplicateCorrelation is returned by Create when a correlation id
// is already in flight on this connection.
var ErrDuplicateCorrelation = errors.New("rpctable: duplicate correlation id")

// ErrPendingLimit is returned by Create when the connection already has
// maxPending entries in flight.
var ErrPendingLimit = errors.New("rpctable: pending limit exceeded")

const (
	resolutionPending int32 = iota
	resolutionTerminal
	resolutionAborted
)

// Entry is one in-flight RPC invocation.
type Entry struct {
	CorrelationID string
	CreatedAt     time.Time
	// Extra carries caller-defined data (e.g. the response descriptor) —
	// rpctable is agnostic to the message catalog above it.
	Extra any

	resolution atomic.Int32
	abortCh    chan struct{}
	closeOnce  sync.Once

	cancelMu  sync.Mutex
	cancelFns []func()
}

func newEntry(id string, extra any, now time.Time) *Entry {
	return &Entry{
		CorrelationID: id,
		CreatedAt:     now,
		Extra:         extra,
		abortCh:       make(chan struct{}),
	}
}

// TryTerminal attempts to claim the single terminal slot (reply or
// error). Returns true exactly once across the entry's lifetime, and
// only if no abort has already claimed the slot first.
func (e *Entry) TryTerminal() bool {
	return e.resolution.CompareAndSwap(resolutionPending, resolutionTerminal)
}

// TryAbort attempts to claim the cancellation slot. Returns true only
// the first time, and only if no terminal has already claimed it. On
// success it closes AbortSignal and runs every registered OnCancel
// callback.
func (e *Entry) TryAbort() bool {
	if !e.resolution.CompareAndSwap(resolutionPending, resolutionAborted) {
		return false
	}
	e.closeOnce.Do(func() { close(e.abortCh) })

	e.cancelMu.Lock()
	fns := e.cancelFns
	e.cancelMu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return true
}

// Aborted reports whether TryAbort has already won for this entry.
func (e *Entry) Aborted() bool {
	return e.resolution.Load() == resolutionAborted
}

// Pending reports whether neither a terminal nor an abort has resolved
// this entry yet — the window in which Progress frames may be sent.
func (e *Entry) Pending() bool {
	return e.resolution.Load() == resolutionPending
}

// AbortSignal returns a channel closed when TryAbort succeeds.
func (e *Entry) AbortSignal() <-chan struct{} {
	return e.abortCh
}

// OnCancel registers fn to run when the entry is aborted. If the entry
// is already aborted, fn runs immediately (synchronously, on the
// calling goroutine).
func (e *Entry) OnCancel(fn func()) {
	if e.Aborted() {
		fn()
		return
	}
	e.cancelMu.Lock()
	if e.Aborted() {
		e.cancelMu.Unlock()
		fn()
		return
	}
	e.cancelFns = append(e.cancelFns, fn)
	e.cancelMu.Unlock()
}

// Table is the per-connection correlation table. A single mutex
// suffices: contention is low because correlation ids are
// client-chosen and unique.
type Table struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxPending int
	now        func() time.Time
}

// New creates a Table. maxPending <= 0 means unbounded.
func New(maxPending int) *Table {
	return &Table{
		entries:    make(map[string]*Entry),
		maxPending: maxPending,
		now:        time.Now,
	}
}

// Create registers a new in-flight entry for id, or returns
// ErrDuplicateCorrelation / ErrPendingLimit.
func (t *Table) Create(id string, extra any) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return nil, ErrDuplicateCorrelation
	}
	if t.maxPending > 0 && len(t.entries) >= t.maxPending {
		return nil, ErrPendingLimit
	}

	e := newEntry(id, extra, t.now())
	t.entries[id] = e
	return e, nil
}

// Get looks up an entry by correlation id.
func (t *Table) Get(id string) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e, ok
}

// Remove deletes an entry. Safe to call for an absent id.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Len reports the number of in-flight entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// AbortAll aborts every in-flight entry and clears the table — called
// on connection close.
func (t *Table) AbortAll() {
	t.mu.Lock()
	entries := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.entries = make(map[string]*Entry)
	t.mu.Unlock()

	for _, e := range entries {
		e.TryAbort()
	}
}
