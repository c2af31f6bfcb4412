package wskit

import (
	"context"

	"github.com/wskit/wskit/internal/connstate"
	"github.com/wskit/wskit/internal/rpctable"
)

// HandleMessage is the dispatch pipeline entry point, called by
// a PlatformAdapter for each inbound frame in wire order. It must not
// be called again for conn until it returns — see the ordering
// requirement on PlatformAdapter.OnMessage.
func (r *Router) HandleMessage(ctx context.Context, conn *Connection, frame []byte) error {
	if int64(len(frame)) > r.options.Limits.MaxPayload() {
		r.closeConnection(ctx, conn, 1009, "MESSAGE_TOO_BIG")
		return nil
	}

	// Decode + normalize.
	nr := decode(frame)
	if !nr.OK {
		r.emitError(&DispatchError{Kind: ErrorKindParse, Conn: conn})
		return nil
	}
	env := nr.Envelope

	// Control-frame branch.
	if env.IsControl() {
		r.handleControl(conn, env)
		return nil
	}

	// Auth gate: only the first inbound message, while still Open.
	if r.onAuth != nil && conn.State() == connstate.StateOpen {
		verdict := r.onAuth(ctx, conn, env)
		if !verdict.OK {
			reason := verdict.Reason
			if reason == "" {
				reason = string(ErrUnauthenticated)
			}
			r.closeConnection(ctx, conn, 1008, reason)
			return nil
		}
		conn.state.Transition(connstate.StateAuthenticated)
	}

	// Route.
	handlers, ok := r.lookupHandlers(env.Type)
	if !ok || len(handlers) == 0 {
		r.emitError(&DispatchError{Kind: ErrorKindUnknownType, Conn: conn})
		return nil
	}

	descr := handlers[0].descr
	isRPC := descr.Kind == KindRPC

	// An RPC entry must exist before the handler runs, so a one-shot
	// terminal guard is in place from the start.
	var entry *rpctable.Entry
	if isRPC {
		cid := env.CorrelationID()
		if cid == "" {
			r.emitError(&DispatchError{Kind: ErrorKindValidation, Conn: conn})
			return nil
		}
		created, err := conn.rpcs.Create(cid, descr)
		if err != nil {
			r.sendRPCStructuralError(ctx, conn, cid, err)
			return nil
		}
		entry = created
	}

	r.runChain(ctx, conn, env, descr, entry, handlers)
	return nil
}

func (r *Router) handleControl(conn *Connection, env Envelope) {
	switch env.Type {
	case AbortType:
		cid := env.CorrelationID()
		if cid == "" {
			return
		}
		if e, ok := conn.rpcs.Get(cid); ok {
			e.TryAbort()
		}
		// Unknown correlation id: silently dropped.
	default:
		// Unrecognized control frame: ignored, reserved for future use.
	}
}

func (r *Router) sendRPCStructuralError(ctx context.Context, conn *Connection, cid string, err error) {
	code := ErrInternal
	switch err {
	case rpctable.ErrDuplicateCorrelation:
		code = ErrDuplicateCorrelation
	case rpctable.ErrPendingLimit:
		code = ErrPendingLimit
	}
	we := WireError{Code: code, Message: err.Error()}
	frame, encErr := encodeEnvelope("ERROR", map[string]any{"correlationId": cid}, we)
	if encErr != nil {
		return
	}
	_ = conn.send(ctx, frame)
}

// runChain threads env through the middleware chain, validator, and
// matched handlers, recovering a handler panic and
// routing it to onError the same way a returned error is.
func (r *Router) runChain(ctx context.Context, conn *Connection, env Envelope, descr *Descriptor, entry *rpctable.Entry, handlers []registeredHandler) {
	r.mu.RLock()
	chain := append([]Middleware{}, r.mw...)
	r.mu.RUnlock()

	final := func(c *Context) error {
		if r.validator != nil && descr.PayloadSchemaID != nil {
			res := r.validator.Validate(descr.PayloadSchemaID, env.Payload)
			if !res.OK {
				r.emitError(&DispatchError{Kind: ErrorKindValidation, Conn: conn, Issues: res.Issues})
				if descr.Kind == KindRPC {
					_ = c.Error(ErrValidation, "validation failed", issuesToDetails(res.Issues))
				}
				return nil
			}
		}
		return r.invokeHandlers(c, handlers)
	}

	next := final
	for i := len(chain) - 1; i >= 0; i-- {
		mw := chain[i]
		prevNext := next
		next = func(c *Context) error { return mw(c, prevNext) }
	}

	c := r.buildContext(ctx, conn, env, descr, entry)

	defer func() {
		if rec := recover(); rec != nil {
			r.emitError(&DispatchError{Kind: ErrorKindHandler, Conn: conn})
			if descr.Kind == KindRPC && c.entry != nil && c.entry.Pending() {
				_ = c.Error(ErrInternal, "internal error", nil)
			}
		}
	}()
	if err := next(c); err != nil {
		r.emitError(&DispatchError{Kind: ErrorKindHandler, Err: err, Conn: conn})
		if descr.Kind == KindRPC && c.entry != nil && c.entry.Pending() {
			_ = c.Error(ErrInternal, "internal error", nil)
		}
	}
}

func (r *Router) invokeHandlers(c *Context, handlers []registeredHandler) error {
	for _, h := range handlers {
		var err error
		if h.rpcFn != nil {
			err = h.rpcFn(c)
		} else if h.eventFn != nil {
			err = h.eventFn(c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func issuesToDetails(issues []ValidationIssue) map[string]any {
	if len(issues) == 0 {
		return nil
	}
	list := make([]map[string]any, len(issues))
	for i, iss := range issues {
		list[i] = map[string]any{"path": iss.Path, "message": iss.Message}
	}
	return map[string]any{"issues": list}
}
