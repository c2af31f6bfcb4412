package wskit

import (
	"context"
	"log/slog"
)

// StartBrokerConsumer begins distributed ingress: envelopes
// arriving from the configured BrokerConsumer are fanned out to local
// subscribers via the router's in-memory index, with per-envelope
// decode/delivery errors isolated so one bad envelope never breaks the
// stream. Returns immediately; the consumer runs until ctx is cancelled
// or Router.StopBrokerConsumer is called. A no-op if no consumer was
// configured via WithBrokerConsumer.
func (r *Router) StartBrokerConsumer(ctx context.Context) error {
	if r.consumer == nil {
		return nil
	}
	return r.consumer.Start(ctx, func(env PublishEnvelope) {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("broker envelope delivery panicked", "recover", rec, "topic", env.Topic)
			}
		}()
		r.deliverLocally(ctx, env)
	})
}

// StopBrokerConsumer idempotently shuts the consumer down, if any.
func (r *Router) StopBrokerConsumer() error {
	if r.consumer == nil {
		return nil
	}
	return r.consumer.Stop()
}

// deliverLocally fans a broker-sourced envelope out to this instance's
// locally subscribed connections, without re-publishing it back to the
// broker (that would echo every remote message forever).
func (r *Router) deliverLocally(ctx context.Context, env PublishEnvelope) {
	recipients := r.localIndex.Recipients(env.Topic, env.ExcludeClientID)
	if len(recipients) == 0 {
		return
	}
	frame, err := encodeEnvelope(env.Type, env.Meta, rawPayload(env.Payload))
	if err != nil {
		r.log.Log(ctx, slog.LevelDebug, "broker envelope encode failed", "error", err, "topic", env.Topic)
		return
	}

	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	for _, id := range recipients {
		if conn, ok := r.conns[id]; ok {
			_ = conn.send(ctx, frame)
		}
	}
}
