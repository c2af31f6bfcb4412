package wskit

import (
	"context"

	"github.com/wskit/wskit/internal/pubsubmem"
)

// MemoryPubSub is the default, single-process PubSubAdapter: an exact
// in-memory topic index. It implements ListableAdapter,
// ReplaceableAdapter, and DisposableAdapter in addition to the base
// PubSubAdapter contract.
type MemoryPubSub struct {
	mem *pubsubmem.Memory
}

// NewMemoryPubSub creates an empty in-memory pub/sub adapter.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{mem: pubsubmem.NewMemory()}
}

// Publish fans env out to topic subscribers and reports an exact match
// count.
func (a *MemoryPubSub) Publish(ctx context.Context, env PublishEnvelope) PublishResult {
	_, res := a.mem.Publish(pubsubmem.Envelope{
		Topic:           env.Topic,
		Type:            env.Type,
		Payload:         env.Payload,
		Meta:            env.Meta,
		ExcludeClientID: env.ExcludeClientID,
	})
	if !res.OK {
		return Fail(ErrorCode(res.ErrorCode), res.Retryable, nil)
	}
	return Ok(CapabilityExact, res.Matched)
}

// Recipients returns the client ids that would receive a publish to
// topic right now, honoring excludeClientID. The Router calls this after
// every Publish, whatever its result, to perform the actual ServerSocket
// fan-out, since the adapter has no notion of live Connection objects.
func (a *MemoryPubSub) Recipients(topic, excludeClientID string) []string {
	ids, _ := a.mem.Publish(pubsubmem.Envelope{Topic: topic, ExcludeClientID: excludeClientID})
	return ids
}

// Subscribe adds (clientID, topic) to the index.
func (a *MemoryPubSub) Subscribe(clientID, topic string) error {
	a.mem.Subscribe(clientID, topic)
	return nil
}

// Unsubscribe removes (clientID, topic) from the index.
func (a *MemoryPubSub) Unsubscribe(clientID, topic string) error {
	a.mem.Unsubscribe(clientID, topic)
	return nil
}

// GetSubscribers returns topic's current subscriber set.
func (a *MemoryPubSub) GetSubscribers(ctx context.Context, topic string) ([]string, error) {
	return a.mem.GetSubscribers(topic), nil
}

// ListTopics returns every topic with at least one subscriber.
func (a *MemoryPubSub) ListTopics() []string { return a.mem.ListTopics() }

// HasTopic reports whether topic currently has a subscriber.
func (a *MemoryPubSub) HasTopic(topic string) bool { return a.mem.HasTopic(topic) }

// Replace atomically swaps clientID's subscriptions to newTopics.
func (a *MemoryPubSub) Replace(clientID string, newTopics []string) (added, removed, total int) {
	return a.mem.Replace(clientID, newTopics)
}

// Dispose releases all index state.
func (a *MemoryPubSub) Dispose() { a.mem.Dispose() }

var (
	_ PubSubAdapter      = (*MemoryPubSub)(nil)
	_ ListableAdapter    = (*MemoryPubSub)(nil)
	_ ReplaceableAdapter = (*MemoryPubSub)(nil)
	_ DisposableAdapter  = (*MemoryPubSub)(nil)
)
