package wskit

import (
	"context"

	"github.com/wskit/wskit/internal/pubsubmem"
)

// ShardedMemoryPubSub is an alternative in-memory PubSubAdapter to
// MemoryPubSub: it spreads topics across N independent pubsubmem.Memory
// shards via a stable FNV-1a hash (pubsubmem.ShardRouter), so publish
// and subscribe traffic for different topics contends on different
// locks instead of one. Pick this over MemoryPubSub when a deployment's
// topic space is wide and hot enough that the single coarse RWMutex in
// MemoryPubSub shows up as contention.
type ShardedMemoryPubSub struct {
	router *pubsubmem.ShardRouter
	shards []*pubsubmem.Memory
}

// NewShardedMemoryPubSub creates a sharded in-memory pub/sub adapter
// over n shards. n < 1 is treated as 1.
func NewShardedMemoryPubSub(n int) *ShardedMemoryPubSub {
	router := pubsubmem.NewShardRouter(n)
	shards := make([]*pubsubmem.Memory, router.N())
	for i := range shards {
		shards[i] = pubsubmem.NewMemory()
	}
	return &ShardedMemoryPubSub{router: router, shards: shards}
}

func (a *ShardedMemoryPubSub) shardFor(topic string) *pubsubmem.Memory {
	return a.shards[a.router.ShardFor(topic)]
}

// Publish fans env out to topic subscribers in env's shard, reporting
// an exact match count local to this process.
func (a *ShardedMemoryPubSub) Publish(ctx context.Context, env PublishEnvelope) PublishResult {
	_, res := a.shardFor(env.Topic).Publish(pubsubmem.Envelope{
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
// topic right now, honoring excludeClientID.
func (a *ShardedMemoryPubSub) Recipients(topic, excludeClientID string) []string {
	ids, _ := a.shardFor(topic).Publish(pubsubmem.Envelope{Topic: topic, ExcludeClientID: excludeClientID})
	return ids
}

// Subscribe adds (clientID, topic) to topic's shard.
func (a *ShardedMemoryPubSub) Subscribe(clientID, topic string) error {
	a.shardFor(topic).Subscribe(clientID, topic)
	return nil
}

// Unsubscribe removes (clientID, topic) from topic's shard.
func (a *ShardedMemoryPubSub) Unsubscribe(clientID, topic string) error {
	a.shardFor(topic).Unsubscribe(clientID, topic)
	return nil
}

// GetSubscribers returns topic's current subscriber set from its shard.
func (a *ShardedMemoryPubSub) GetSubscribers(ctx context.Context, topic string) ([]string, error) {
	return a.shardFor(topic).GetSubscribers(topic), nil
}

// ListTopics returns every topic with at least one subscriber, across
// all shards.
func (a *ShardedMemoryPubSub) ListTopics() []string {
	var out []string
	for _, shard := range a.shards {
		out = append(out, shard.ListTopics()...)
	}
	return out
}

// HasTopic reports whether topic currently has a subscriber in its
// shard.
func (a *ShardedMemoryPubSub) HasTopic(topic string) bool {
	return a.shardFor(topic).HasTopic(topic)
}

// Dispose releases all shards' index state.
func (a *ShardedMemoryPubSub) Dispose() {
	for _, shard := range a.shards {
		shard.Dispose()
	}
}

// ShardCount returns the number of shards this adapter spreads topics
// across.
func (a *ShardedMemoryPubSub) ShardCount() int { return a.router.N() }

var (
	_ PubSubAdapter     = (*ShardedMemoryPubSub)(nil)
	_ ListableAdapter   = (*ShardedMemoryPubSub)(nil)
	_ DisposableAdapter = (*ShardedMemoryPubSub)(nil)
)
