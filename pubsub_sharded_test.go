package wskit

import (
	"context"
	"testing"
)

func TestShardedMemoryPubSub_PublishReachesSubscribers(t *testing.T) {
	a := NewShardedMemoryPubSub(4)
	if err := a.Subscribe("c1", "room.general"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	res := a.Publish(context.Background(), PublishEnvelope{Topic: "room.general", Type: "MSG"})
	if !res.OK || res.Matched != 1 {
		t.Fatalf("expected 1 match, got %+v", res)
	}
}

func TestShardedMemoryPubSub_RecipientsExcludesSender(t *testing.T) {
	a := NewShardedMemoryPubSub(4)
	_ = a.Subscribe("sender", "room.general")
	_ = a.Subscribe("listener", "room.general")

	recipients := a.Recipients("room.general", "sender")
	if len(recipients) != 1 || recipients[0] != "listener" {
		t.Fatalf("expected only listener, got %v", recipients)
	}
}

func TestShardedMemoryPubSub_DistributesAcrossShards(t *testing.T) {
	a := NewShardedMemoryPubSub(8)
	topics := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	for _, topic := range topics {
		_ = a.Subscribe("c1", topic)
	}

	seen := make(map[int]bool)
	for _, topic := range topics {
		seen[a.router.ShardFor(topic)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected topics to spread across more than one shard, got shards: %v", seen)
	}

	listed := a.ListTopics()
	if len(listed) != len(topics) {
		t.Errorf("expected ListTopics to aggregate across shards, got %d want %d", len(listed), len(topics))
	}
}

func TestShardedMemoryPubSub_UnsubscribeAndHasTopic(t *testing.T) {
	a := NewShardedMemoryPubSub(4)
	_ = a.Subscribe("c1", "topic1")
	if !a.HasTopic("topic1") {
		t.Fatal("expected topic1 to be present")
	}
	_ = a.Unsubscribe("c1", "topic1")
	if a.HasTopic("topic1") {
		t.Fatal("expected topic1 removed after unsubscribe")
	}
}

func TestShardedMemoryPubSub_ShardCountMinimumOne(t *testing.T) {
	a := NewShardedMemoryPubSub(0)
	if a.ShardCount() != 1 {
		t.Errorf("expected ShardCount 1 for n=0, got %d", a.ShardCount())
	}
}

func TestShardedMemoryPubSub_DisposeClearsAllShards(t *testing.T) {
	a := NewShardedMemoryPubSub(4)
	_ = a.Subscribe("c1", "topic1")
	a.Dispose()
	if a.HasTopic("topic1") {
		t.Fatal("expected Dispose to clear subscriptions across shards")
	}
}
