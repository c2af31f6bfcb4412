package pubsubmem

import (
	"strings"
	"testing"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	m := NewMemory()
	m.Subscribe("c1", "room.a")
	m.Subscribe("c2", "room.a")

	recipients, res := m.Publish(Envelope{Topic: "room.a", Type: "chat"})
	if !res.OK || res.Matched != 2 {
		t.Fatalf("got %+v matched=%d, want OK matched=2", res, res.Matched)
	}
	if strings.Join(recipients, ",") != "c1,c2" {
		t.Fatalf("recipients = %v, want [c1 c2]", recipients)
	}

	m.Unsubscribe("c1", "room.a")
	recipients, _ = m.Publish(Envelope{Topic: "room.a"})
	if len(recipients) != 1 || recipients[0] != "c2" {
		t.Fatalf("after unsubscribe recipients = %v, want [c2]", recipients)
	}
}

func TestPublish_ExcludesSender(t *testing.T) {
	m := NewMemory()
	m.Subscribe("c1", "t")
	m.Subscribe("c2", "t")

	recipients, _ := m.Publish(Envelope{Topic: "t", ExcludeClientID: "c1"})
	if len(recipients) != 1 || recipients[0] != "c2" {
		t.Fatalf("recipients = %v, want [c2]", recipients)
	}
}

func TestPublish_PayloadTooLarge(t *testing.T) {
	m := NewMemory()
	m.MaxPayloadBytes = 4
	_, res := m.Publish(Envelope{Topic: "t", Payload: []byte("toolarge")})
	if res.OK || res.ErrorCode != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("got %+v, want PAYLOAD_TOO_LARGE failure", res)
	}
}

func TestUnsubscribe_EmptyTopicIsPruned(t *testing.T) {
	m := NewMemory()
	m.Subscribe("c1", "t")
	if !m.HasTopic("t") {
		t.Fatalf("topic should exist after subscribe")
	}
	m.Unsubscribe("c1", "t")
	if m.HasTopic("t") {
		t.Fatalf("topic should be pruned once its last subscriber leaves")
	}
	if len(m.ListTopics()) != 0 {
		t.Fatalf("ListTopics should be empty, got %v", m.ListTopics())
	}
}

func TestSubscribeUnsubscribe_Idempotent(t *testing.T) {
	m := NewMemory()
	m.Subscribe("c1", "t")
	m.Subscribe("c1", "t")
	if got := m.GetSubscribers("t"); len(got) != 1 {
		t.Fatalf("double subscribe should not duplicate, got %v", got)
	}

	m.Unsubscribe("c1", "t")
	m.Unsubscribe("c1", "t") // second call must be a harmless no-op
	if m.HasTopic("t") {
		t.Fatalf("topic should not exist after unsubscribe")
	}
}

func TestReplace_AddedRemovedTotal(t *testing.T) {
	m := NewMemory()
	m.Subscribe("c1", "a")
	m.Subscribe("c1", "b")

	added, removed, total := m.Replace("c1", []string{"b", "c", "d"})
	if added != 2 || removed != 1 || total != 3 {
		t.Fatalf("got added=%d removed=%d total=%d, want 2,1,3", added, removed, total)
	}

	got := m.GetSubscribers("a")
	if len(got) != 0 {
		t.Fatalf("a should have no subscribers after replace, got %v", got)
	}
	for _, topic := range []string{"b", "c", "d"} {
		if !m.IsSubscribed("c1", topic) {
			t.Fatalf("c1 should be subscribed to %s", topic)
		}
	}
}

func TestReplace_NoOp(t *testing.T) {
	m := NewMemory()
	m.Subscribe("c1", "a")
	added, removed, total := m.Replace("c1", []string{"a"})
	if added != 0 || removed != 0 || total != 1 {
		t.Fatalf("got added=%d removed=%d total=%d, want 0,0,1", added, removed, total)
	}
}

func TestReplace_ToEmptyClearsAll(t *testing.T) {
	m := NewMemory()
	m.Subscribe("c1", "a")
	m.Subscribe("c1", "b")
	added, removed, total := m.Replace("c1", nil)
	if added != 0 || removed != 2 || total != 0 {
		t.Fatalf("got added=%d removed=%d total=%d, want 0,2,0", added, removed, total)
	}
	if m.HasTopic("a") || m.HasTopic("b") {
		t.Fatalf("both topics should be gone")
	}
}

func TestDispose_ClearsEverything(t *testing.T) {
	m := NewMemory()
	m.Subscribe("c1", "a")
	m.Dispose()
	if m.HasTopic("a") || len(m.ListTopics()) != 0 {
		t.Fatalf("dispose should clear all state")
	}
}

func TestValidateDefaultTopic(t *testing.T) {
	cases := []struct {
		topic   string
		wantOK  bool
		wantWhy string
	}{
		{"room.a", true, ""},
		{"Room:A_1-2/3.x", true, ""},
		{"", false, "length"},
		{strings.Repeat("a", 128), true, ""},
		{strings.Repeat("a", 129), false, "length"},
		{"bad topic with spaces", false, "pattern"},
		{"bad$topic", false, "pattern"},
	}
	for _, c := range cases {
		reason, ok := ValidateDefaultTopic(c.topic)
		if ok != c.wantOK {
			t.Errorf("ValidateDefaultTopic(%q) ok = %v, want %v", c.topic, ok, c.wantOK)
		}
		if !ok && reason != c.wantWhy {
			t.Errorf("ValidateDefaultTopic(%q) reason = %q, want %q", c.topic, reason, c.wantWhy)
		}
	}
}

func TestShardRouter_StableAndInRange(t *testing.T) {
	sr := NewShardRouter(8)
	for _, topic := range []string{"a", "room.1", "very/long/topic/name"} {
		first := sr.ShardFor(topic)
		if first < 0 || first >= 8 {
			t.Fatalf("shard %d out of range for topic %q", first, topic)
		}
		for i := 0; i < 5; i++ {
			if got := sr.ShardFor(topic); got != first {
				t.Fatalf("ShardFor(%q) not stable: %d vs %d", topic, got, first)
			}
		}
	}
}

func TestShardRouter_MinimumOneShard(t *testing.T) {
	sr := NewShardRouter(0)
	if sr.N() != 1 {
		t.Fatalf("N() = %d, want 1 for non-positive input", sr.N())
	}
}
