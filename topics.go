package wskit

import "sync"

// TopicValidator decides whether a topic string is well-formed,
// returning a non-empty reason code ("length" | "pattern" | "policy")
// on rejection.
type TopicValidator func(topic string) (reason string, ok bool)

// topicsManager enforces per-connection subscription quota and topic
// validation on top of any PubSubAdapter. It keeps its own
// mirror of each connection's subscribed set so idempotency and quota
// checks never need a round trip to the adapter.
type topicsManager struct {
	adapter  PubSubAdapter
	mirror   PubSubAdapter // local index, always updated for BrokerConsumer fan-out
	validate TopicValidator
	maxTopic int

	mu   sync.Mutex
	subs map[string]map[string]struct{} // clientID -> topic set
}

func newTopicsManager(adapter, mirror PubSubAdapter, validate TopicValidator, maxPerConn int) *topicsManager {
	if validate == nil {
		validate = DefaultTopicValidator
	}
	return &topicsManager{
		adapter:  adapter,
		mirror:   mirror,
		validate: validate,
		maxTopic: maxPerConn,
		subs:     make(map[string]map[string]struct{}),
	}
}

func (tm *topicsManager) subscribe(clientID, topic string) error {
	if reason, ok := tm.validate(topic); !ok {
		return &TopicError{Code: "INVALID_TOPIC", Reason: reason}
	}

	tm.mu.Lock()
	set, ok := tm.subs[clientID]
	if !ok {
		set = make(map[string]struct{})
		tm.subs[clientID] = set
	}
	if _, already := set[topic]; already {
		tm.mu.Unlock()
		return nil
	}
	if tm.maxTopic > 0 && len(set) >= tm.maxTopic {
		tm.mu.Unlock()
		return &TopicError{Code: "QUOTA", Details: map[string]any{"limit": tm.maxTopic}}
	}
	set[topic] = struct{}{}
	tm.mu.Unlock()

	if tm.mirror != nil && tm.mirror != tm.adapter {
		_ = tm.mirror.Subscribe(clientID, topic)
	}
	return tm.adapter.Subscribe(clientID, topic)
}

func (tm *topicsManager) unsubscribe(clientID, topic string) error {
	tm.mu.Lock()
	set, ok := tm.subs[clientID]
	if !ok {
		tm.mu.Unlock()
		return nil
	}
	if _, member := set[topic]; !member {
		tm.mu.Unlock()
		return nil
	}
	delete(set, topic)
	if len(set) == 0 {
		delete(tm.subs, clientID)
	}
	tm.mu.Unlock()

	if tm.mirror != nil && tm.mirror != tm.adapter {
		_ = tm.mirror.Unsubscribe(clientID, topic)
	}
	return tm.adapter.Unsubscribe(clientID, topic)
}

func (tm *topicsManager) subscribeMany(clientID string, topics []string) error {
	for _, t := range topics {
		if err := tm.subscribe(clientID, t); err != nil {
			return err
		}
	}
	return nil
}

// replace swaps clientID's full subscription set atomically via the
// adapter's ReplaceableAdapter capability when available, falling back
// to a diffed subscribe/unsubscribe sequence otherwise.
func (tm *topicsManager) replace(clientID string, newTopics []string) error {
	for _, t := range newTopics {
		if reason, ok := tm.validate(t); !ok {
			return &TopicError{Code: "INVALID_TOPIC", Reason: reason}
		}
	}
	if tm.maxTopic > 0 && len(newTopics) > tm.maxTopic {
		return &TopicError{Code: "QUOTA", Details: map[string]any{"limit": tm.maxTopic}}
	}

	wanted := make(map[string]struct{}, len(newTopics))
	for _, t := range newTopics {
		wanted[t] = struct{}{}
	}

	tm.mu.Lock()
	current := tm.subs[clientID]
	tm.mu.Unlock()

	applyTo := func(a PubSubAdapter) {
		if replaceable, ok := a.(ReplaceableAdapter); ok {
			replaceable.Replace(clientID, newTopics)
			return
		}
		for t := range current {
			if _, keep := wanted[t]; !keep {
				_ = a.Unsubscribe(clientID, t)
			}
		}
		for t := range wanted {
			if _, already := current[t]; !already {
				_ = a.Subscribe(clientID, t)
			}
		}
	}
	if tm.mirror != nil && tm.mirror != tm.adapter {
		applyTo(tm.mirror)
	}
	applyTo(tm.adapter)

	tm.mu.Lock()
	if len(wanted) == 0 {
		delete(tm.subs, clientID)
	} else {
		tm.subs[clientID] = wanted
	}
	tm.mu.Unlock()
	return nil
}

func (tm *topicsManager) forget(clientID string) {
	tm.mu.Lock()
	delete(tm.subs, clientID)
	tm.mu.Unlock()
}

// TopicsHandle is the Context-facing pub/sub subscription surface for
// one connection.
type TopicsHandle struct {
	clientID string
	mgr      *topicsManager
}

// Subscribe adds the connection to topic.
func (t *TopicsHandle) Subscribe(topic string) error { return t.mgr.subscribe(t.clientID, topic) }

// Unsubscribe removes the connection from topic.
func (t *TopicsHandle) Unsubscribe(topic string) error { return t.mgr.unsubscribe(t.clientID, topic) }

// SubscribeMany subscribes to each topic, stopping at the first error.
func (t *TopicsHandle) SubscribeMany(topics []string) error {
	return t.mgr.subscribeMany(t.clientID, topics)
}

// Set is an alias for Replace, matching common pub/sub client naming.
func (t *TopicsHandle) Set(topics []string) error { return t.Replace(topics) }

// Replace atomically swaps the connection's full subscription set.
func (t *TopicsHandle) Replace(topics []string) error { return t.mgr.replace(t.clientID, topics) }

// DefaultTopicValidator enforces the default shape: 1-128 characters
// from [a-zA-Z0-9:_./-].
func DefaultTopicValidator(topic string) (string, bool) {
	if len(topic) == 0 || len(topic) > 128 {
		return "length", false
	}
	for _, r := range topic {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ':' || r == '_' || r == '.' || r == '/' || r == '-':
		default:
			return "pattern", false
		}
	}
	return "", true
}
