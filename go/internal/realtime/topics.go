package realtime

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Topics maintains tournament-interest groups: which users want sync events
// for which tournament. Room membership on the transport is driven by the
// Service, which pairs this table with the registry's open connections.
type Topics struct {
	mu   sync.RWMutex
	subs map[string]map[string]struct{} // topic ID -> user ID set
}

// NewTopics creates an empty subscription table
func NewTopics() *Topics {
	return &Topics{
		subs: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds the user to the topic's interest set. Returns false if the
// user was already subscribed (idempotent).
func (t *Topics) Subscribe(userID, topicID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.subs[topicID] == nil {
		t.subs[topicID] = make(map[string]struct{})
	}
	if _, ok := t.subs[topicID][userID]; ok {
		return false
	}
	t.subs[topicID][userID] = struct{}{}

	log.Debug().
		Str("user_id", userID).
		Str("topic_id", topicID).
		Int("subscribers", len(t.subs[topicID])).
		Msg("topic subscribed")
	return true
}

// Unsubscribe removes the user from the topic's interest set, pruning the
// topic entry if it is now empty. Returns false if there was no subscription.
func (t *Topics) Unsubscribe(userID, topicID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.subs[topicID]
	if !ok {
		return false
	}
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	// Empty subscriber sets are pruned immediately
	if len(set) == 0 {
		delete(t.subs, topicID)
	}

	log.Debug().
		Str("user_id", userID).
		Str("topic_id", topicID).
		Msg("topic unsubscribed")
	return true
}

// IsSubscribed reports whether the user is in the topic's interest set
func (t *Topics) IsSubscribed(userID, topicID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.subs[topicID][userID]
	return ok
}

// Subscribers returns a snapshot of the topic's interested user IDs
func (t *Topics) Subscribers(topicID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]string, 0, len(t.subs[topicID]))
	for userID := range t.subs[topicID] {
		users = append(users, userID)
	}
	return users
}

// TopicsOf returns every topic the user is currently subscribed to
func (t *Topics) TopicsOf(userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var topics []string
	for topicID, set := range t.subs {
		if _, ok := set[userID]; ok {
			topics = append(topics, topicID)
		}
	}
	return topics
}

// TopicCount returns the number of topics with at least one subscriber
func (t *Topics) TopicCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
