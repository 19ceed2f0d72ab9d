package tenalychat

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingExpiry covers the case where a typing-stop event is dropped
// by the network: an entry never outlives this window.
const DefaultTypingExpiry = 6 * time.Second

// TypingAggregator tracks, per conversation, which counterparts are
// currently composing. Each entry carries an expiry deadline; a start event
// adds or refreshes it, a stop event removes it immediately, and the sweep
// removes it once the deadline passes, whichever comes first.
type TypingAggregator struct {
	mu      sync.Mutex
	expiry  time.Duration
	now     func() time.Time
	entries map[string]map[string]time.Time // conversation → user → deadline
}

// NewTypingAggregator creates an aggregator with the given expiry window.
// A zero duration selects DefaultTypingExpiry.
func NewTypingAggregator(expiry time.Duration) *TypingAggregator {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingAggregator{
		expiry:  expiry,
		now:     time.Now,
		entries: make(map[string]map[string]time.Time),
	}
}

// Start adds or refreshes the counterpart's entry and restarts its expiry.
func (a *TypingAggregator) Start(conversationID, userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	users, ok := a.entries[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		a.entries[conversationID] = users
	}
	users[userID] = a.now().Add(a.expiry)
}

// Stop removes the entry immediately.
func (a *TypingAggregator) Stop(conversationID, userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if users, ok := a.entries[conversationID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(a.entries, conversationID)
		}
	}
}

// Typing returns the counterparts currently typing in the conversation,
// sweeping expired entries on access.
func (a *TypingAggregator) Typing(conversationID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sweepConv(conversationID)
	users := a.entries[conversationID]
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsTyping reports whether anyone is composing in the conversation. Drives
// the "Typing…" row in the UI.
func (a *TypingAggregator) IsTyping(conversationID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sweepConv(conversationID)
	return len(a.entries[conversationID]) > 0
}

// Sweep removes every expired entry. Called on a fixed tick by the session.
func (a *TypingAggregator) Sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for conv := range a.entries {
		a.sweepConv(conv)
	}
}

func (a *TypingAggregator) sweepConv(conversationID string) {
	users, ok := a.entries[conversationID]
	if !ok {
		return
	}
	now := a.now()
	for id, deadline := range users {
		if !deadline.After(now) {
			delete(users, id)
		}
	}
	if len(users) == 0 {
		delete(a.entries, conversationID)
	}
}
