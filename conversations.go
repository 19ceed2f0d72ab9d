package tenalychat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ConversationStore holds the known conversations with the counterpart
// identity and last activity. Sourced from the REST contact list plus ad-hoc
// conversations created by "message this seller" deep links. Conversations
// are never deleted locally; the server owns the list.
type ConversationStore struct {
	mu   sync.Mutex
	byID map[string]Conversation
	rest *ContactsClient
	self string
}

// NewConversationStore creates an empty store reading from the contact list.
func NewConversationStore(rest *ContactsClient, self string) *ConversationStore {
	return &ConversationStore{
		byID: make(map[string]Conversation),
		rest: rest,
		self: self,
	}
}

// Load fetches the counterpart list and upserts a Conversation per entry.
func (cs *ConversationStore) Load(ctx context.Context) error {
	contacts, err := cs.rest.List(ctx)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range contacts {
		cs.byID[c.ConversationID] = Conversation{
			ID:           c.ConversationID,
			Participants: [2]string{cs.self, c.UserID},
			AdContext:    c.AdContext,
			LastActivity: c.LastMessageAt,
		}
	}
	return nil
}

// Upsert adds or updates a single conversation, e.g. one resolved from a
// deep link before it appears in the general list.
func (cs *ConversationStore) Upsert(conv Conversation) {
	cs.mu.Lock()
	cs.byID[conv.ID] = conv
	cs.mu.Unlock()
}

// Get returns a conversation by id.
func (cs *ConversationStore) Get(conversationID string) (Conversation, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	conv, ok := cs.byID[conversationID]
	return conv, ok
}

// Touch advances a conversation's last activity, keeping List ordering live
// as messages arrive.
func (cs *ConversationStore) Touch(conversationID string, at time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	conv, ok := cs.byID[conversationID]
	if !ok || at.Before(conv.LastActivity) {
		return
	}
	conv.LastActivity = at
	cs.byID[conversationID] = conv
}

// List returns all conversations ordered by last activity descending.
func (cs *ConversationStore) List() []Conversation {
	cs.mu.Lock()
	out := make([]Conversation, 0, len(cs.byID))
	for _, conv := range cs.byID {
		out = append(out, conv)
	}
	cs.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
