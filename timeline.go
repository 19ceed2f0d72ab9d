package tenalychat

import (
	"sort"
	"sync"
	"time"
)

// DefaultPendingEchoTimeout is how long an optimistic entry may wait for its
// server echo before it is marked failed.
const DefaultPendingEchoTimeout = 30 * time.Second

// TimelineStore holds the per-conversation ordered message logs. Each
// timeline merges REST-fetched history with live pushed events, dedups by
// message identity, and keeps entries strictly ordered by creation time.
type TimelineStore struct {
	mu          sync.Mutex
	convs       map[string]*timeline
	pendingEcho time.Duration
	now         func() time.Time
}

type timeline struct {
	entries  []Message
	fetching bool
	// live messages that arrived while a history fetch was in flight
	buffer []Message
}

// NewTimelineStore creates an empty store with the default echo timeout.
func NewTimelineStore() *TimelineStore {
	return &TimelineStore{
		convs:       make(map[string]*timeline),
		pendingEcho: DefaultPendingEchoTimeout,
		now:         time.Now,
	}
}

// SetPendingEchoTimeout overrides the sent-but-unconfirmed window.
func (ts *TimelineStore) SetPendingEchoTimeout(d time.Duration) {
	ts.mu.Lock()
	ts.pendingEcho = d
	ts.mu.Unlock()
}

func (ts *TimelineStore) conv(conversationID string) *timeline {
	tl, ok := ts.convs[conversationID]
	if !ok {
		tl = &timeline{}
		ts.convs[conversationID] = tl
	}
	return tl
}

// BeginHistory marks a history fetch as in flight. Live messages arriving
// until ApplyHistory are buffered instead of inserted, so the merge can
// order them against the fetched batch.
func (ts *TimelineStore) BeginHistory(conversationID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tl := ts.conv(conversationID)
	tl.fetching = true
	tl.buffer = nil
}

// AbortHistory clears the fetching flag after a failed fetch and flushes the
// buffer into the timeline so nothing is lost.
func (ts *TimelineStore) AbortHistory(conversationID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tl := ts.conv(conversationID)
	tl.fetching = false
	for _, m := range tl.buffer {
		tl.insert(m)
	}
	tl.buffer = nil
}

// ApplyHistory initializes the timeline from fetched history and merges any
// live messages buffered since BeginHistory. Local entries that never
// reached the server (pending or failed) are preserved. Re-applying the
// same history is safe: entries dedup by identity.
func (ts *TimelineStore) ApplyHistory(conversationID string, history []Message) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tl := ts.conv(conversationID)

	var local []Message
	for _, m := range tl.entries {
		if !m.Confirmed() {
			local = append(local, m)
		}
	}

	tl.entries = nil
	for _, m := range history {
		tl.insert(m)
	}
	for _, m := range local {
		tl.insert(m)
	}
	for _, m := range tl.buffer {
		tl.insert(m)
	}
	tl.fetching = false
	tl.buffer = nil
}

// AppendLive inserts a message arriving from the event router. During a
// history fetch the message is buffered; otherwise it is inserted in
// creation-time order, deduplicating by identity with the confirmed copy
// winning.
func (ts *TimelineStore) AppendLive(m Message) {
	if m.State == "" {
		m.State = MessageSent
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tl := ts.conv(m.ConversationID)
	if tl.fetching {
		tl.buffer = append(tl.buffer, m)
		return
	}
	tl.insert(m)
}

// Reconcile replaces the pending entry matching the correlation id with the
// confirmed server copy, preserving its position. If no pending entry
// matches (e.g. the message was sent from another device), the confirmed
// copy is appended as new.
func (ts *TimelineStore) Reconcile(conversationID, correlationID string, confirmed Message) {
	if confirmed.State == "" || confirmed.State == MessagePending {
		confirmed.State = MessageSent
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tl := ts.conv(conversationID)

	if tl.fetching {
		confirmed.CorrelationID = firstNonEmpty(confirmed.CorrelationID, correlationID)
		tl.buffer = append(tl.buffer, confirmed)
		return
	}
	for i, m := range tl.entries {
		if m.State == MessagePending && m.CorrelationID == correlationID {
			confirmed.CorrelationID = correlationID
			tl.entries[i] = confirmed
			return
		}
	}
	tl.insert(confirmed)
}

// MarkFailed transitions the pending entry with the correlation id to
// failed. Only the affected message changes; the rest of the timeline is
// untouched.
func (ts *TimelineStore) MarkFailed(conversationID, correlationID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tl := ts.conv(conversationID)
	for i, m := range tl.entries {
		if m.CorrelationID == correlationID && m.State == MessagePending {
			tl.entries[i].State = MessageFailed
			return
		}
	}
	for i, m := range tl.buffer {
		if m.CorrelationID == correlationID && m.State == MessagePending {
			tl.buffer[i].State = MessageFailed
			return
		}
	}
}

// ExpirePending fails every pending entry whose echo window has elapsed,
// including entries buffered during a history fetch. Called on a fixed tick
// by the session.
func (ts *TimelineStore) ExpirePending() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	cutoff := ts.now().Add(-ts.pendingEcho)
	for _, tl := range ts.convs {
		for i, m := range tl.entries {
			if m.State == MessagePending && m.CreatedAt.Before(cutoff) {
				tl.entries[i].State = MessageFailed
			}
		}
		for i, m := range tl.buffer {
			if m.State == MessagePending && m.CreatedAt.Before(cutoff) {
				tl.buffer[i].State = MessageFailed
			}
		}
	}
}

// Entries returns a snapshot of a conversation's timeline in creation-time
// order.
func (ts *TimelineStore) Entries(conversationID string) []Message {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tl, ok := ts.convs[conversationID]
	if !ok {
		return nil
	}
	return append([]Message(nil), tl.entries...)
}

// Drop removes a conversation's timeline entirely.
func (ts *TimelineStore) Drop(conversationID string) {
	ts.mu.Lock()
	delete(ts.convs, conversationID)
	ts.mu.Unlock()
}

// insert places m into the entries slice keeping creation-time order. When
// an entry with the same identity exists, or the two share a correlation id
// (a pending entry and its server echo merged from different sources), the
// confirmed copy wins and the position of the existing entry is kept.
func (tl *timeline) insert(m Message) {
	for i, existing := range tl.entries {
		if existing.identity() == m.identity() ||
			(m.CorrelationID != "" && existing.CorrelationID == m.CorrelationID) {
			if !existing.Confirmed() && m.Confirmed() {
				m.CorrelationID = firstNonEmpty(m.CorrelationID, existing.CorrelationID)
				tl.entries[i] = m
			}
			return
		}
	}
	idx := sort.Search(len(tl.entries), func(i int) bool {
		return tl.entries[i].CreatedAt.After(m.CreatedAt)
	})
	tl.entries = append(tl.entries, Message{})
	copy(tl.entries[idx+1:], tl.entries[idx:])
	tl.entries[idx] = m
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
