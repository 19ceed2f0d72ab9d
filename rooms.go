package tenalychat

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// transmitter is the slice of ChatSocket the registry needs.
type transmitter interface {
	Send(ctx context.Context, cmd *Command) error
}

// RoomRegistry tracks which conversation rooms are joined over the shared
// connection. Join and Leave are idempotent, and the active set survives a
// reconnection: the socket replays every recorded join once the transport is
// back up.
type RoomRegistry struct {
	mu     sync.Mutex
	active map[string]struct{}
	tx     transmitter
	log    zerolog.Logger
}

// NewRoomRegistry creates a registry sending join/leave frames through tx.
func NewRoomRegistry(tx transmitter, log zerolog.Logger) *RoomRegistry {
	return &RoomRegistry{
		active: make(map[string]struct{}),
		tx:     tx,
		log:    log,
	}
}

// Join records the conversation and requests a room join. A no-op if the
// room is already joined. The join stays recorded even when the transport is
// down; it is replayed on reconnect.
func (r *RoomRegistry) Join(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	if _, ok := r.active[conversationID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.active[conversationID] = struct{}{}
	r.mu.Unlock()

	err := r.tx.Send(ctx, &Command{
		Type:    CommandJoinRoom,
		Payload: RoomPayload{ConversationID: conversationID},
	})
	if err == ErrNotConnected {
		// Recorded; the reconnect replay will deliver it.
		r.log.Debug().Str("conversation", conversationID).Msg("join deferred until connected")
		return nil
	}
	return err
}

// Leave requests room departure and removes it from the active set. A no-op
// if the room is not joined.
func (r *RoomRegistry) Leave(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	if _, ok := r.active[conversationID]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.active, conversationID)
	r.mu.Unlock()

	err := r.tx.Send(ctx, &Command{
		Type:    CommandLeaveRoom,
		Payload: RoomPayload{ConversationID: conversationID},
	})
	if err == ErrNotConnected {
		return nil
	}
	return err
}

// Joined reports whether the conversation's room is in the active set.
func (r *RoomRegistry) Joined(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[conversationID]
	return ok
}

// Active returns a sorted snapshot of the joined conversation ids.
func (r *RoomRegistry) Active() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Clear drops the active set without sending leave frames. Used when the
// connection is torn down explicitly.
func (r *RoomRegistry) Clear() {
	r.mu.Lock()
	r.active = make(map[string]struct{})
	r.mu.Unlock()
}

// replay re-sends a join for every recorded room. Called by the socket after
// each successful (re)connect so in-flight conversations resume.
func (r *RoomRegistry) replay(ctx context.Context) {
	for _, id := range r.Active() {
		if err := r.tx.Send(ctx, &Command{
			Type:    CommandJoinRoom,
			Payload: RoomPayload{ConversationID: id},
		}); err != nil {
			r.log.Warn().Err(err).Str("conversation", id).Msg("room rejoin failed")
		}
	}
}
