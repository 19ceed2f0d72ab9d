package tenalychat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionTestBackend serves the REST endpoints and the chat websocket from a
// single base URL, the way the real backend does.
func sessionTestBackend(t *testing.T) (*fakeChatServer, string) {
	t.Helper()
	f := &fakeChatServer{
		t:      t,
		connCh: make(chan *gws.Conn, 8),
		cmdCh:  make(chan wireCommand, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/ws", f.handle)
	mux.HandleFunc("/api/chat/contacts", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, []Contact{
			{ConversationID: "conv-1", UserID: "seller-1", LastMessageAt: timelineBase},
		})
	})
	mux.HandleFunc("/api/chat/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, []Message{
			{ID: "m-h1", ConversationID: "conv-1", From: "seller-1", To: "buyer-1", Text: "hello", CreatedAt: timelineBase},
		})
	})
	mux.HandleFunc("/api/chat/conversations/conv-1", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, Conversation{
			ID:           "conv-1",
			Participants: [2]string{"buyer-1", "seller-1"},
		})
	})

	srv := httptest.NewServer(mux)
	f.srv = srv
	t.Cleanup(f.close)
	return f, srv.URL
}

func newTestSession(t *testing.T, baseURL string, opts ...SessionOption) *ChatSession {
	t.Helper()
	token := signedTestToken(t, jwt.MapClaims{"sub": "buyer-1"})
	client := NewClient(token, WithBaseURL(baseURL))
	session, err := NewChatSession(client, token, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestSessionOpenConversationLoadsHistory(t *testing.T) {
	f, baseURL := sessionTestBackend(t)
	session := newTestSession(t, baseURL)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	require.NoError(t, session.OpenConversation(ctx, "conv-1"))

	// The room is joined and the history is in the timeline.
	f.awaitCommand(t, CommandJoinRoom)
	entries := session.Timelines.Entries("conv-1")
	require.Len(t, entries, 1)
	assert.Equal(t, "m-h1", entries[0].ID)

	// The conversation record came over REST.
	conv, ok := session.Store.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, "seller-1", conv.Counterpart("buyer-1"))
}

func TestSessionSendAndReconcile(t *testing.T) {
	f, baseURL := sessionTestBackend(t)
	session := newTestSession(t, baseURL)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	require.NoError(t, session.OpenConversation(ctx, "conv-1"))

	sent, err := session.SendText(ctx, "conv-1", "is it still available?")
	require.NoError(t, err)
	assert.Equal(t, MessagePending, sent.State)

	// The frame reaches the server with the correlation id.
	cmd := f.awaitCommand(t, CommandSendMessage)
	var payload SendMessagePayload
	require.NoError(t, json.Unmarshal(cmd.Payload, &payload))
	assert.Equal(t, sent.CorrelationID, payload.CorrelationID)

	// The server echo replaces the pending entry in place.
	conn := f.awaitConn(t)
	f.send(conn, EventMessage, Message{
		ID:             "srv-1",
		CorrelationID:  sent.CorrelationID,
		ConversationID: "conv-1",
		From:           "buyer-1",
		To:             "seller-1",
		Text:           "is it still available?",
		CreatedAt:      sent.CreatedAt,
	})

	require.Eventually(t, func() bool {
		entries := session.Timelines.Entries("conv-1")
		return len(entries) == 2 && entries[1].ID == "srv-1" && entries[1].State == MessageSent
	}, 5*time.Second, 10*time.Millisecond, "echo never reconciled")

	// Still exactly one entry for the send.
	entries := session.Timelines.Entries("conv-1")
	assert.Equal(t, sent.CorrelationID, entries[1].CorrelationID)
}

func TestSessionSendUnknownConversation(t *testing.T) {
	_, baseURL := sessionTestBackend(t)
	session := newTestSession(t, baseURL)

	_, err := session.SendText(context.Background(), "conv-ghost", "hello?")
	assert.Error(t, err)
}

func TestSessionTypingPresence(t *testing.T) {
	f, baseURL := sessionTestBackend(t)
	session := newTestSession(t, baseURL)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	conn := f.awaitConn(t)

	f.send(conn, EventTypingStart, TypingPayload{ConversationID: "conv-1", UserID: "seller-1"})
	require.Eventually(t, func() bool {
		return session.Typing.IsTyping("conv-1")
	}, 5*time.Second, 10*time.Millisecond)

	f.send(conn, EventTypingStop, TypingPayload{ConversationID: "conv-1", UserID: "seller-1"})
	require.Eventually(t, func() bool {
		return !session.Typing.IsTyping("conv-1")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionPendingEchoExpiry(t *testing.T) {
	f, baseURL := sessionTestBackend(t)
	session := newTestSession(t, baseURL,
		WithPendingEchoTimeout(50*time.Millisecond),
		WithSweepInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	require.NoError(t, session.OpenConversation(ctx, "conv-1"))

	// The server receives the frame but never echoes it back.
	sent, err := session.SendText(ctx, "conv-1", "anyone there?")
	require.NoError(t, err)
	f.awaitCommand(t, CommandSendMessage)

	require.Eventually(t, func() bool {
		for _, m := range session.Timelines.Entries("conv-1") {
			if m.CorrelationID == sent.CorrelationID {
				return m.State == MessageFailed
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "pending entry never expired")
}

func TestSessionLoadConversations(t *testing.T) {
	_, baseURL := sessionTestBackend(t)
	session := newTestSession(t, baseURL)

	require.NoError(t, session.LoadConversations(context.Background()))

	list := session.Store.List()
	require.Len(t, list, 1)
	assert.Equal(t, "conv-1", list[0].ID)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	_, baseURL := sessionTestBackend(t)
	session := newTestSession(t, baseURL)

	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
}
