package tenalychat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDispatchOrder(t *testing.T) {
	r := NewEventRouter()

	var order []string
	r.On(EventMessage, func(string, json.RawMessage) { order = append(order, "first") })
	r.On(EventMessage, func(string, json.RawMessage) { order = append(order, "second") })
	r.On(EventMessage, func(string, json.RawMessage) { order = append(order, "third") })

	r.Dispatch(EventMessage, nil)

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRouterUnknownEventIsIgnored(t *testing.T) {
	r := NewEventRouter()

	called := false
	r.On(EventMessage, func(string, json.RawMessage) { called = true })

	r.Dispatch("some-future-event", json.RawMessage(`{"x":1}`))

	assert.False(t, called)
}

func TestSubscriptionCancel(t *testing.T) {
	r := NewEventRouter()

	var calls int
	sub := r.On(EventMessage, func(string, json.RawMessage) { calls++ })
	kept := 0
	r.On(EventMessage, func(string, json.RawMessage) { kept++ })

	r.Dispatch(EventMessage, nil)
	sub.Cancel()
	sub.Cancel() // second cancel is a no-op
	r.Dispatch(EventMessage, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, kept)
}

func TestTypedHandlers(t *testing.T) {
	r := NewEventRouter()

	var gotMsg Message
	r.OnMessageReceived(func(m Message) { gotMsg = m })

	var gotTyping TypingPayload
	r.OnTypingStart(func(p TypingPayload) { gotTyping = p })

	var gotBatch []Message
	r.OnHistoricalMessages(func(batch []Message) { gotBatch = batch })

	var gotErr ErrorPayload
	r.OnServerError(func(p ErrorPayload) { gotErr = p })

	r.Dispatch(EventMessage, mustJSON(t, Message{ID: "m-1", ConversationID: "conv-1", Text: "hi"}))
	r.Dispatch(EventTypingStart, mustJSON(t, TypingPayload{ConversationID: "conv-1", UserID: "user-a"}))
	r.Dispatch(EventHistory, mustJSON(t, []Message{{ID: "m-1"}, {ID: "m-2"}}))
	r.Dispatch(EventError, mustJSON(t, ErrorPayload{Message: "room unavailable"}))

	assert.Equal(t, "m-1", gotMsg.ID)
	assert.Equal(t, "hi", gotMsg.Text)
	assert.Equal(t, "user-a", gotTyping.UserID)
	assert.Len(t, gotBatch, 2)
	assert.Equal(t, "room unavailable", gotErr.Message)
}

func TestTypedHandlerSkipsMalformedPayload(t *testing.T) {
	r := NewEventRouter()

	called := false
	r.OnMessageReceived(func(Message) { called = true })

	r.Dispatch(EventMessage, json.RawMessage(`{not json`))

	assert.False(t, called)
}

func TestMetaEvents(t *testing.T) {
	r := NewEventRouter()

	connected := 0
	r.OnConnected(func() { connected++ })

	var code int
	var reason string
	r.OnDisconnected(func(c int, rsn string) { code, reason = c, rsn })

	var attempt int
	var delay time.Duration
	r.OnReconnecting(func(a int, d time.Duration) { attempt, delay = a, d })

	r.emitConnected()
	r.emitDisconnected(1006, "abnormal closure")
	r.emitReconnecting(3, 4*time.Second)

	assert.Equal(t, 1, connected)
	assert.Equal(t, 1006, code)
	assert.Equal(t, "abnormal closure", reason)
	assert.Equal(t, 3, attempt)
	assert.Equal(t, 4*time.Second, delay)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
