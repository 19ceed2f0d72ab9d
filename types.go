package tenalychat

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the chat backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResponse is the generic REST response envelope.
type APIResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResponse) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Domain Types
// ============================================================================

// DeliveryState tracks an outbound message through its lifecycle.
type DeliveryState string

const (
	// MessagePending is an optimistic entry awaiting its server echo.
	MessagePending DeliveryState = "pending"
	// MessageSent is a server-confirmed entry.
	MessageSent DeliveryState = "sent"
	// MessageFailed is an entry whose transmission failed or whose echo
	// never arrived. Retry is a deliberate user action.
	MessageFailed DeliveryState = "failed"
)

// Attachment describes a file carried by a message.
type Attachment struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// AdContext ties a conversation or message to the listing it originated from.
type AdContext struct {
	AdID     string `json:"adId"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Message is a single chat message. Before server confirmation it carries
// only a CorrelationID and MessagePending state; once the echo arrives the
// server-assigned ID and MessageSent state replace it in the timeline.
type Message struct {
	ID             string        `json:"id,omitempty"`
	CorrelationID  string        `json:"correlationId,omitempty"`
	ConversationID string        `json:"conversationId"`
	From           string        `json:"from"`
	To             string        `json:"to"`
	Text           string        `json:"text,omitempty"`
	File           *Attachment   `json:"file,omitempty"`
	AdContext      *AdContext    `json:"adContext,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	State          DeliveryState `json:"state,omitempty"`
}

// Confirmed reports whether the message carries a server identity.
func (m Message) Confirmed() bool {
	return m.ID != "" && m.State != MessagePending
}

// identity is the dedup key within a timeline: the server id once assigned,
// the correlation id before that.
func (m Message) identity() string {
	if m.ID != "" {
		return m.ID
	}
	return m.CorrelationID
}

// Conversation is a logical channel between two participants, optionally
// anchored to a listing.
type Conversation struct {
	ID           string     `json:"id"`
	Participants [2]string  `json:"participants"`
	AdContext    *AdContext `json:"adContext,omitempty"`
	LastActivity time.Time  `json:"lastActivity"`
}

// Counterpart returns the participant that is not self.
func (c Conversation) Counterpart(self string) string {
	if c.Participants[0] == self {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Contact is one entry of the counterpart list returned by the backend.
type Contact struct {
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	DisplayName    string     `json:"displayName,omitempty"`
	AdContext      *AdContext `json:"adContext,omitempty"`
	LastMessageAt  time.Time  `json:"lastMessageAt"`
}

// ============================================================================
// Wire Types
// ============================================================================

// Inbound event types carried over the shared connection.
const (
	EventAuthenticated = "authenticated"
	EventMessage       = "message-received"
	EventHistory       = "historical-messages"
	EventTypingStart   = "typing-start"
	EventTypingStop    = "typing-stop"
	EventNotification  = "new-message-notification"
	EventPong          = "pong"
	EventError         = "error"
)

// Meta event types emitted by the connection itself, not the server.
const (
	metaConnected    = "_connected"
	metaDisconnected = "_disconnected"
	metaReconnecting = "_reconnecting"
)

// Outbound command types.
const (
	CommandJoinRoom    = "join-room"
	CommandLeaveRoom   = "leave-room"
	CommandSendMessage = "send-message"
	CommandTypingStart = "typing-start"
	CommandTypingStop  = "typing-stop"
	CommandPing        = "ping"
)

// Envelope is the wire format for all inbound events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server frame.
type Command struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// AuthenticatedPayload is the first frame of an established connection.
type AuthenticatedPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// TypingPayload signals that a counterpart started or stopped composing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// NotificationPayload triggers out-of-band UI alerts only; it never touches
// timeline state.
type NotificationPayload struct {
	ConversationID string     `json:"conversationId"`
	From           string     `json:"from"`
	Preview        string     `json:"preview,omitempty"`
	AdContext      *AdContext `json:"adContext,omitempty"`
}

// RoomPayload identifies a conversation room in join/leave commands.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is the body of a send-message command.
type SendMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	CorrelationID  string      `json:"correlationId"`
	Text           string      `json:"text,omitempty"`
	File           *Attachment `json:"file,omitempty"`
	From           string      `json:"from"`
	To             string      `json:"to"`
	AdContext      *AdContext  `json:"adContext,omitempty"`
}

// ErrorPayload is sent when a server-side error occurs.
type ErrorPayload struct {
	Message string `json:"message"`
}

// PongPayload is the response to a ping command.
type PongPayload struct {
	RequestID string `json:"requestId"`
}
