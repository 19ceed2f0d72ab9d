package tenalychat

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Notification Webhook Types
// ============================================================================

// NotificationEvent is the payload the marketplace backend POSTs to a
// registered integration endpoint when a new message arrives while the
// recipient has no live connection. It drives out-of-band alerts only and
// never feeds timeline state.
type NotificationEvent struct {
	Source       string              `json:"source"`
	Event        string              `json:"event"`
	Timestamp    int64               `json:"timestamp"`
	Message      NotificationMessage `json:"message"`
	Sender       NotificationSender  `json:"sender"`
	Conversation NotificationConv    `json:"conversation"`
}

// NotificationMessage is the message summary inside a notification.
type NotificationMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Text           string      `json:"text,omitempty"`
	File           *Attachment `json:"file,omitempty"`
	SenderID       string      `json:"senderId"`
	CreatedAt      string      `json:"createdAt"`
}

// NotificationSender identifies the counterpart that wrote the message.
type NotificationSender struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// NotificationConv carries the conversation and its listing anchor.
type NotificationConv struct {
	ID        string     `json:"id"`
	AdContext *AdContext `json:"adContext,omitempty"`
}

// NotificationHandlerFunc handles a verified notification.
type NotificationHandlerFunc func(event *NotificationEvent) error

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyNotificationSignature verifies a webhook signature using
// HMAC-SHA256 with constant-time comparison.
func VerifyNotificationSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := signature
	if strings.HasPrefix(sig, "sha256=") {
		sig = sig[7:]
	}
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseNotificationEvent parses a raw webhook body into a typed event.
func ParseNotificationEvent(body string) (*NotificationEvent, error) {
	var event NotificationEvent
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if event.Source != "tenaly_chat" {
		return nil, fmt.Errorf("unknown webhook source: %s", event.Source)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if event.Message.ID == "" || event.Sender.ID == "" || event.Conversation.ID == "" {
		return nil, fmt.Errorf("missing required fields in webhook payload (message, sender, conversation)")
	}

	return &event, nil
}

// ============================================================================
// NotificationWebhook
// ============================================================================

// NotificationWebhook verifies, parses, and dispatches new-message
// notification webhooks.
type NotificationWebhook struct {
	secret    string
	onMessage NotificationHandlerFunc
}

// NewNotificationWebhook creates a webhook receiver.
func NewNotificationWebhook(secret string, onMessage NotificationHandlerFunc) (*NotificationWebhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &NotificationWebhook{
		secret:    secret,
		onMessage: onMessage,
	}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (w *NotificationWebhook) Verify(body, signature string) bool {
	return VerifyNotificationSignature(body, signature, w.secret)
}

// Parse parses a raw body into a typed NotificationEvent.
func (w *NotificationWebhook) Parse(body string) (*NotificationEvent, error) {
	return ParseNotificationEvent(body)
}

// Handle processes a webhook request (verify + parse + call handler).
// Returns the status code and response body for the caller to write.
func (w *NotificationWebhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	event, err := w.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	if err := w.onMessage(event); err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := tenalychat.NewNotificationWebhook("secret", handler)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *NotificationWebhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		body := string(bodyBytes)
		signature := r.Header.Get("X-Tenaly-Signature")

		statusCode, data := w.Handle(body, signature)

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (w *NotificationWebhook) HTTPHandlerFunc() http.HandlerFunc {
	return w.HTTPHandler().ServeHTTP
}
