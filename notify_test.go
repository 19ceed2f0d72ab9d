package tenalychat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notifyTestSecret = "test-webhook-secret"

func signBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func notifyTestBody() string {
	return `{
		"source": "tenaly_chat",
		"event": "new-message",
		"timestamp": 1767225600,
		"message": {"id": "m-1", "conversationId": "conv-1", "text": "still available?", "senderId": "buyer-1", "createdAt": "2026-01-01T00:00:00Z"},
		"sender": {"id": "buyer-1", "displayName": "Ada"},
		"conversation": {"id": "conv-1", "adContext": {"adId": "ad-42", "title": "Blue Bicycle"}}
	}`
}

func TestVerifyNotificationSignature(t *testing.T) {
	body := notifyTestBody()

	assert.True(t, VerifyNotificationSignature(body, signBody(body, notifyTestSecret), notifyTestSecret))
	// Raw hex without the sha256= prefix also verifies.
	assert.True(t, VerifyNotificationSignature(body, strings.TrimPrefix(signBody(body, notifyTestSecret), "sha256="), notifyTestSecret))

	assert.False(t, VerifyNotificationSignature(body, signBody(body, "wrong-secret"), notifyTestSecret))
	assert.False(t, VerifyNotificationSignature(body+" ", signBody(body, notifyTestSecret), notifyTestSecret))
	assert.False(t, VerifyNotificationSignature(body, "", notifyTestSecret))
	assert.False(t, VerifyNotificationSignature(body, "sha256=", notifyTestSecret))
	assert.False(t, VerifyNotificationSignature("", signBody("", notifyTestSecret), notifyTestSecret))
}

func TestParseNotificationEvent(t *testing.T) {
	event, err := ParseNotificationEvent(notifyTestBody())
	require.NoError(t, err)
	assert.Equal(t, "new-message", event.Event)
	assert.Equal(t, "conv-1", event.Conversation.ID)
	assert.Equal(t, "Ada", event.Sender.DisplayName)
	require.NotNil(t, event.Conversation.AdContext)
	assert.Equal(t, "ad-42", event.Conversation.AdContext.AdID)
}

func TestParseNotificationEventRejects(t *testing.T) {
	cases := map[string]string{
		"invalid json":   `{not json`,
		"wrong source":   `{"source": "someone_else", "event": "new-message", "message": {"id": "m"}, "sender": {"id": "s"}, "conversation": {"id": "c"}}`,
		"missing event":  `{"source": "tenaly_chat", "message": {"id": "m"}, "sender": {"id": "s"}, "conversation": {"id": "c"}}`,
		"missing sender": `{"source": "tenaly_chat", "event": "new-message", "message": {"id": "m"}, "conversation": {"id": "c"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNotificationEvent(body)
			assert.Error(t, err)
		})
	}
}

func TestNotificationWebhookRequiresSecret(t *testing.T) {
	_, err := NewNotificationWebhook("", nil)
	assert.Error(t, err)
}

func TestNotificationWebhookHandle(t *testing.T) {
	var handled *NotificationEvent
	wh, err := NewNotificationWebhook(notifyTestSecret, func(event *NotificationEvent) error {
		handled = event
		return nil
	})
	require.NoError(t, err)

	body := notifyTestBody()

	status, _ := wh.Handle(body, signBody(body, notifyTestSecret))
	assert.Equal(t, http.StatusOK, status)
	require.NotNil(t, handled)
	assert.Equal(t, "m-1", handled.Message.ID)

	status, _ = wh.Handle(body, signBody(body, "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = wh.Handle(`{"source": "tenaly_chat"}`, signBody(`{"source": "tenaly_chat"}`, notifyTestSecret))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestNotificationWebhookHandlerError(t *testing.T) {
	wh, err := NewNotificationWebhook(notifyTestSecret, func(*NotificationEvent) error {
		return fmt.Errorf("downstream unavailable")
	})
	require.NoError(t, err)

	body := notifyTestBody()
	status, _ := wh.Handle(body, signBody(body, notifyTestSecret))
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestNotificationWebhookHTTPHandler(t *testing.T) {
	wh, err := NewNotificationWebhook(notifyTestSecret, func(*NotificationEvent) error { return nil })
	require.NoError(t, err)

	srv := httptest.NewServer(wh.HTTPHandler())
	defer srv.Close()

	body := notifyTestBody()

	req, _ := http.NewRequest("POST", srv.URL, strings.NewReader(body))
	req.Header.Set("X-Tenaly-Signature", signBody(body, notifyTestSecret))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, _ = http.NewRequest("POST", srv.URL, strings.NewReader(body))
	req.Header.Set("X-Tenaly-Signature", "sha256=deadbeef")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
