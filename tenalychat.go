// Package tenalychat is the Go client for the Tenaly marketplace chat
// service: the realtime buyer–seller messaging behind vehicle, property and
// agriculture listings.
//
// The package splits into a thin REST client (contact list, get-or-create
// conversation, message history) and a realtime core built around a single
// shared ChatSocket. ChatSession ties both together for the lifetime of an
// authenticated session.
//
// Example:
//
//	client := tenalychat.NewClient(token)
//	session, _ := tenalychat.NewChatSession(client, token)
//	_ = session.Connect(ctx)
//	defer session.Close()
//
//	conv, _ := session.MessageSeller(ctx, "seller-42", "ad-917")
//	_ = session.OpenConversation(ctx, conv.ID)
//	_, _ = session.SendText(ctx, conv.ID, "Is the Corolla still available?")
package tenalychat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.tenaly.com"
	DefaultTimeout = 30 * time.Second
)

// Sentinel errors surfaced by the realtime core.
var (
	// ErrNotConnected is returned when a frame cannot be transmitted
	// because the shared connection is not established.
	ErrNotConnected = errors.New("tenalychat: not connected")
	// ErrRetryExhausted is returned when reconnection attempts ran out.
	ErrRetryExhausted = errors.New("tenalychat: reconnect attempts exhausted")
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST collaborator: conversation lists and message history
// come from here, everything live goes through ChatSocket.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	Contacts      *ContactsClient
	Conversations *ConversationsClient
	Messages      *MessagesClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger attaches a zerolog logger. The default is a disabled logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a chat API client authenticated with the session token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Contacts = &ContactsClient{client: c}
	c.Conversations = &ConversationsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	return c
}

// SetToken replaces the session credential, e.g. after a token refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResponse, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResponse](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// decodeData runs a request and unwraps the data field into T.
func decodeData[T any](res *APIResponse, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if !res.OK {
		if res.Error != nil {
			return out, res.Error
		}
		return out, fmt.Errorf("request failed")
	}
	if err := res.Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode response data: %w", err)
	}
	return out, nil
}

// ============================================================================
// Sub-clients
// ============================================================================

// ContactsClient fetches the counterpart list.
type ContactsClient struct{ client *Client }

// List returns everyone the user has a conversation with, ordered by last
// activity descending as returned upstream.
func (cc *ContactsClient) List(ctx context.Context) ([]Contact, error) {
	return decodeData[[]Contact](cc.client.do(ctx, "GET", "/api/chat/contacts", nil, nil))
}

// ConversationsClient manages conversation records.
type ConversationsClient struct{ client *Client }

// GetOrCreate resolves the conversation with a counterpart, creating one if
// none exists. adID is optional and anchors the conversation to a listing
// ("message this seller" deep links).
func (cv *ConversationsClient) GetOrCreate(ctx context.Context, counterpartID, adID string) (Conversation, error) {
	body := map[string]string{"counterpartId": counterpartID}
	if adID != "" {
		body["adId"] = adID
	}
	return decodeData[Conversation](cv.client.do(ctx, "POST", "/api/chat/conversations", body, nil))
}

// Get fetches a single conversation.
func (cv *ConversationsClient) Get(ctx context.Context, conversationID string) (Conversation, error) {
	return decodeData[Conversation](cv.client.do(ctx, "GET", "/api/chat/conversations/"+conversationID, nil, nil))
}

// MessagesClient fetches message history.
type MessagesClient struct{ client *Client }

// HistoryOptions paginate a history fetch.
type HistoryOptions struct {
	Limit  int
	Before time.Time
}

// History returns past messages of a conversation ordered by creation time
// ascending.
func (mc *MessagesClient) History(ctx context.Context, conversationID string, opts *HistoryOptions) ([]Message, error) {
	var query map[string]string
	if opts != nil {
		query = map[string]string{}
		if opts.Limit > 0 {
			query["limit"] = fmt.Sprintf("%d", opts.Limit)
		}
		if !opts.Before.IsZero() {
			query["before"] = opts.Before.UTC().Format(time.RFC3339Nano)
		}
		if len(query) == 0 {
			query = nil
		}
	}
	msgs, err := decodeData[[]Message](mc.client.do(ctx, "GET", "/api/chat/conversations/"+conversationID+"/messages", nil, query))
	if err != nil {
		return nil, err
	}
	// History entries are server copies by definition.
	for i := range msgs {
		if msgs[i].State == "" {
			msgs[i].State = MessageSent
		}
	}
	return msgs, nil
}

// ============================================================================
// Session identity
// ============================================================================

// UserIDFromToken extracts the authenticated user id from the session JWT.
// The token is parsed without verification; the backend owns validation.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("cannot parse session token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		if uid, ok := claims["userId"].(string); ok && uid != "" {
			return uid, nil
		}
		return "", fmt.Errorf("session token has no subject claim")
	}
	return sub, nil
}
