package tenalychat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionOption configures a ChatSession.
type SessionOption func(*ChatSession)

// WithSocketConfig overrides the connection settings.
func WithSocketConfig(cfg SocketConfig) SessionOption {
	return func(s *ChatSession) { s.socketCfg = cfg }
}

// WithTypingExpiry overrides the typing-entry expiry window.
func WithTypingExpiry(d time.Duration) SessionOption {
	return func(s *ChatSession) { s.typingExpiry = d }
}

// WithPendingEchoTimeout overrides the window a pending message may wait for
// its server echo before it is marked failed.
func WithPendingEchoTimeout(d time.Duration) SessionOption {
	return func(s *ChatSession) { s.pendingEcho = d }
}

// WithSweepInterval overrides the tick driving typing expiry and the
// pending-echo timeout.
func WithSweepInterval(d time.Duration) SessionOption {
	return func(s *ChatSession) { s.sweepEvery = d }
}

// ChatSession owns the realtime messaging state of one authenticated
// session: the single shared connection, the conversation list, the
// per-conversation timelines and the typing presence. Create it at session
// start, Close it at session end (logout or app backgrounding); both
// Connect and Close are safe to re-invoke.
type ChatSession struct {
	client *Client
	self   string

	socketCfg    SocketConfig
	typingExpiry time.Duration
	pendingEcho  time.Duration
	sweepEvery   time.Duration

	Socket    *ChatSocket
	Store     *ConversationStore
	Timelines *TimelineStore
	Typing    *TypingAggregator
	Composer  *Composer

	subs []*Subscription

	mu       sync.Mutex
	stopCh   chan struct{}
	sweeping bool
}

// NewChatSession wires the messaging core for the user identified by the
// session token.
func NewChatSession(client *Client, token string, opts ...SessionOption) (*ChatSession, error) {
	self, err := UserIDFromToken(token)
	if err != nil {
		return nil, err
	}

	s := &ChatSession{
		client:     client,
		self:       self,
		socketCfg:  SocketConfig{Token: token, AutoReconnect: true},
		sweepEvery: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.socketCfg.Token == "" {
		s.socketCfg.Token = token
	}

	s.Socket = NewChatSocket(client.baseURL, &s.socketCfg, client.log)
	s.Store = NewConversationStore(client.Contacts, self)
	s.Timelines = NewTimelineStore()
	if s.pendingEcho > 0 {
		s.Timelines.SetPendingEchoTimeout(s.pendingEcho)
	}
	s.Typing = NewTypingAggregator(s.typingExpiry)
	s.Composer = NewComposer(s.Socket, s.Timelines, self, client.log)

	s.register()
	return s, nil
}

// UserID returns the authenticated user's id.
func (s *ChatSession) UserID() string {
	return s.self
}

// Events exposes the router for UI-level subscriptions (notifications,
// connection state). Subscriptions taken here should be cancelled when the
// screen that took them goes away.
func (s *ChatSession) Events() *EventRouter {
	return s.Socket.Events()
}

// register wires the inbound events into the stores. These subscriptions
// live for the whole session.
func (s *ChatSession) register() {
	router := s.Socket.Events()

	s.subs = append(s.subs,
		router.OnMessageReceived(func(m Message) {
			if m.CorrelationID != "" {
				// Echo of an optimistic send: replace the pending entry.
				s.Timelines.Reconcile(m.ConversationID, m.CorrelationID, m)
			} else {
				s.Timelines.AppendLive(m)
			}
			s.Store.Touch(m.ConversationID, m.CreatedAt)
		}),
		router.OnHistoricalMessages(func(batch []Message) {
			for _, m := range batch {
				s.Timelines.AppendLive(m)
			}
		}),
		router.OnTypingStart(func(p TypingPayload) {
			s.Typing.Start(p.ConversationID, p.UserID)
		}),
		router.OnTypingStop(func(p TypingPayload) {
			s.Typing.Stop(p.ConversationID, p.UserID)
		}),
	)
}

// Connect establishes the shared connection and starts the sweep tick.
// Idempotent if already connected.
func (s *ChatSession) Connect(ctx context.Context) error {
	if err := s.Socket.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.sweeping {
		s.sweeping = true
		s.stopCh = make(chan struct{})
		go s.sweepLoop(s.stopCh)
	}
	s.mu.Unlock()
	return nil
}

// Close tears down the connection and session subscriptions. Safe to call
// more than once.
func (s *ChatSession) Close() error {
	s.mu.Lock()
	if s.sweeping {
		s.sweeping = false
		close(s.stopCh)
	}
	s.mu.Unlock()
	return s.Socket.Disconnect()
}

func (s *ChatSession) sweepLoop(stop <-chan struct{}) {
	interval := s.sweepEvery
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Typing.Sweep()
			s.Timelines.ExpirePending()
		}
	}
}

// LoadConversations refreshes the conversation list from the backend.
func (s *ChatSession) LoadConversations(ctx context.Context) error {
	return s.Store.Load(ctx)
}

// MessageSeller resolves (or creates) the conversation with a seller,
// optionally anchored to a listing (the "message this seller" deep link).
func (s *ChatSession) MessageSeller(ctx context.Context, sellerID, adID string) (Conversation, error) {
	conv, err := s.client.Conversations.GetOrCreate(ctx, sellerID, adID)
	if err != nil {
		return Conversation{}, fmt.Errorf("resolve conversation: %w", err)
	}
	s.Store.Upsert(conv)
	return conv, nil
}

// OpenConversation joins the conversation's room and loads its history,
// merging any live messages that arrive while the fetch is in flight.
// Re-entering the same conversation does not duplicate its history.
func (s *ChatSession) OpenConversation(ctx context.Context, conversationID string) error {
	if _, ok := s.Store.Get(conversationID); !ok {
		conv, err := s.client.Conversations.Get(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("fetch conversation: %w", err)
		}
		s.Store.Upsert(conv)
	}

	if err := s.Socket.Rooms().Join(ctx, conversationID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	s.Timelines.BeginHistory(conversationID)
	history, err := s.client.Messages.History(ctx, conversationID, nil)
	if err != nil {
		s.Timelines.AbortHistory(conversationID)
		return fmt.Errorf("load history: %w", err)
	}
	s.Timelines.ApplyHistory(conversationID, history)
	return nil
}

// CloseConversation leaves the conversation's room. The shared connection
// and the loaded timeline stay; leaving a screen must not tear down state
// other conversations rely on.
func (s *ChatSession) CloseConversation(ctx context.Context, conversationID string) error {
	return s.Socket.Rooms().Leave(ctx, conversationID)
}

// SendText sends a text message in a known conversation.
func (s *ChatSession) SendText(ctx context.Context, conversationID, text string) (Message, error) {
	conv, ok := s.Store.Get(conversationID)
	if !ok {
		return Message{}, fmt.Errorf("unknown conversation %s", conversationID)
	}
	return s.Composer.SendText(ctx, conv, text)
}

// SendFile sends a file-attachment message in a known conversation.
func (s *ChatSession) SendFile(ctx context.Context, conversationID string, att Attachment) (Message, error) {
	conv, ok := s.Store.Get(conversationID)
	if !ok {
		return Message{}, fmt.Errorf("unknown conversation %s", conversationID)
	}
	return s.Composer.SendFile(ctx, conv, att)
}

// StartTyping signals that the user is composing in the conversation.
func (s *ChatSession) StartTyping(ctx context.Context, conversationID string) error {
	return s.Socket.StartTyping(ctx, conversationID)
}

// StopTyping clears the user's composing signal.
func (s *ChatSession) StopTyping(ctx context.Context, conversationID string) error {
	return s.Socket.StopTyping(ctx, conversationID)
}
