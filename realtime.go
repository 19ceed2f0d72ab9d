package tenalychat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// SocketConfig configures the shared chat connection.
type SocketConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *SocketConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// SocketState represents the connection state.
type SocketState string

const (
	StateDisconnected SocketState = "disconnected"
	StateConnecting   SocketState = "connecting"
	StateConnected    SocketState = "connected"
	StateReconnecting SocketState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *SocketConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// A minute of stable connection resets the attempt counter.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// ChatSocket
// ============================================================================

// ChatSocket owns the single transport connection for a session. All rooms
// are multiplexed over it; every other component reaches the wire only
// through here. It reconnects with bounded exponential backoff and replays
// active room joins after each reconnect.
type ChatSocket struct {
	baseURL string
	config  *SocketConfig
	log     zerolog.Logger

	router *EventRouter
	rooms  *RoomRegistry
	recon  *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            SocketState
	intentionalClose bool
	cancelFn         context.CancelFunc

	pingCounter  int
	pendingPongs map[string]chan PongPayload
	pendingMu    sync.Mutex
}

// NewChatSocket creates a disconnected socket. Call Connect to establish it.
func NewChatSocket(baseURL string, config *SocketConfig, log zerolog.Logger) *ChatSocket {
	cfg := *config
	cfg.defaults()
	s := &ChatSocket{
		baseURL:      strings.TrimRight(baseURL, "/"),
		config:       &cfg,
		log:          log,
		router:       NewEventRouter(),
		recon:        newReconnector(&cfg),
		state:        StateDisconnected,
		pendingPongs: make(map[string]chan PongPayload),
	}
	s.rooms = NewRoomRegistry(s, log)
	return s
}

// Events returns the router inbound events are dispatched through.
func (s *ChatSocket) Events() *EventRouter {
	return s.router
}

// Rooms returns the room subscription registry bound to this socket.
func (s *ChatSocket) Rooms() *RoomRegistry {
	return s.rooms
}

// State returns the current connection state.
func (s *ChatSocket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ChatSocket) wsURL() string {
	u := strings.Replace(s.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/chat/ws?token=" + s.config.Token
}

// Connect establishes the connection and authenticates with the session
// credential. Idempotent if already connected or connecting.
func (s *ChatSocket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.intentionalClose = false
	s.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, s.wsURL(), nil)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	// The first frame must be the authenticated acknowledgement.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		s.setState(StateDisconnected)
		return fmt.Errorf("read auth frame: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventAuthenticated {
		conn.Close(websocket.StatusNormalClosure, "")
		s.setState(StateDisconnected)
		return fmt.Errorf("expected %q frame, got %q", EventAuthenticated, env.Type)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.cancelFn = cancel
	s.mu.Unlock()
	s.recon.markConnected()

	s.log.Debug().Msg("chat socket connected")
	s.router.Dispatch(env.Type, env.Payload)

	// Resume in-flight conversations before announcing the connection.
	s.rooms.replay(connCtx)
	s.router.emitConnected()

	go s.readLoop(connCtx, conn)
	go s.heartbeatLoop(connCtx)

	return nil
}

// Disconnect tears down the transport and clears all room subscriptions.
// Idempotent-safe to re-invoke.
func (s *ChatSocket) Disconnect() error {
	s.mu.Lock()
	s.intentionalClose = true
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	conn := s.conn
	s.conn = nil
	wasConnected := s.state != StateDisconnected
	s.state = StateDisconnected
	s.mu.Unlock()

	s.rooms.Clear()
	s.recon.reset()
	s.clearPendingPongs()

	if conn != nil {
		closeErr := conn.Close(websocket.StatusNormalClosure, "client disconnect")
		s.router.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
		return closeErr
	}
	if wasConnected {
		s.router.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
	}
	return nil
}

// Send transmits a command over the shared connection.
func (s *ChatSocket) Send(ctx context.Context, cmd *Command) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// StartTyping tells the counterpart that the user is composing.
func (s *ChatSocket) StartTyping(ctx context.Context, conversationID string) error {
	return s.Send(ctx, &Command{
		Type:    CommandTypingStart,
		Payload: RoomPayload{ConversationID: conversationID},
	})
}

// StopTyping clears the composing signal.
func (s *ChatSocket) StopTyping(ctx context.Context, conversationID string) error {
	return s.Send(ctx, &Command{
		Type:    CommandTypingStop,
		Payload: RoomPayload{ConversationID: conversationID},
	})
}

// Ping sends a heartbeat and waits for its pong.
func (s *ChatSocket) Ping(ctx context.Context) (*PongPayload, error) {
	s.mu.Lock()
	s.pingCounter++
	requestID := fmt.Sprintf("ping-%d", s.pingCounter)
	s.mu.Unlock()

	ch := make(chan PongPayload, 1)
	s.pendingMu.Lock()
	s.pendingPongs[requestID] = ch
	s.pendingMu.Unlock()

	drop := func() {
		s.pendingMu.Lock()
		delete(s.pendingPongs, requestID)
		s.pendingMu.Unlock()
	}

	err := s.Send(ctx, &Command{
		Type:      CommandPing,
		Payload:   map[string]string{"requestId": requestID},
		RequestID: requestID,
	})
	if err != nil {
		drop()
		return nil, err
	}

	select {
	case pong, ok := <-ch:
		if !ok {
			// Channel closed by a disconnect while the pong was in flight.
			return nil, ErrNotConnected
		}
		return &pong, nil
	case <-time.After(10 * time.Second):
		drop()
		return nil, fmt.Errorf("ping timeout")
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

// ============================================================================
// Loops
// ============================================================================

func (s *ChatSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			intentional := s.intentionalClose
			s.mu.Unlock()
			if intentional {
				return
			}

			s.mu.Lock()
			s.state = StateDisconnected
			s.conn = nil
			s.mu.Unlock()
			s.clearPendingPongs()

			s.log.Warn().Err(err).Msg("chat socket dropped")
			s.router.emitDisconnected(0, err.Error())

			if s.config.AutoReconnect && s.recon.shouldReconnect() {
				s.scheduleReconnect(ctx)
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			s.log.Debug().Msg("discarding malformed frame")
			continue
		}

		if env.Type == EventPong {
			var p PongPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.RequestID != "" {
				s.pendingMu.Lock()
				ch, ok := s.pendingPongs[p.RequestID]
				if ok {
					delete(s.pendingPongs, p.RequestID)
				}
				s.pendingMu.Unlock()
				if ok {
					ch <- p
				}
			}
			continue
		}

		s.router.Dispatch(env.Type, env.Payload)
	}
}

func (s *ChatSocket) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() != StateConnected {
				return
			}
			if _, err := s.Ping(ctx); err != nil {
				// Force-close so the read loop notices and reconnects.
				s.log.Warn().Err(err).Msg("heartbeat failed, closing connection")
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (s *ChatSocket) scheduleReconnect(ctx context.Context) {
	delay := s.recon.nextDelay()
	s.setState(StateReconnecting)
	s.log.Info().Int("attempt", s.recon.attempt).Dur("delay", delay).Msg("reconnecting")
	s.router.emitReconnecting(s.recon.attempt, delay)

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := s.Connect(ctx); err != nil {
		if s.config.AutoReconnect && s.recon.shouldReconnect() {
			s.scheduleReconnect(ctx)
			return
		}
		s.setState(StateDisconnected)
		s.log.Error().Err(err).Msg("reconnect attempts exhausted")
		s.router.emitDisconnected(0, ErrRetryExhausted.Error())
	}
}

func (s *ChatSocket) setState(st SocketState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *ChatSocket) clearPendingPongs() {
	s.pendingMu.Lock()
	for k, ch := range s.pendingPongs {
		close(ch)
		delete(s.pendingPongs, k)
	}
	s.pendingMu.Unlock()
}
