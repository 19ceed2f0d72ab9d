package tenalychat

import (
	"encoding/json"
	"sync"
	"time"
)

// ============================================================================
// Event Router
// ============================================================================

// EventHandler is the generic inbound event callback.
type EventHandler func(eventType string, payload json.RawMessage)

// Subscription is a registered handler. Cancel removes it so handlers do not
// leak across screen transitions.
type Subscription struct {
	router    *EventRouter
	eventType string
	id        uint64
}

// Cancel unregisters the handler. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.router == nil {
		return
	}
	s.router.remove(s.eventType, s.id)
	s.router = nil
}

type registration struct {
	id      uint64
	handler EventHandler
}

// EventRouter dispatches inbound transport events to registered handlers in
// registration order. It performs no dedup itself; handlers must tolerate
// redelivery (the timeline dedups by message identity).
type EventRouter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]registration
}

// NewEventRouter creates an empty router.
func NewEventRouter() *EventRouter {
	return &EventRouter{handlers: make(map[string][]registration)}
}

// On registers a generic handler for an event type.
func (r *EventRouter) On(eventType string, h EventHandler) *Subscription {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[eventType] = append(r.handlers[eventType], registration{id: id, handler: h})
	r.mu.Unlock()
	return &Subscription{router: r, eventType: eventType, id: id}
}

func (r *EventRouter) remove(eventType string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.handlers[eventType]
	for i, reg := range regs {
		if reg.id == id {
			r.handlers[eventType] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Dispatch invokes all handlers registered for the event type, in the order
// they were registered. Handlers run synchronously on the caller's turn so
// per-conversation ordering is preserved.
func (r *EventRouter) Dispatch(eventType string, payload json.RawMessage) {
	r.mu.RLock()
	regs := append([]registration(nil), r.handlers[eventType]...)
	r.mu.RUnlock()
	for _, reg := range regs {
		reg.handler(eventType, payload)
	}
}

// ============================================================================
// Typed registration helpers
// ============================================================================

// OnMessageReceived registers a handler for live messages.
func (r *EventRouter) OnMessageReceived(h func(Message)) *Subscription {
	return r.On(EventMessage, func(_ string, payload json.RawMessage) {
		var m Message
		if json.Unmarshal(payload, &m) == nil {
			h(m)
		}
	})
}

// OnHistoricalMessages registers a handler for history batches pushed over
// the connection.
func (r *EventRouter) OnHistoricalMessages(h func([]Message)) *Subscription {
	return r.On(EventHistory, func(_ string, payload json.RawMessage) {
		var batch []Message
		if json.Unmarshal(payload, &batch) == nil {
			h(batch)
		}
	})
}

// OnTypingStart registers a handler for typing-start events.
func (r *EventRouter) OnTypingStart(h func(TypingPayload)) *Subscription {
	return r.On(EventTypingStart, func(_ string, payload json.RawMessage) {
		var p TypingPayload
		if json.Unmarshal(payload, &p) == nil {
			h(p)
		}
	})
}

// OnTypingStop registers a handler for typing-stop events.
func (r *EventRouter) OnTypingStop(h func(TypingPayload)) *Subscription {
	return r.On(EventTypingStop, func(_ string, payload json.RawMessage) {
		var p TypingPayload
		if json.Unmarshal(payload, &p) == nil {
			h(p)
		}
	})
}

// OnNotification registers a handler for out-of-band new-message alerts.
func (r *EventRouter) OnNotification(h func(NotificationPayload)) *Subscription {
	return r.On(EventNotification, func(_ string, payload json.RawMessage) {
		var p NotificationPayload
		if json.Unmarshal(payload, &p) == nil {
			h(p)
		}
	})
}

// OnServerError registers a handler for server-side error frames.
func (r *EventRouter) OnServerError(h func(ErrorPayload)) *Subscription {
	return r.On(EventError, func(_ string, payload json.RawMessage) {
		var p ErrorPayload
		if json.Unmarshal(payload, &p) == nil {
			h(p)
		}
	})
}

// ============================================================================
// Connection meta events
// ============================================================================

type disconnectedMeta struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type reconnectingMeta struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// OnConnected registers a handler invoked after each successful (re)connect.
func (r *EventRouter) OnConnected(h func()) *Subscription {
	return r.On(metaConnected, func(string, json.RawMessage) { h() })
}

// OnDisconnected registers a handler invoked when the connection drops.
func (r *EventRouter) OnDisconnected(h func(code int, reason string)) *Subscription {
	return r.On(metaDisconnected, func(_ string, payload json.RawMessage) {
		var m disconnectedMeta
		if json.Unmarshal(payload, &m) == nil {
			h(m.Code, m.Reason)
		}
	})
}

// OnReconnecting registers a handler invoked before each reconnect attempt.
func (r *EventRouter) OnReconnecting(h func(attempt int, delay time.Duration)) *Subscription {
	return r.On(metaReconnecting, func(_ string, payload json.RawMessage) {
		var m reconnectingMeta
		if json.Unmarshal(payload, &m) == nil {
			h(m.Attempt, m.Delay)
		}
	})
}

func (r *EventRouter) emitConnected() {
	r.Dispatch(metaConnected, nil)
}

func (r *EventRouter) emitDisconnected(code int, reason string) {
	b, _ := json.Marshal(disconnectedMeta{Code: code, Reason: reason})
	r.Dispatch(metaDisconnected, b)
}

func (r *EventRouter) emitReconnecting(attempt int, delay time.Duration) {
	b, _ := json.Marshal(reconnectingMeta{Attempt: attempt, Delay: delay})
	r.Dispatch(metaReconnecting, b)
}
