// Package dispatch relays telephony-call progress events from the external
// dispatch-calling collaborator into a voice session's outward event
// stream. Events pass through unmodified.
package dispatch

import (
	"sync"

	"go.uber.org/zap"
)

// EventType classifies a dispatch progress event.
type EventType string

const (
	EventStatus  EventType = "status"
	EventMessage EventType = "message"
	EventOutcome EventType = "outcome"
)

// Event is one progress update from an in-flight dispatch call.
type Event struct {
	Type    EventType `json:"type"`
	Phase   string    `json:"phase,omitempty"`
	Role    string    `json:"role,omitempty"`
	Text    string    `json:"text,omitempty"`
	Summary string    `json:"summary,omitempty"`
}

const subscriberBuffer = 32

// Bridge is a named, per-session publish point. The dispatch collaborator
// publishes under a session id; the owning voice session subscribes.
type Bridge struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]chan Event
}

// NewBridge creates an empty bridge.
func NewBridge(logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		logger: logger,
		subs:   make(map[string]chan Event),
	}
}

// Subscribe registers the single subscriber for a session id and returns
// its event channel. A previous subscription under the same id is
// replaced and its channel closed.
func (b *Bridge) Subscribe(sessionID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[sessionID]; ok {
		close(old)
	}
	ch := make(chan Event, subscriberBuffer)
	b.subs[sessionID] = ch
	return ch
}

// Unsubscribe removes a session's subscription and closes its channel.
func (b *Bridge) Unsubscribe(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[sessionID]; ok {
		close(ch)
		delete(b.subs, sessionID)
	}
}

// Publish delivers an event to the session's subscriber, if any. Delivery
// never blocks; if the subscriber is not keeping up the event is dropped
// and logged.
func (b *Bridge) Publish(sessionID string, ev Event) {
	b.mu.Lock()
	ch, ok := b.subs[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		b.logger.Warn("dispatch event dropped, subscriber backlogged",
			zap.String("session_id", sessionID),
			zap.String("type", string(ev.Type)))
	}
}
