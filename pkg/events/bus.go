package events

import (
	"log/slog"
	"sync"
)

// Sink receives published events. The ConnectionManager is the main
// implementation; tests supply their own.
type Sink interface {
	Deliver(event *Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event *Event)

// Deliver implements Sink.
func (f SinkFunc) Deliver(event *Event) { f(event) }

// Bus is the in-process event bus. Publish fans out synchronously to
// all registered sinks; sinks must not block.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register adds a sink. Sinks cannot be removed; the bus lives for the
// process lifetime.
func (b *Bus) Register(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish delivers the event to every sink. A nil bus is a no-op so
// callers can skip nil checks.
func (b *Bus) Publish(event *Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sink := range sinks {
		sink.Deliver(event)
	}
}

// PublishSessionStatus emits a state transition on both the global and
// the per-session channel.
func (b *Bus) PublishSessionStatus(sessionID string, payload SessionStatusPayload) {
	if b == nil {
		return
	}
	for _, channel := range []string{ChannelSessions, SessionChannel(sessionID)} {
		b.Publish(&Event{
			Type:      EventTypeSessionStatus,
			Channel:   channel,
			SessionID: sessionID,
			Payload:   payload,
		})
	}
	slog.Debug("Session status published", "session_id", sessionID, "state", payload.State)
}

// PublishToSession emits an event on the session's channel only.
func (b *Bus) PublishToSession(sessionID, eventType string, payload any) {
	if b == nil {
		return
	}
	b.Publish(&Event{
		Type:      eventType,
		Channel:   SessionChannel(sessionID),
		SessionID: sessionID,
		Payload:   payload,
	})
}
