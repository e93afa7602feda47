// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

const (
	// Command routing
	EventTypeCommandAccepted EventType = "command.accepted"
	EventTypeCommandDropped  EventType = "command.dropped"

	// Avatar state
	EventTypeStateChanged     EventType = "avatar.state_changed"
	EventTypeAnimationChanged EventType = "avatar.animation_changed"
	EventTypeAnimationMissing EventType = "avatar.animation_missing"
	EventTypeWalkArrived      EventType = "avatar.walk_arrived"

	// Assets
	EventTypeCatalogLoaded EventType = "asset.catalog_loaded"
	EventTypeCatalogFailed EventType = "asset.catalog_failed"

	// Chat backend
	EventTypeChatStatus EventType = "chat.status"
	EventTypeChatReply  EventType = "chat.reply"

	// Tracking collaborators
	EventTypeTrackerConnected    EventType = "tracking.connected"
	EventTypeTrackerDisconnected EventType = "tracking.disconnected"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish sends an event to all subscribed handlers without waiting
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// PublishSync calls every handler in subscription order on the caller's
// goroutine. The tick loop uses this so observers see events in order.
func (b *EventBus) PublishSync(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		handler(event)
	}
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[t]))
	copy(handlers, b.handlers[t])
	return handlers
}

// Emit publishes synchronously on a possibly nil bus.
func (b *EventBus) Emit(t EventType, data map[string]any) {
	if b == nil {
		return
	}
	b.PublishSync(Event{Type: t, Data: data})
}
