package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arc-database/internal/shared/logger"
)

// Lifecycle and write events published by the database module.
const (
	EventTypeDocumentCreated   = "document.created"
	EventTypeDocumentUpdated   = "document.updated"
	EventTypeDocumentDeleted   = "document.deleted"
	EventTypeCollectionCreated = "collection.created"
	EventTypeCollectionDropped = "collection.dropped"
)

// Event is a fact about the store, addressed by reference path.
type Event struct {
	Type       string
	Ref        string
	Payload    map[string]interface{}
	OccurredAt time.Time
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType, ref string, payload map[string]interface{}) Event {
	return Event{Type: eventType, Ref: ref, Payload: payload, OccurredAt: time.Now().UTC()}
}

// Handler defines the event handler function type
type Handler func(ctx context.Context, event Event) error

// Publisher is the narrow view components that only emit events depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventBus is an in-memory fan-out of events to handlers by type.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   logger.Logger
}

// NewEventBus creates a new event bus instance
func NewEventBus(log logger.Logger) *EventBus {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &EventBus{
		handlers: make(map[string][]Handler),
		logger:   log.WithComponent("eventbus"),
	}
}

// Subscribe adds a handler for one or more event types.
func (eb *EventBus) Subscribe(handler Handler, eventTypes ...string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, eventType := range eventTypes {
		eb.handlers[eventType] = append(eb.handlers[eventType], handler)
		eb.logger.Debugf("Subscribed handler for event type: %s", eventType)
	}
}

// Publish runs every handler for the event type in registration order and
// returns the first handler error; later handlers still run.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			eb.logger.Errorf("Handler %d failed for event %s (%s): %v", i, event.Type, event.Ref, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("handler %d for %s: %w", i, event.Type, err)
			}
		}
	}
	return firstErr
}

// SubscriberCount returns the number of handlers for an event type
func (eb *EventBus) SubscriberCount(eventType string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
