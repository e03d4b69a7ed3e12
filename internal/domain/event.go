package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventQueryReceived    EventType = "query.received"
	EventAgentRouted      EventType = "agent.routed"
	EventAgentToggled     EventType = "agent.toggled"
	EventLLMCallStarted   EventType = "llm.call.started"
	EventLLMCallCompleted EventType = "llm.call.completed"
	EventLLMCallFailed    EventType = "llm.call.failed"
	EventStreamStarted    EventType = "stream.started"
	EventStreamDelta      EventType = "stream.delta"
	EventStreamCompleted  EventType = "stream.completed"
	EventStreamCancelled  EventType = "stream.cancelled"
	EventStreamError      EventType = "stream.error"
	EventToolCallStarted  EventType = "tool.call.started"
	EventToolCallFinished EventType = "tool.call.finished"
	EventSessionCreated   EventType = "session.created"
	EventSessionDeleted   EventType = "session.deleted"
	EventUsageRecorded    EventType = "usage.recorded"

	// Provider health events.
	EventProviderUnhealthy EventType = "provider.unhealthy"
	EventProviderRecovered EventType = "provider.recovered"
	EventProviderFallback  EventType = "provider.fallback"

	// Blueprint lifecycle events.
	EventBlueprintReloaded EventType = "blueprint.reloaded"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
