// Package eventbus provides the in-process event bus the orchestration
// layer publishes lifecycle events on. Subscribers are fan-out only;
// publishing never blocks on a slow handler.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"maestro/internal/domain"
)

// wildcard is the internal key for subscribers that receive every event.
const wildcard = domain.EventType("*")

type listener struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is a goroutine-safe publish/subscribe bus. Handlers run in their
// own goroutines; a panicking handler is recovered and logged, never
// propagated to the publisher.
type Bus struct {
	mu        sync.RWMutex
	listeners map[domain.EventType][]listener
	lastID    atomic.Uint64
	inflight  sync.WaitGroup
	closed    atomic.Bool
	logger    *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		listeners: make(map[domain.EventType][]listener),
		logger:    logger,
	}
}

// Publish delivers event to every subscriber of its type and every
// all-event subscriber. Returns immediately; delivery is asynchronous.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]listener, 0, len(b.listeners[event.Type])+len(b.listeners[wildcard]))
	targets = append(targets, b.listeners[event.Type]...)
	targets = append(targets, b.listeners[wildcard]...)
	b.mu.RUnlock()

	for _, l := range targets {
		b.inflight.Add(1)
		go func(l listener) {
			defer b.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"event", string(event.Type),
						"panic", r,
					)
				}
			}()
			l.handler(ctx, event)
		}(l)
	}
}

// Subscribe registers handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(wildcard, handler)
}

func (b *Bus) add(key domain.EventType, handler domain.EventHandler) func() {
	id := b.lastID.Add(1)

	b.mu.Lock()
	b.listeners[key] = append(b.listeners[key], listener{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ls := b.listeners[key]
		for i := range ls {
			if ls[i].id == id {
				b.listeners[key] = append(ls[:i], ls[i+1:]...)
				return
			}
		}
	}
}

// Close stops accepting publishes and waits for in-flight handlers.
// Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.inflight.Wait()
}

// Emit marshals payload and publishes it on bus as an event of the given
// type. A nil bus is a no-op, so callers can treat the bus as optional.
func Emit(ctx context.Context, bus domain.EventBus, eventType domain.EventType, sessionID string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	})
}
