package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is a publish-subscribe hub. Every rcon.Client owns one unless a
// shared bus is injected, so stats observers of one client never see another
// client's events.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		logger:   log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for eventType. Handlers run in subscription
// order. The name identifies the handler for Unsubscribe and in logs; a
// second Subscribe with the same name replaces the first.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	entries := eb.handlers[eventType]
	for i := range entries {
		if entries[i].name == name {
			entries[i].handler = handler
			return
		}
	}
	eb.handlers[eventType] = append(entries, handlerEntry{name: name, handler: handler})

	eb.logger.Trace().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	if len(filtered) == 0 {
		delete(eb.handlers, eventType)
	} else {
		eb.handlers[eventType] = filtered
	}
}

// snapshot copies the handlers for t so they can run without holding the lock.
func (eb *EventBus) snapshot(t EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped || len(eb.handlers[t]) == 0 {
		return nil
	}
	out := make([]handlerEntry, len(eb.handlers[t]))
	copy(out, eb.handlers[t])
	return out
}

// invoke runs one handler, converting a panic into an error.
func (eb *EventBus) invoke(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		}
	}()
	return h.handler(ctx, event)
}

func (eb *EventBus) logFailure(h handlerEntry, event Event, err error) {
	eb.logger.Error().
		Err(err).
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Str("handler", h.name).
		Msg("event handler failed")
}

// Emit publishes an event to all subscribed handlers asynchronously. The
// handlers run one after another on a single goroutine so they observe
// events from one Emit call in subscription order.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	handlers := eb.snapshot(event.Type)
	if len(handlers) == 0 {
		return
	}

	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for _, h := range handlers {
			if err := eb.invoke(ctx, h, event); err != nil {
				eb.logFailure(h, event, err)
			}
		}
	}()
}

// EmitSync publishes an event and runs every handler on the calling
// goroutine. All handlers run even if one fails; the first error is returned.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	handlers := eb.snapshot(event.Type)

	var firstErr error
	for _, h := range handlers {
		if err := eb.invoke(ctx, h, event); err != nil {
			eb.logFailure(h, event, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Stop makes later Emit calls no-ops and waits for in-flight handlers.
// Calling it again does nothing.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	eb.mu.Unlock()

	eb.wg.Wait()
	eb.logger.Debug().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
