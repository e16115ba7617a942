package bus

import (
	"log/slog"
	"sync"
	"time"

	"isazap/internal/domain"
)

// Wildcard subscribes a handler to every session event type.
const Wildcard domain.SessionEventType = "*"

// EventHandler is a callback for session events.
type EventHandler func(domain.SessionEvent)

// EventBus fans session events out to the live channel, the event log and
// metrics. Handlers run synchronously on the emitting goroutine, so they
// must not block.
type EventBus struct {
	mu       sync.RWMutex
	specific map[domain.SessionEventType][]EventHandler
	wildcard []EventHandler
	last     domain.SessionEvent
	hasLast  bool
	logger   *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		specific: make(map[domain.SessionEventType][]EventHandler),
		logger:   logger,
	}
}

// On registers handler for eventType, or for everything with Wildcard.
func (eb *EventBus) On(eventType domain.SessionEventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eventType == Wildcard {
		eb.wildcard = append(eb.wildcard, handler)
		return
	}
	eb.specific[eventType] = append(eb.specific[eventType], handler)
}

// Emit stamps the event and delivers it to type handlers first, then to
// wildcard handlers. A panicking handler is logged and skipped.
func (eb *EventBus) Emit(event domain.SessionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if event.Type != domain.EventMessage {
		eb.last, eb.hasLast = event, true
	}
	targets := make([]EventHandler, 0, len(eb.specific[event.Type])+len(eb.wildcard))
	targets = append(targets, eb.specific[event.Type]...)
	targets = append(targets, eb.wildcard...)
	eb.mu.Unlock()

	for i, h := range targets {
		eb.deliver(event, i, h)
	}
}

func (eb *EventBus) deliver(event domain.SessionEvent, idx int, h EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", idx, "panic", r)
		}
	}()
	h(event)
}

// Last returns the most recent lifecycle event. Message events are skipped.
func (eb *EventBus) Last() (domain.SessionEvent, bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.last, eb.hasLast
}
