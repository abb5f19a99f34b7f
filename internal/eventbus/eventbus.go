package eventbus

import (
	"sync"

	"github.com/Checker-Finance/credpool/pkg/model"
)

// All subscribes a handler to every event type.
const All = "*"

// Handler is a function that handles a pool event
type Handler func(event model.PoolEvent)

// EventBus provides in-process pub/sub for pool events, keyed by event type.
type EventBus struct {
	handlers map[string][]Handler
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// New creates a new EventBus
func New() *EventBus {
	return &EventBus{
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for an event type, or for All.
func (e *EventBus) Subscribe(eventType string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[eventType] = append(e.handlers[eventType], handler)
}

func (e *EventBus) matching(eventType string) []Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Handler, 0, len(e.handlers[eventType])+len(e.handlers[All]))
	out = append(out, e.handlers[eventType]...)
	out = append(out, e.handlers[All]...)
	return out
}

// Publish delivers the event to all subscribers asynchronously.
func (e *EventBus) Publish(event model.PoolEvent) {
	for _, h := range e.matching(event.Type) {
		e.wg.Add(1)
		go func(h Handler) {
			defer e.wg.Done()
			h(event)
		}(h)
	}
}

// PublishSync delivers the event on the caller's goroutine.
func (e *EventBus) PublishSync(event model.PoolEvent) {
	for _, h := range e.matching(event.Type) {
		h(event)
	}
}

// Drain waits for in-flight asynchronous deliveries (use on shutdown).
func (e *EventBus) Drain() {
	e.wg.Wait()
}

// HasSubscribers returns true if there are subscribers for the event type
func (e *EventBus) HasSubscribers(eventType string) bool {
	return e.SubscriberCount(eventType) > 0
}

// SubscriberCount returns the number of subscribers for an event type
func (e *EventBus) SubscriberCount(eventType string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[eventType])
}
