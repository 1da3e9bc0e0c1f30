package mrl

import (
	"log/slog"
	"sync"
)

// EventHandler receives every Event the session parses, in arrival
// order, after metadata-control frames have been intercepted.
type EventHandler func(Event)

// subscriberRegistry is the session's event fan-out registry. A
// handler that panics is recovered and logged; it
// does not take down the dispatch goroutine or other subscribers.
type subscriberRegistry struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]EventHandler
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{handlers: make(map[int]EventHandler)}
}

// Subscribe registers handler and returns an unsubscribe function.
func (r *subscriberRegistry) Subscribe(handler EventHandler) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = handler
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.handlers, id)
		r.mu.Unlock()
	}
}

// Dispatch invokes every registered handler with ev, one after another
// on the calling goroutine. Each call is isolated so a panicking
// subscriber cannot crash the session's dispatch goroutine or skip the
// others; a slow subscriber delays the ones after it.
func (r *subscriberRegistry) Dispatch(ev Event) {
	r.mu.RLock()
	snapshot := make([]EventHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		snapshot = append(snapshot, h)
	}
	r.mu.RUnlock()

	for _, h := range snapshot {
		invokeHandlerSafely(h, ev)
	}
}

func invokeHandlerSafely(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber callback panicked", "recover", r)
		}
	}()
	h(ev)
}

// Subscribe registers handler for every parsed Event and returns an
// unsubscribe function.
func (s *Session) Subscribe(handler EventHandler) func() {
	return s.subscribers.Subscribe(handler)
}
