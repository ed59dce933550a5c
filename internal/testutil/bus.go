package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// Compile-time interface check.
var _ plugin.EventBus = (*MockBus)(nil)

// MockBus is a thread-safe in-memory event bus that records all published
// events and hands them to subscribers synchronously.
type MockBus struct {
	mu       sync.Mutex
	events   []plugin.Event
	handlers map[string][]plugin.EventHandler
	all      []plugin.EventHandler
}

// NewMockBus returns a new MockBus.
func NewMockBus() *MockBus {
	return &MockBus{handlers: make(map[string][]plugin.EventHandler)}
}

// Publish records event and delivers it to subscribers.
func (b *MockBus) Publish(ctx context.Context, event plugin.Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	handlers := append([]plugin.EventHandler(nil), b.handlers[event.Topic]...)
	handlers = append(handlers, b.all...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, event)
	}
	return nil
}

// PublishAsync is Publish; tests want deterministic delivery.
func (b *MockBus) PublishAsync(ctx context.Context, event plugin.Event) {
	_ = b.Publish(ctx, event)
}

// Subscribe registers handler for topic. The returned function is a no-op;
// tests build a fresh bus instead of unsubscribing.
func (b *MockBus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return func() {}
}

// SubscribeAll registers handler for every topic.
func (b *MockBus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
	return func() {}
}

// Events returns a copy of all recorded events.
func (b *MockBus) Events() []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]plugin.Event, len(b.events))
	copy(out, b.events)
	return out
}

// EventsFor returns the recorded events published on topic.
func (b *MockBus) EventsFor(topic string) []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []plugin.Event
	for _, e := range b.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears all recorded events.
func (b *MockBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
