// Package event provides the in-process publish/subscribe bus.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/netreach/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

type subscriber struct {
	id      uint64
	handler plugin.EventHandler
}

// Bus is a synchronous, topic-keyed event bus. Handler panics are recovered
// and logged so one faulty subscriber cannot starve the others.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscriber
	all    []subscriber
	logger *zap.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		topics: make(map[string][]subscriber),
		logger: logger,
	}
}

// Subscribe registers handler for events on topic.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscriber{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = removeSubscriber(b.topics[topic], id)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
	}
}

// SubscribeAll registers handler for every event regardless of topic.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscriber{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeSubscriber(b.all, id)
	}
}

// Publish delivers event to all matching handlers on the caller's goroutine.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, s := range b.snapshot(event.Topic) {
		b.invoke(ctx, s.handler, event)
	}
	return nil
}

// PublishAsync delivers event to each matching handler on its own goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, s := range b.snapshot(event.Topic) {
		go b.invoke(ctx, s.handler, event)
	}
}

// snapshot copies the handlers for topic so delivery happens without the lock
// held; handlers may subscribe or unsubscribe while running.
func (b *Bus) snapshot(topic string) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]subscriber, 0, len(b.topics[topic])+len(b.all))
	subs = append(subs, b.topics[topic]...)
	subs = append(subs, b.all...)
	return subs
}

func (b *Bus) invoke(ctx context.Context, handler plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}

func removeSubscriber(subs []subscriber, id uint64) []subscriber {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
