package plugin

import (
	"context"
	"time"
)

// Event is a broadcast notification delivered through an EventBus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// EventHandler receives events. Handlers run on the publisher's goroutine
// for Publish and on a fresh goroutine for PublishAsync.
type EventHandler func(ctx context.Context, event Event)

// EventBus fans events out to subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
	// Subscribe returns a function that removes the subscription.
	Subscribe(topic string, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
}
