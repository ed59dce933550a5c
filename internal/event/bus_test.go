package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/netreach/pkg/plugin"
	"go.uber.org/zap"
)

const testTopic = "NetworkReachabilityChangedNotification"

func TestPublishDeliversPayloadToTopicSubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var received plugin.Event

	bus.Subscribe(testTopic, func(_ context.Context, e plugin.Event) {
		received = e
	})

	type monitorRef struct{ name string }
	ref := &monitorRef{name: "internet"}

	if err := bus.Publish(context.Background(), plugin.Event{Topic: testTopic, Source: "reachability", Payload: ref}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if received.Topic != testTopic {
		t.Errorf("received.Topic = %q, want %q", received.Topic, testTopic)
	}
	if got, ok := received.Payload.(*monitorRef); !ok || got != ref {
		t.Errorf("received.Payload = %v, want the published reference", received.Payload)
	}
	if received.Timestamp.IsZero() {
		t.Error("Publish() should stamp events that carry no timestamp")
	}
}

func TestPublishKeepsExplicitTimestamp(t *testing.T) {
	bus := NewBus(zap.NewNop())
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var got time.Time

	bus.Subscribe(testTopic, func(_ context.Context, e plugin.Event) { got = e.Timestamp })
	_ = bus.Publish(context.Background(), plugin.Event{Topic: testTopic, Timestamp: ts})

	if !got.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got, ts)
	}
}

func TestPublishIgnoresOtherTopics(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var count int32

	bus.Subscribe(testTopic, func(context.Context, plugin.Event) { atomic.AddInt32(&count, 1) })
	_ = bus.Publish(context.Background(), plugin.Event{Topic: "history.transition.recorded"})

	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("handler called %d times for a foreign topic, want 0", got)
	}
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var count int32

	bus.SubscribeAll(func(context.Context, plugin.Event) { atomic.AddInt32(&count, 1) })

	_ = bus.Publish(context.Background(), plugin.Event{Topic: testTopic})
	_ = bus.Publish(context.Background(), plugin.Event{Topic: "other"})

	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("SubscribeAll handler called %d times, want 2", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tests := []struct {
		name      string
		subscribe func(b *Bus, h plugin.EventHandler) func()
	}{
		{"topic", func(b *Bus, h plugin.EventHandler) func() { return b.Subscribe(testTopic, h) }},
		{"all", func(b *Bus, h plugin.EventHandler) func() { return b.SubscribeAll(h) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus(zap.NewNop())
			var count int32

			unsub := tt.subscribe(bus, func(context.Context, plugin.Event) { atomic.AddInt32(&count, 1) })

			_ = bus.Publish(context.Background(), plugin.Event{Topic: testTopic})
			unsub()
			unsub() // second call is harmless
			_ = bus.Publish(context.Background(), plugin.Event{Topic: testTopic})

			if got := atomic.LoadInt32(&count); got != 1 {
				t.Errorf("handler called %d times after unsubscribe, want 1", got)
			}
		})
	}
}

func TestUnsubscribeFromInsideHandler(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var count int32

	var unsub func()
	unsub = bus.Subscribe(testTopic, func(context.Context, plugin.Event) {
		atomic.AddInt32(&count, 1)
		unsub()
	})

	_ = bus.Publish(context.Background(), plugin.Event{Topic: testTopic})
	_ = bus.Publish(context.Background(), plugin.Event{Topic: testTopic})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var wg sync.WaitGroup
	var count int32

	wg.Add(2)
	bus.Subscribe(testTopic, func(context.Context, plugin.Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	bus.SubscribeAll(func(context.Context, plugin.Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})

	bus.PublishAsync(context.Background(), plugin.Event{Topic: testTopic})

	wg.Wait()
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("async handlers called %d times, want 2", got)
	}
}

func TestHandlerPanicRecovery(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var count int32

	bus.Subscribe(testTopic, func(context.Context, plugin.Event) {
		panic("subscriber bug")
	})
	bus.Subscribe(testTopic, func(context.Context, plugin.Event) {
		atomic.AddInt32(&count, 1)
	})

	_ = bus.Publish(context.Background(), plugin.Event{Topic: testTopic})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("second handler called %d times, want 1", got)
	}
}

func TestNoSubscribersOK(t *testing.T) {
	bus := NewBus(zap.NewNop())

	if err := bus.Publish(context.Background(), plugin.Event{Topic: "empty"}); err != nil {
		t.Fatalf("Publish() with no subscribers error = %v", err)
	}
}
