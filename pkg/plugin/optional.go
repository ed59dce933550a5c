package plugin

import "context"

// HTTPProvider is implemented by plugins that expose REST API routes.
type HTTPProvider interface {
	Routes() []Route
}

// HealthChecker is implemented by plugins that report their health status.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// EventSubscriber is implemented by plugins that declare event subscriptions at init.
type EventSubscriber interface {
	Subscriptions() []Subscription
}

// Subscription binds a handler to a topic. An empty Topic subscribes to all events.
type Subscription struct {
	Topic   string
	Handler EventHandler
}
