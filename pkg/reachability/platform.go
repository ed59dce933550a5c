package reachability

import (
	"context"
	"net/netip"
)

// Platform is the host facility that knows the route and link state for a
// target. Adapters live in internal/platform; tests use a fake.
type Platform interface {
	// CreateWithName returns a handle for a hostname target.
	CreateWithName(name string) (Handle, error)
	// CreateWithAddress returns a handle for a socket address target.
	CreateWithAddress(addr netip.AddrPort) (Handle, error)
}

// Handle is the platform's reference to one monitored target.
type Handle interface {
	// Flags returns a fresh snapshot. It may block briefly.
	Flags(ctx context.Context) (Flags, error)
	// SetCallback installs cb as the change callback. A nil cb clears it.
	SetCallback(cb Callback) error
	// Schedule starts delivering callbacks on loop.
	Schedule(loop Executor) error
	// Unschedule stops delivery on loop. Once it returns the platform posts
	// no further callbacks for this handle to loop.
	Unschedule(loop Executor)
	// Close releases platform resources held by the handle.
	Close() error
}

// Callback is invoked on the scheduled Executor when the platform observes a
// flag transition.
type Callback func(flags Flags)

// Executor is the execution context callbacks are delivered on.
// internal/runloop.Loop is the production implementation.
type Executor interface {
	// Post queues fn. It returns false when the executor is shut down.
	Post(fn func()) bool
}
