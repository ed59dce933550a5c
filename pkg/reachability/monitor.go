// Package reachability reports whether a host, an address or the default
// route is reachable from the local machine, classifies the path as LAN or
// WAN, and broadcasts a change event when the platform sees the path change.
//
// A Monitor is bound to one platform Handle for its whole life. Start
// schedules change delivery on an Executor; every change is republished on
// the EventBus as TopicReachabilityChanged with the Monitor as payload, and
// subscribers call CurrentStatus to learn the new state.
package reachability

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// TopicReachabilityChanged is published whenever the platform reports a
// flag transition for a started Monitor. The payload is the *Monitor.
const TopicReachabilityChanged = "NetworkReachabilityChangedNotification"

// EventSource is the Source field of events published by monitors.
const EventSource = "reachability"

var (
	// ErrInvalidTarget: the hostname or address cannot be monitored.
	ErrInvalidTarget = errors.New("reachability: invalid target")
	// ErrAlreadyStarted: Start was called while active on another executor.
	ErrAlreadyStarted = errors.New("reachability: already started on another executor")
	// ErrRegistration: the platform refused the change callback.
	ErrRegistration = errors.New("reachability: callback registration failed")
	// ErrScheduling: the platform refused to schedule the handle.
	ErrScheduling = errors.New("reachability: scheduling failed")
)

// Option configures a Monitor at construction.
type Option func(*options)

type options struct {
	name       string
	bus        plugin.EventBus
	logger     *zap.Logger
	traceFlags bool
}

// WithName labels the monitor in logs, events and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithNotifier sets the bus change events are published on. Without one,
// changes are only logged.
func WithNotifier(bus plugin.EventBus) Option {
	return func(o *options) { o.bus = bus }
}

// WithLogger sets the monitor's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFlagTrace logs the flag trace at debug level on every classification.
func WithFlagTrace(enabled bool) Option {
	return func(o *options) { o.traceFlags = enabled }
}

// Monitor watches one target through one platform handle.
type Monitor struct {
	handle Handle
	target Target
	name   string
	bus    plugin.EventBus
	logger *zap.Logger
	trace  bool

	closed atomic.Bool

	mu    sync.Mutex
	loop  Executor
	token uuid.UUID
}

// NewWithHostName creates a Monitor for a hostname.
func NewWithHostName(p Platform, host string, opts ...Option) (*Monitor, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("%w: empty hostname", ErrInvalidTarget)
	}
	h, err := p.CreateWithName(host)
	if err != nil {
		return nil, fmt.Errorf("create handle for %q: %w", host, err)
	}
	return newMonitor(h, Target{Kind: TargetHostName, HostName: host}, opts), nil
}

// NewWithAddress creates a Monitor for a socket address.
func NewWithAddress(p Platform, addr netip.AddrPort, opts ...Option) (*Monitor, error) {
	return newWithAddress(p, addr, TargetAddress, opts)
}

// NewForInternetConnection creates a Monitor for the default route, for
// callers that care whether any network path exists rather than a
// particular host.
func NewForInternetConnection(p Platform, opts ...Option) (*Monitor, error) {
	return newWithAddress(p, DefaultRouteAddress(), TargetDefaultRoute, opts)
}

func newWithAddress(p Platform, addr netip.AddrPort, kind TargetKind, opts []Option) (*Monitor, error) {
	if !addr.IsValid() {
		return nil, fmt.Errorf("%w: invalid socket address", ErrInvalidTarget)
	}
	h, err := p.CreateWithAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("create handle for %s: %w", addr, err)
	}
	return newMonitor(h, Target{Kind: kind, Address: addr}, opts), nil
}

func newMonitor(h Handle, target Target, opts []Option) *Monitor {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = target.String()
	}
	return &Monitor{
		handle: h,
		target: target,
		name:   o.name,
		bus:    o.bus,
		logger: o.logger.With(zap.String("target", o.name)),
		trace:  o.traceFlags,
	}
}

// Name returns the monitor's label.
func (m *Monitor) Name() string { return m.name }

// Target returns what the monitor watches.
func (m *Monitor) Target() Target { return m.target }

// Active reports whether change delivery is scheduled.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loop != nil
}

// Start registers the change callback and schedules delivery on loop.
// Starting again on the same loop is a no-op. If scheduling fails the
// callback registration is rolled back and the Monitor stays idle.
func (m *Monitor) Start(loop Executor) error {
	h := m.mustHandle("Start")
	if loop == nil {
		return fmt.Errorf("%w: nil executor", ErrScheduling)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loop != nil {
		if m.loop == loop {
			return nil
		}
		return ErrAlreadyStarted
	}

	token := uuid.New()
	if err := h.SetCallback(m.callback(token)); err != nil {
		return fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	if err := h.Schedule(loop); err != nil {
		if rbErr := h.SetCallback(nil); rbErr != nil {
			m.logger.Warn("failed to roll back callback registration", zap.Error(rbErr))
		}
		return fmt.Errorf("%w: %w", ErrScheduling, err)
	}

	m.loop = loop
	m.token = token
	m.logger.Info("reachability notifier started")
	return nil
}

// Stop unschedules change delivery. It is safe on a Monitor that was never
// started. Once Stop returns no further change events are published for
// this Monitor.
func (m *Monitor) Stop() {
	if m.handle == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loop == nil {
		return
	}
	m.handle.Unschedule(m.loop)
	if err := m.handle.SetCallback(nil); err != nil {
		m.logger.Debug("failed to clear callback", zap.Error(err))
	}
	m.loop = nil
	m.token = uuid.Nil
	m.logger.Info("reachability notifier stopped")
}

// Close stops the monitor and releases the platform handle. The Monitor
// must not be queried afterwards.
func (m *Monitor) Close() error {
	if m.handle == nil || m.closed.Load() {
		return nil
	}
	m.Stop()
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := m.handle.Close(); err != nil {
		return fmt.Errorf("close handle: %w", err)
	}
	return nil
}

// CurrentFlags returns a fresh flag snapshot from the platform.
func (m *Monitor) CurrentFlags(ctx context.Context) (Flags, error) {
	return m.mustHandle("CurrentFlags").Flags(ctx)
}

// ConnectionRequired reports whether the target needs a connection to be
// brought up first. A failed platform query reports false.
func (m *Monitor) ConnectionRequired(ctx context.Context) bool {
	flags, err := m.mustHandle("ConnectionRequired").Flags(ctx)
	if err != nil {
		m.logger.Debug("flags query failed", zap.Error(err))
		return false
	}
	return flags.Has(ConnectionRequired)
}

// CurrentStatus classifies a fresh flag snapshot. A failed platform query
// reports NotReachable.
func (m *Monitor) CurrentStatus(ctx context.Context) Status {
	flags, err := m.mustHandle("CurrentStatus").Flags(ctx)
	if err != nil {
		m.logger.Debug("flags query failed", zap.Error(err))
		return NotReachable
	}
	return m.statusForFlags(flags)
}

// Snapshot is the result of one platform query together with its
// classification.
type Snapshot struct {
	Flags              Flags
	Status             Status
	ConnectionRequired bool
	Err                error
}

// Snapshot queries the platform once and derives every reported field from
// that answer. A failed query keeps the polarities of the single queries:
// NotReachable and no connection required, with Err set.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	flags, err := m.mustHandle("Snapshot").Flags(ctx)
	if err != nil {
		m.logger.Debug("flags query failed", zap.Error(err))
		return Snapshot{Status: NotReachable, Err: err}
	}
	return Snapshot{
		Flags:              flags,
		Status:             m.statusForFlags(flags),
		ConnectionRequired: flags.Has(ConnectionRequired),
	}
}

func (m *Monitor) statusForFlags(flags Flags) Status {
	m.traceFlags(flags, "statusForFlags")
	return StatusForFlags(flags)
}

func (m *Monitor) traceFlags(flags Flags, comment string) {
	if !m.trace {
		return
	}
	m.logger.Debug("reachability flag status",
		zap.Stringer("flags", flags),
		zap.String("comment", comment),
	)
}

// callback builds the platform callback for one registration. Deliveries
// carrying a token other than the current one belong to an earlier Start
// and are dropped.
func (m *Monitor) callback(token uuid.UUID) Callback {
	return func(flags Flags) {
		m.mu.Lock()
		current := m.token == token && m.loop != nil
		m.mu.Unlock()
		if !current {
			m.logger.Debug("dropped callback for stale registration")
			return
		}

		m.traceFlags(flags, "callback")
		m.publish()
	}
}

func (m *Monitor) publish() {
	if m.bus == nil {
		m.logger.Debug("reachability changed, no notifier configured")
		return
	}
	event := plugin.Event{
		Topic:     TopicReachabilityChanged,
		Source:    EventSource,
		Timestamp: time.Now().UTC(),
		Payload:   m,
	}
	if err := m.bus.Publish(context.Background(), event); err != nil {
		m.logger.Warn("failed to publish reachability change", zap.Error(err))
	}
}

// mustHandle guards the queries that need a live platform handle. Reaching
// the panic means the Monitor was not built by a constructor or was used
// after Close.
func (m *Monitor) mustHandle(op string) Handle {
	if m.handle == nil {
		panic("reachability: " + op + " called on a Monitor without a platform handle")
	}
	if m.closed.Load() {
		panic("reachability: " + op + " called on a closed Monitor")
	}
	return m.handle
}
