// Package reach is the reachability plugin. It builds one Monitor per
// configured target, runs their change delivery on a dedicated run loop,
// keeps the latest state per target and serves it over HTTP, a websocket
// and prometheus metrics.
package reach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/platform"
	"github.com/HerbHall/netreach/internal/runloop"
	"github.com/HerbHall/netreach/pkg/plugin"
	"github.com/HerbHall/netreach/pkg/reachability"
)

// Name is the plugin name and its route prefix.
const Name = "reachability"

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// Option configures a Module.
type Option func(*Module)

// WithPlatform replaces the host adapter, e.g. with a fake in tests.
func WithPlatform(p reachability.Platform) Option {
	return func(m *Module) { m.platform = p }
}

// WithRegisterer sets where metrics are registered. Defaults to the
// prometheus default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Module) { m.registerer = reg }
}

type entry struct {
	cfg     TargetConfig
	monitor *reachability.Monitor
}

// Module implements the reachability plugin.
type Module struct {
	logger     *zap.Logger
	bus        plugin.EventBus
	platform   reachability.Platform
	owned      io.Closer // adapter created by Init, closed by Stop
	registerer prometheus.Registerer
	metrics    *metrics
	hub        *hub
	loop       *runloop.Loop
	entries    []*entry
	byName     map[string]*entry

	// life guards monitor handles against Close while an HTTP refresh is
	// querying them.
	life        sync.RWMutex
	loopRunning bool

	mu      sync.RWMutex
	states  map[string]TargetState
	running bool
}

// New creates the plugin.
func New(opts ...Option) *Module {
	m := &Module{
		logger:     zap.NewNop(),
		registerer: prometheus.DefaultRegisterer,
		states:     make(map[string]TargetState),
		byName:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        Name,
		Version:     "0.1.0",
		Description: "Host and internet reachability monitoring",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	m.bus = deps.Bus
	m.hub = newHub(m.logger)

	targets, err := LoadTargets(deps.Config)
	if err != nil {
		return err
	}

	if m.platform == nil {
		var pcfg plugin.Config
		if deps.Config != nil {
			pcfg = deps.Config.Sub("platform")
		}
		cfg, err := platform.ConfigFrom(pcfg)
		if err != nil {
			return err
		}
		adapter, err := platform.New(cfg, m.logger.Named("platform"))
		if err != nil {
			return fmt.Errorf("create platform adapter: %w", err)
		}
		m.platform, m.owned = adapter, adapter
	}

	if m.metrics, err = newMetrics(m.registerer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	trace := deps.Config != nil && deps.Config.GetBool("reachability.trace_flags")
	for _, t := range targets {
		opts := []reachability.Option{
			reachability.WithLogger(m.logger),
			reachability.WithFlagTrace(trace),
		}
		if m.bus != nil {
			opts = append(opts, reachability.WithNotifier(m.bus))
		}
		mon, err := t.NewMonitor(m.platform, opts...)
		if err != nil {
			return multierr.Append(fmt.Errorf("target %q: %w", t.Name, err), m.closeMonitors())
		}
		e := &entry{cfg: t, monitor: mon}
		m.entries = append(m.entries, e)
		m.byName[t.Name] = e
	}

	m.loop = runloop.New(Name, m.logger.Named("runloop"))
	m.logger.Info("reachability module initialized", zap.Int("targets", len(m.entries)))
	return nil
}

// Start records each target's current state and starts change delivery on
// the plugin's run loop.
func (m *Module) Start(ctx context.Context) error {
	m.loopRunning = true
	go m.loop.Run(context.WithoutCancel(ctx))

	for _, e := range m.entries {
		m.refresh(ctx, e, false)
		if err := e.monitor.Start(m.loop); err != nil {
			m.stopMonitors()
			m.loop.Close()
			return fmt.Errorf("start monitor %q: %w", e.cfg.Name, err)
		}
	}

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	m.logger.Info("reachability module started")
	return nil
}

// Stop stops change delivery, drains the run loop and releases handles.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.stopMonitors()
	if m.loop != nil {
		m.loop.Close()
	}
	if m.loopRunning {
		select {
		case <-m.loop.Done():
		case <-ctx.Done():
			m.logger.Warn("run loop did not drain before shutdown deadline")
		}
	}
	if m.hub != nil {
		m.hub.closeAll()
	}

	m.life.Lock()
	err := m.closeMonitors()
	m.life.Unlock()
	if m.owned != nil {
		err = multierr.Append(err, m.owned.Close())
	}
	m.logger.Info("reachability module stopped")
	return err
}

func (m *Module) stopMonitors() {
	for _, e := range m.entries {
		e.monitor.Stop()
	}
}

func (m *Module) closeMonitors() error {
	var err error
	for _, e := range m.entries {
		err = multierr.Append(err, e.monitor.Close())
	}
	return err
}

// Subscriptions listens for the Monitors' own change notifications.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: reachability.TopicReachabilityChanged, Handler: m.handleReachabilityChanged},
	}
}

// handleReachabilityChanged runs on the run loop. The event carries only
// the Monitor; the current state is queried from it.
func (m *Module) handleReachabilityChanged(ctx context.Context, event plugin.Event) {
	mon, ok := event.Payload.(*reachability.Monitor)
	if !ok {
		m.logger.Warn("unexpected reachability payload", zap.String("type", fmt.Sprintf("%T", event.Payload)))
		return
	}
	e, ok := m.byName[mon.Name()]
	if !ok || e.monitor != mon {
		return
	}
	m.refresh(ctx, e, true)
}

// refresh re-queries one target and records the result. When changed is
// set the change is counted and published as TopicStatusChanged.
func (m *Module) refresh(ctx context.Context, e *entry, changed bool) {
	now := time.Now().UTC()
	name := e.cfg.Name

	snap := e.monitor.Snapshot(ctx)
	flags, status := snap.Flags, snap.Status

	m.mu.Lock()
	prev, seen := m.states[name]
	st := TargetState{
		Name:               name,
		Target:             e.monitor.Target().String(),
		Kind:               e.monitor.Target().Kind.String(),
		Status:             status,
		Flags:              flags.String(),
		ConnectionRequired: snap.ConnectionRequired,
		Changes:            prev.Changes,
		UpdatedAt:          now,
	}
	if snap.Err != nil {
		st.Error = snap.Err.Error()
	}
	if changed {
		st.Changes++
	}
	m.states[name] = st
	m.mu.Unlock()

	m.metrics.observe(name, status, flags)
	if !changed {
		return
	}
	m.metrics.changed(name)

	change := StatusChange{
		Target:   name,
		Previous: prev.Status,
		Current:  status,
		Flags:    flags,
		Trace:    flags.String(),
		At:       now,
	}
	if !seen {
		change.Previous = status
	}
	if change.Transition() {
		m.logger.Info("reachability status changed",
			zap.String("target", name),
			zap.Stringer("from", change.Previous),
			zap.Stringer("to", change.Current),
		)
	}
	m.hub.broadcast(change)
	if m.bus != nil {
		err := m.bus.Publish(ctx, plugin.Event{
			Topic:   TopicStatusChanged,
			Source:  Name,
			Payload: change,
		})
		if err != nil {
			m.logger.Warn("failed to publish status change", zap.Error(err))
		}
	}
}

// States returns the latest state of every target, sorted by name.
func (m *Module) States() []TargetState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TargetState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// State returns the latest state of one target.
func (m *Module) State(name string) (TargetState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[name]
	return st, ok
}

// Refresh re-queries a target outside the notification path, e.g. on an
// explicit HTTP request.
func (m *Module) Refresh(ctx context.Context, name string) (TargetState, error) {
	e, ok := m.byName[name]
	if !ok {
		return TargetState{}, fmt.Errorf("unknown target %q", name)
	}
	m.life.RLock()
	defer m.life.RUnlock()
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if !running {
		return TargetState{}, errNotRunning
	}
	m.refresh(ctx, e, false)
	st, _ := m.State(name)
	return st, nil
}

var errNotRunning = errors.New("reachability module is not running")

// Health reports degraded when any target is not reachable.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running {
		return plugin.HealthStatus{Status: "unhealthy", Message: "not running"}
	}
	details := make(map[string]string, len(m.states))
	down := 0
	for name, st := range m.states {
		details[name] = st.Status.String()
		if !st.Status.Reachable() {
			down++
		}
	}
	if down > 0 {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: fmt.Sprintf("%d of %d targets not reachable", down, len(m.states)),
			Details: details,
		}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}
