// Package registry manages plugin lifecycle: dependency ordering, API
// version checks, init/start/stop and event subscription wiring.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]plugin.Plugin
	order    []string
	disabled map[string]string // name -> reason
	started  []string
	unsubs   []func()
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		plugins:  make(map[string]plugin.Plugin),
		disabled: make(map[string]string),
		logger:   logger,
	}
}

// Register adds a plugin. Names must be unique and non-empty.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := p.Info()
	if info.Name == "" {
		return errors.New("plugin name must not be empty")
	}
	if _, exists := r.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}

	r.plugins[info.Name] = p
	r.order = append(r.order, info.Name)
	r.logger.Info("plugin registered",
		zap.String("name", info.Name),
		zap.String("version", info.Version),
	)
	return nil
}

// Disable marks a plugin as disabled before Validate, e.g. from
// plugins.<name>.enabled=false. Disabling a required plugin is an error.
func (r *Registry) Disable(name, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plugins[name]
	if !ok {
		return fmt.Errorf("plugin %q not registered", name)
	}
	if p.Info().Required {
		return fmt.Errorf("plugin %q is required and cannot be disabled", name)
	}
	r.disabled[name] = reason
	return nil
}

// Validate checks API versions and dependencies and orders plugins so every
// plugin follows its dependencies. Problems with optional plugins disable
// them, and their dependents with them; problems with required plugins are
// errors.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		info := r.plugins[name].Info()
		if info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent {
			reason := fmt.Sprintf("API version %d outside supported range [%d, %d]",
				info.APIVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
			if info.Required {
				return fmt.Errorf("plugin %q: %s", name, reason)
			}
			r.disable(name, reason)
		}
	}

	order, err := r.topoSort()
	if err != nil {
		return err
	}
	r.order = order

	// Dependencies precede dependents, so one pass cascades.
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		info := r.plugins[name].Info()
		for _, dep := range info.Dependencies {
			reason := ""
			if _, ok := r.plugins[dep]; !ok {
				reason = fmt.Sprintf("missing dependency %q", dep)
			} else if _, off := r.disabled[dep]; off {
				reason = fmt.Sprintf("dependency %q is disabled", dep)
			}
			if reason == "" {
				continue
			}
			if info.Required {
				return fmt.Errorf("required plugin %q: %s", name, reason)
			}
			r.disable(name, reason)
			break
		}
	}
	return nil
}

// topoSort orders plugins by dependency (Kahn's algorithm). Ties keep
// alphabetical order so startup is deterministic.
func (r *Registry) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(r.plugins))
	dependents := make(map[string][]string)
	for name := range r.plugins {
		inDegree[name] = 0
	}
	for name, p := range r.plugins {
		for _, dep := range p.Info().Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				continue
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, d := range inDegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(r.plugins))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, d := range next {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = append(ready, d)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(r.plugins) {
		var cycle []string
		for name, d := range inDegree {
			if d > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, fmt.Errorf("dependency cycle among plugins %v", cycle)
	}
	return order, nil
}

func (r *Registry) disable(name, reason string) {
	r.disabled[name] = reason
	r.logger.Warn("plugin disabled", zap.String("name", name), zap.String("reason", reason))
}

// InitAll initializes enabled plugins in dependency order. depsFn builds the
// Dependencies for each plugin. An optional plugin that fails to initialize
// is disabled along with anything depending on it.
func (r *Registry) InitAll(ctx context.Context, depsFn func(name string) plugin.Dependencies) error {
	r.mu.Lock()
	order := append([]string(nil), r.order...)
	r.mu.Unlock()

	for _, name := range order {
		if r.IsDisabled(name) {
			continue
		}
		if reason := r.disabledDependency(name); reason != "" {
			r.mu.Lock()
			r.disable(name, reason)
			r.mu.Unlock()
			continue
		}

		p := r.plugins[name]
		deps := depsFn(name)
		if deps.Plugins == nil {
			deps.Plugins = r
		}

		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := p.Init(ctx, deps); err != nil {
			if p.Info().Required {
				return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
			}
			r.mu.Lock()
			r.disable(name, fmt.Sprintf("init failed: %v", err))
			r.mu.Unlock()
		}
	}
	return nil
}

func (r *Registry) disabledDependency(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dep := range r.plugins[name].Info().Dependencies {
		if _, off := r.disabled[dep]; off {
			return fmt.Sprintf("dependency %q is disabled", dep)
		}
	}
	return ""
}

// Subscribe wires every enabled EventSubscriber's declared subscriptions to
// bus. StopAll removes them.
func (r *Registry) Subscribe(bus plugin.EventBus) {
	for _, p := range r.All() {
		es, ok := p.(plugin.EventSubscriber)
		if !ok {
			continue
		}
		for _, sub := range es.Subscriptions() {
			var unsub func()
			if sub.Topic == "" {
				unsub = bus.SubscribeAll(sub.Handler)
			} else {
				unsub = bus.Subscribe(sub.Topic, sub.Handler)
			}
			r.mu.Lock()
			r.unsubs = append(r.unsubs, unsub)
			r.mu.Unlock()
			r.logger.Debug("plugin subscribed",
				zap.String("name", p.Info().Name),
				zap.String("topic", sub.Topic),
			)
		}
	}
}

// StartAll starts enabled plugins in dependency order. On failure the
// plugins already started are stopped again.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, p := range r.All() {
		name := p.Info().Name
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := p.Start(ctx); err != nil {
			r.StopAll(ctx)
			return fmt.Errorf("failed to start plugin %q: %w", name, err)
		}
		r.mu.Lock()
		r.started = append(r.started, name)
		r.mu.Unlock()
	}
	return nil
}

// StopAll removes event subscriptions and stops started plugins in reverse
// order.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	unsubs := r.unsubs
	started := r.started
	r.unsubs = nil
	r.started = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for i := len(started) - 1; i >= 0; i-- {
		name := started[i]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(ctx); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
}

// Get returns an enabled plugin by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, off := r.disabled[name]; off {
		return nil, false
	}
	p, ok := r.plugins[name]
	return p, ok
}

// All returns enabled plugins in dependency order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		result = append(result, r.plugins[name])
	}
	return result
}

// IsDisabled reports whether a plugin was disabled by configuration,
// validation or a failed Init.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, off := r.disabled[name]
	return off
}

// DisabledReason returns why a plugin is disabled, or "".
func (r *Registry) DisabledReason(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled[name]
}

// AllRoutes returns the routes of enabled HTTPProviders keyed by plugin name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	routes := make(map[string][]plugin.Route)
	for _, p := range r.All() {
		hp, ok := p.(plugin.HTTPProvider)
		if !ok {
			continue
		}
		if pr := hp.Routes(); len(pr) > 0 {
			routes[p.Info().Name] = pr
		}
	}
	return routes
}

// Health collects health reports from enabled HealthCheckers.
func (r *Registry) Health(ctx context.Context) map[string]plugin.HealthStatus {
	out := make(map[string]plugin.HealthStatus)
	for _, p := range r.All() {
		if hc, ok := p.(plugin.HealthChecker); ok {
			out[p.Info().Name] = hc.Health(ctx)
		}
	}
	return out
}
