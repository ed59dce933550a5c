// Package history records reachability transitions in SQLite and serves
// them over HTTP.
package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/reach"
	"github.com/HerbHall/netreach/internal/server"
	"github.com/HerbHall/netreach/pkg/plugin"
)

const (
	Name = "history"

	queueSize     = 64
	pruneInterval = time.Hour
	defaultLimit  = 100
	maxLimit      = 1000
)

var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// Module records every status transition published by the reachability
// plugin. Writes happen on a separate goroutine so the publisher's run loop
// never waits on the database.
type Module struct {
	logger    *zap.Logger
	clock     clock.Clock
	store     *TransitionStore
	retention time.Duration

	queue  chan Transition
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  bool
	dropped  int
	recorded int
	lastErr  error
}

// New creates the plugin. A nil clock uses the wall clock.
func New(c clock.Clock) *Module {
	if c == nil {
		c = clock.New()
	}
	return &Module{logger: zap.NewNop(), clock: c}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         Name,
		Version:      "0.1.0",
		Description:  "Reachability transition history",
		Dependencies: []string{reach.Name},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	if deps.Store == nil {
		return errors.New("history requires a store")
	}
	if err := deps.Store.Migrate(ctx, Name, migrations()); err != nil {
		return fmt.Errorf("history migrations: %w", err)
	}
	m.store = NewTransitionStore(deps.Store.DB())

	m.retention = 720 * time.Hour
	if deps.Config != nil && deps.Config.IsSet("history.retention") {
		m.retention = deps.Config.GetDuration("history.retention")
	}
	if m.retention < 0 {
		return fmt.Errorf("history.retention must not be negative, got %s", m.retention)
	}
	m.queue = make(chan Transition, queueSize)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	m.wg.Add(2)
	go m.writer()
	go m.pruner(ctx)
	m.logger.Info("history module started", zap.Duration("retention", m.retention))
	return nil
}

// Stop flushes queued transitions and stops pruning.
func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	wasRunning := m.running
	m.running = false
	m.mu.Unlock()
	if !wasRunning {
		return nil
	}

	m.cancel()
	close(m.queue)
	m.wg.Wait()
	m.logger.Info("history module stopped")
	return nil
}

func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: reach.TopicStatusChanged, Handler: m.handleStatusChanged},
	}
}

// handleStatusChanged queues transitions. Changes that only moved flags
// within the same classification are not recorded.
func (m *Module) handleStatusChanged(_ context.Context, event plugin.Event) {
	change, ok := event.Payload.(reach.StatusChange)
	if !ok || !change.Transition() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	t := Transition{
		ID:       uuid.NewString(),
		Target:   change.Target,
		Previous: change.Previous,
		Current:  change.Current,
		Flags:    change.Trace,
		At:       change.At,
	}
	select {
	case m.queue <- t:
	default:
		m.dropped++
		m.logger.Warn("history queue full, dropping transition", zap.String("target", t.Target))
	}
}

func (m *Module) writer() {
	defer m.wg.Done()
	for t := range m.queue {
		err := m.store.Insert(context.Background(), t)
		m.mu.Lock()
		if err != nil {
			m.lastErr = err
		} else {
			m.recorded++
		}
		m.mu.Unlock()
		if err != nil {
			m.logger.Error("failed to record transition", zap.Error(err))
		}
	}
}

func (m *Module) pruner(ctx context.Context) {
	defer m.wg.Done()
	if m.retention == 0 {
		return
	}
	ticker := m.clock.Ticker(pruneInterval)
	defer ticker.Stop()
	for {
		m.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Module) prune(ctx context.Context) {
	n, err := m.store.Prune(ctx, m.clock.Now().Add(-m.retention))
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error("failed to prune history", zap.Error(err))
		}
		return
	}
	if n > 0 {
		m.logger.Info("pruned history", zap.Int64("removed", n))
	}
}

func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	details := map[string]string{
		"recorded": strconv.Itoa(m.recorded),
		"dropped":  strconv.Itoa(m.dropped),
	}
	switch {
	case !m.running:
		return plugin.HealthStatus{Status: "unhealthy", Message: "not running", Details: details}
	case m.lastErr != nil:
		return plugin.HealthStatus{Status: "degraded", Message: m.lastErr.Error(), Details: details}
	default:
		return plugin.HealthStatus{Status: "healthy", Details: details}
	}
}

func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/transitions", Handler: m.handleListTransitions},
	}
}

// handleListTransitions serves GET /transitions?target=&since=&limit=.
// since is RFC 3339.
func (m *Module) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{Target: q.Get("target"), Limit: defaultLimit}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			server.QueryProblem(w, r, "limit", "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxLimit)
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			server.QueryProblem(w, r, "since", "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = since
	}

	out, err := m.store.List(r.Context(), f)
	if err != nil {
		m.logger.Error("failed to list transitions", zap.Error(err))
		server.InternalError(w, r, "failed to list transitions")
		return
	}
	if out == nil {
		out = []Transition{}
	}
	server.WriteJSON(w, http.StatusOK, out)
}
