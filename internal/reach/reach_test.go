package reach

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/HerbHall/netreach/internal/server"
	"github.com/HerbHall/netreach/internal/testutil"
	"github.com/HerbHall/netreach/pkg/plugin"
	"github.com/HerbHall/netreach/pkg/reachability"
)

type fixture struct {
	module   *Module
	platform *testutil.FakePlatform
	bus      *testutil.MockBus
}

func newFixture(t *testing.T, targets []map[string]any, flags reachability.Flags) *fixture {
	t.Helper()
	values := map[string]any{}
	if targets != nil {
		values["reachability.targets"] = targets
	}
	return startFixture(t, values, zap.NewNop(), flags)
}

func startFixture(t *testing.T, values map[string]any, logger *zap.Logger, flags reachability.Flags) *fixture {
	t.Helper()
	f := &fixture{
		platform: testutil.NewFakePlatform(flags),
		bus:      testutil.NewMockBus(),
	}
	f.module = New(WithPlatform(f.platform), WithRegisterer(prometheus.NewRegistry()))

	ctx := context.Background()
	err := f.module.Init(ctx, plugin.Dependencies{
		Config: testutil.NewConfig(values),
		Logger: logger,
		Bus:    f.bus,
	})
	require.NoError(t, err)
	for _, s := range f.module.Subscriptions() {
		f.bus.Subscribe(s.Topic, s.Handler)
	}
	require.NoError(t, f.module.Start(ctx))
	t.Cleanup(func() { _ = f.module.Stop(context.Background()) })
	return f
}

// fire delivers a platform change with new flags and waits for the run
// loop to process it.
func (f *fixture) fire(t *testing.T, h *testutil.FakeHandle, flags reachability.Flags) {
	t.Helper()
	h.SetFlags(flags)
	require.True(t, h.Fire(), "handle not scheduled")
	require.NoError(t, f.module.loop.Do(context.Background(), func() {}))
}

func (f *fixture) changes() []StatusChange {
	var out []StatusChange
	for _, e := range f.bus.EventsFor(TopicStatusChanged) {
		out = append(out, e.Payload.(StatusChange))
	}
	return out
}

func TestStartRecordsInitialState(t *testing.T) {
	f := newFixture(t, nil, reachability.Reachable)

	states := f.module.States()
	require.Len(t, states, 1)
	assert.Equal(t, "internet", states[0].Name)
	assert.Equal(t, "default-route", states[0].Kind)
	assert.Equal(t, reachability.ReachableViaLAN, states[0].Status)
	assert.Equal(t, 0, states[0].Changes)
	assert.Empty(t, f.changes(), "startup must not publish changes")

	assert.Equal(t, float64(reachability.ReachableViaLAN),
		promtest.ToFloat64(f.module.metrics.status.WithLabelValues("internet")))
}

func TestChangeUpdatesStateAndPublishes(t *testing.T) {
	f := newFixture(t, nil, reachability.Reachable)
	h := f.platform.Last()

	f.fire(t, h, 0)

	st, ok := f.module.State("internet")
	require.True(t, ok)
	assert.Equal(t, reachability.NotReachable, st.Status)
	assert.Equal(t, 1, st.Changes)

	changes := f.changes()
	require.Len(t, changes, 1)
	assert.Equal(t, reachability.ReachableViaLAN, changes[0].Previous)
	assert.Equal(t, reachability.NotReachable, changes[0].Current)
	assert.True(t, changes[0].Transition())

	f.fire(t, h, reachability.Reachable|reachability.IsWWAN)
	changes = f.changes()
	require.Len(t, changes, 2)
	assert.Equal(t, reachability.ReachableViaWAN, changes[1].Current)

	assert.Equal(t, float64(2), promtest.ToFloat64(f.module.metrics.changes.WithLabelValues("internet")))
	assert.Equal(t, float64(reachability.Reachable|reachability.IsWWAN),
		promtest.ToFloat64(f.module.metrics.flags.WithLabelValues("internet")))
}

func TestTraceFlagsLogsClassification(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := startFixture(t, map[string]any{"reachability.trace_flags": true}, zap.New(core), reachability.Reachable)

	f.fire(t, f.platform.Last(), reachability.Reachable|reachability.IsWWAN)

	traces := logs.FilterMessage("reachability flag status")
	classified := traces.FilterField(zap.String("comment", "statusForFlags"))
	require.Equal(t, 2, classified.Len(), "startup and change must both classify")
	assert.Equal(t, "WR -------", classified.All()[1].ContextMap()["flags"])
	assert.Equal(t, 1, traces.FilterField(zap.String("comment", "callback")).Len())

	st, _ := f.module.State("internet")
	assert.Equal(t, reachability.ReachableViaWAN, st.Status)
}

func TestFlagOnlyChangeIsNotATransition(t *testing.T) {
	f := newFixture(t, nil, reachability.Reachable)
	f.fire(t, f.platform.Last(), reachability.Reachable|reachability.IsDirect)

	changes := f.changes()
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Transition())
}

func TestFailedQueryRecordsNotReachable(t *testing.T) {
	f := newFixture(t, nil, reachability.Reachable)
	h := f.platform.Last()
	h.FailFlags(testutil.ErrFake)

	f.fire(t, h, reachability.Reachable)

	st, _ := f.module.State("internet")
	assert.Equal(t, reachability.NotReachable, st.Status)
	assert.NotEmpty(t, st.Error)
	assert.False(t, st.ConnectionRequired)
}

func TestMultipleTargets(t *testing.T) {
	f := newFixture(t, []map[string]any{
		testutil.AddressTarget("router", "192.168.1.1:53"),
		{"host": "example.com"},
		{"internet": true},
	}, reachability.Reachable)

	handles := f.platform.Handles()
	require.Len(t, handles, 3)
	assert.Equal(t, "192.168.1.1:53", handles[0].Addr.String())
	assert.Equal(t, "example.com", handles[1].Name)

	f.fire(t, handles[1], 0)

	names := make([]string, 0, 3)
	for _, st := range f.module.States() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"example.com", "internet", "router"}, names)

	st, _ := f.module.State("example.com")
	assert.Equal(t, reachability.NotReachable, st.Status)
	st, _ = f.module.State("router")
	assert.Equal(t, reachability.ReachableViaLAN, st.Status)
}

func TestStopReleasesHandles(t *testing.T) {
	f := newFixture(t, nil, reachability.Reachable)
	h := f.platform.Last()

	require.NoError(t, f.module.Stop(context.Background()))

	assert.True(t, h.Closed())
	assert.False(t, h.Fire(), "stopped module must not be scheduled")
	assert.Equal(t, "unhealthy", f.module.Health(context.Background()).Status)

	_, err := f.module.Refresh(context.Background(), "internet")
	assert.ErrorIs(t, err, errNotRunning)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, []map[string]any{
		testutil.AddressTarget("a", "192.0.2.1"),
		testutil.AddressTarget("b", "192.0.2.2"),
	}, reachability.Reachable)

	hs := f.module.Health(context.Background())
	assert.Equal(t, "healthy", hs.Status)
	assert.Equal(t, "ReachableViaLAN", hs.Details["a"])

	f.fire(t, f.platform.Handles()[1], 0)
	hs = f.module.Health(context.Background())
	assert.Equal(t, "degraded", hs.Status)
	assert.Equal(t, "NotReachable", hs.Details["b"])
}

func TestInitPlatformFailure(t *testing.T) {
	fp := testutil.NewFakePlatform(reachability.Reachable)
	fp.CreateErr = testutil.ErrFake
	m := New(WithPlatform(fp), WithRegisterer(prometheus.NewRegistry()))

	err := m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()})
	assert.ErrorIs(t, err, testutil.ErrFake)
}

func TestInitRegistersMetricsTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	for i := 0; i < 2; i++ {
		m := New(WithPlatform(testutil.NewFakePlatform(0)), WithRegisterer(reg))
		require.NoError(t, m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}))
	}
}

func newMux(m *Module) *http.ServeMux {
	mux := http.NewServeMux()
	for _, r := range m.Routes() {
		mux.HandleFunc(r.Method+" "+r.Path, r.Handler)
	}
	return mux
}

func TestHandleListStatus(t *testing.T) {
	f := newFixture(t, nil, reachability.Reachable)

	req := httptest.NewRequest(http.MethodGet, "/status", http.NoBody)
	w := httptest.NewRecorder()
	newMux(f.module).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var states []TargetState
	require.NoError(t, json.NewDecoder(w.Body).Decode(&states))
	require.Len(t, states, 1)
	assert.Equal(t, reachability.ReachableViaLAN, states[0].Status)
	assert.Equal(t, "-R -------", states[0].Flags)
}

func TestHandleGetStatus(t *testing.T) {
	f := newFixture(t, nil, reachability.Reachable)
	mux := newMux(f.module)

	t.Run("unknown target", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status/nope", http.NoBody))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		var p server.Problem
		require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
		assert.Equal(t, server.UnknownTarget.Type(), p.Type)
		assert.Equal(t, "nope", p.Target)
	})

	t.Run("cached", func(t *testing.T) {
		f.platform.Last().SetFlags(0)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status/internet", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
		var st TargetState
		require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
		assert.Equal(t, reachability.ReachableViaLAN, st.Status)
	})

	t.Run("refresh", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status/internet?refresh=true", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
		var st TargetState
		require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
		assert.Equal(t, reachability.NotReachable, st.Status)
	})
}

func TestEventsWebsocket(t *testing.T) {
	f := newFixture(t, nil, reachability.Reachable)
	srv := httptest.NewServer(newMux(f.module))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snapshot streamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	require.Len(t, snapshot.Targets, 1)
	assert.Equal(t, 1, f.module.hub.count())

	f.fire(t, f.platform.Last(), 0)

	var change streamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &change))
	assert.Equal(t, "change", change.Type)
	require.NotNil(t, change.Change)
	assert.Equal(t, "internet", change.Change.Target)
	assert.Equal(t, reachability.NotReachable, change.Change.Current)
}
