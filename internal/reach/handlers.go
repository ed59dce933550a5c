package reach

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/server"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/status", Handler: m.handleListStatus},
		{Method: http.MethodGet, Path: "/status/{name}", Handler: m.handleGetStatus},
		{Method: http.MethodGet, Path: "/events", Handler: m.handleEvents},
	}
}

func (m *Module) handleListStatus(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, m.States())
}

// handleGetStatus returns one target. ?refresh=true queries the platform
// instead of returning the last recorded state.
func (m *Module) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := m.byName[name]; !ok {
		server.TargetProblem(w, r, server.UnknownTarget, name)
		return
	}

	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if refresh {
		st, err := m.Refresh(r.Context(), name)
		if errors.Is(err, errNotRunning) {
			server.PluginNotRunning(w, r, Name)
			return
		}
		if err != nil {
			m.logger.Error("refresh failed", zap.String("target", name), zap.Error(err))
			server.InternalError(w, r, "refresh failed")
			return
		}
		server.WriteJSON(w, http.StatusOK, st)
		return
	}

	st, ok := m.State(name)
	if !ok {
		server.TargetProblem(w, r, server.NoState, name)
		return
	}
	server.WriteJSON(w, http.StatusOK, st)
}
