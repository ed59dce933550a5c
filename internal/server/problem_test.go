package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content-type = %q, want %q", ct, "application/problem+json")
	}
	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return raw
}

func TestTargetProblem(t *testing.T) {
	tests := []struct {
		kind       ProblemKind
		wantStatus int
		wantDetail string
	}{
		{UnknownTarget, http.StatusNotFound, `target "router" is not configured`},
		{NoState, http.StatusServiceUnavailable, `no state recorded yet for target "router"`},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/v1/reachability/status/router", http.NoBody)
			TargetProblem(w, r, tc.kind, "router")

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			p := decodeProblem(t, w)
			if p["type"] != "https://netreach.dev/problems/"+string(tc.kind) {
				t.Errorf("type = %v", p["type"])
			}
			if p["title"] != http.StatusText(tc.wantStatus) {
				t.Errorf("title = %v, want %q", p["title"], http.StatusText(tc.wantStatus))
			}
			if p["detail"] != tc.wantDetail {
				t.Errorf("detail = %v, want %q", p["detail"], tc.wantDetail)
			}
			if p["instance"] != "/api/v1/reachability/status/router" {
				t.Errorf("instance = %v", p["instance"])
			}
			if p["target"] != "router" {
				t.Errorf("target = %v, want router", p["target"])
			}
			if _, ok := p["param"]; ok {
				t.Error("param must be omitted for target problems")
			}
		})
	}
}

func TestQueryProblem(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/history/transitions?limit=x", http.NoBody)
	QueryProblem(w, r, "limit", "limit must be a positive integer")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	p := decodeProblem(t, w)
	if p["param"] != "limit" {
		t.Errorf("param = %v, want limit", p["param"])
	}
	if p["instance"] != "/api/v1/history/transitions" {
		t.Errorf("instance = %v, query string must not be echoed", p["instance"])
	}
	if _, ok := p["target"]; ok {
		t.Error("target must be omitted for query problems")
	}
}

func TestPluginNotRunning(t *testing.T) {
	w := httptest.NewRecorder()
	PluginNotRunning(w, httptest.NewRequest(http.MethodGet, "/x", http.NoBody), "reachability")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if p := decodeProblem(t, w); p["type"] != NotRunning.Type() {
		t.Errorf("type = %v, want %q", p["type"], NotRunning.Type())
	}
}

func TestInternalError(t *testing.T) {
	w := httptest.NewRecorder()
	InternalError(w, httptest.NewRequest(http.MethodGet, "/x", http.NoBody), "failed to list transitions")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if p := decodeProblem(t, w); p["detail"] != "failed to list transitions" {
		t.Errorf("detail = %v", p["detail"])
	}
}

func TestProblemKindStatusUnknown(t *testing.T) {
	if got := ProblemKind("mystery").Status(); got != http.StatusInternalServerError {
		t.Errorf("Status() = %d, want 500", got)
	}
}
