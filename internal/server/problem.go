package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const problemBase = "https://netreach.dev/problems/"

// ProblemKind identifies a failure a client can act on. Its value is the
// last segment of the RFC 7807 type URI.
type ProblemKind string

const (
	UnknownTarget ProblemKind = "unknown-target"
	NoState       ProblemKind = "no-state"
	NotRunning    ProblemKind = "not-running"
	InvalidQuery  ProblemKind = "invalid-query"
	Internal      ProblemKind = "internal-error"
)

var problemStatus = map[ProblemKind]int{
	UnknownTarget: http.StatusNotFound,
	NoState:       http.StatusServiceUnavailable,
	NotRunning:    http.StatusServiceUnavailable,
	InvalidQuery:  http.StatusBadRequest,
	Internal:      http.StatusInternalServerError,
}

// Type returns the problem type URI.
func (k ProblemKind) Type() string { return problemBase + string(k) }

// Status returns the HTTP status served for k. Unknown kinds are 500.
func (k ProblemKind) Status() int {
	if code, ok := problemStatus[k]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Problem is an RFC 7807 body. Target and Param are extension members set
// when the problem concerns one target or one query parameter.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Target   string `json:"target,omitempty"`
	Param    string `json:"param,omitempty"`
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func newProblem(kind ProblemKind, r *http.Request, detail string) Problem {
	code := kind.Status()
	return Problem{
		Type:     kind.Type(),
		Title:    http.StatusText(code),
		Status:   code,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

// TargetProblem reports a problem with one monitored target: it is not
// configured (UnknownTarget) or has no recorded state yet (NoState).
func TargetProblem(w http.ResponseWriter, r *http.Request, kind ProblemKind, target string) {
	var detail string
	switch kind {
	case UnknownTarget:
		detail = fmt.Sprintf("target %q is not configured", target)
	case NoState:
		detail = fmt.Sprintf("no state recorded yet for target %q", target)
	default:
		detail = fmt.Sprintf("target %q: %s", target, kind)
	}
	p := newProblem(kind, r, detail)
	p.Target = target
	WriteProblem(w, p)
}

// QueryProblem reports an unusable query parameter.
func QueryProblem(w http.ResponseWriter, r *http.Request, param, detail string) {
	p := newProblem(InvalidQuery, r, detail)
	p.Param = param
	WriteProblem(w, p)
}

// PluginNotRunning answers requests that reach a stopped plugin.
func PluginNotRunning(w http.ResponseWriter, r *http.Request, plugin string) {
	WriteProblem(w, newProblem(NotRunning, r, plugin+" is not running"))
}

// InternalError hides err behind detail; the caller logs err.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, newProblem(Internal, r, detail))
}
