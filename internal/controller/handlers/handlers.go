// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cifleet/internal/apperr"
	"cifleet/internal/debugsession"
	"cifleet/internal/nodes"
	"cifleet/internal/planner"
	"cifleet/internal/registry"
	"cifleet/internal/reuse"
	"cifleet/internal/store"
	"cifleet/internal/throttle"
	"cifleet/pkg/api"
)

// Deps are the services behind the API.
type Deps struct {
	Store    store.EntityStore
	Registry *registry.Service
	Sessions *debugsession.Manager
	Nodes    *nodes.Lifecycle
	Throttle *throttle.Guard
	Matcher  *reuse.Matcher
	Costs    planner.CostSource
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store    store.EntityStore
	registry *registry.Service
	sessions *debugsession.Manager
	nodes    *nodes.Lifecycle
	throttle *throttle.Guard
	matcher  *reuse.Matcher
	costs    planner.CostSource
	now      func() time.Time
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	costs := d.Costs
	if costs == nil {
		costs = &planner.CostTable{}
	}
	return &Handlers{
		store:    d.Store,
		registry: d.Registry,
		sessions: d.Sessions,
		nodes:    d.Nodes,
		throttle: d.Throttle,
		matcher:  d.Matcher,
		costs:    costs,
		now:      time.Now,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respond wraps result in the success envelope.
func (h *Handlers) respond(w http.ResponseWriter, result any) {
	h.respondJson(w, http.StatusOK, api.Response{Result: result})
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int, result any) {
	h.respondJson(w, code, api.Response{Error: true, Message: message, Result: result})
}

// fail maps err onto a status code. Unclassified errors are logged and
// reported without detail.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var te *apperr.ThrottleError
	switch {
	case errors.As(err, &te):
		h.httpError(w, err.Error(), http.StatusTooManyRequests, api.ThrottleResponse{
			User:      te.User,
			OpCount:   te.OpCount,
			Limit:     te.Limit,
			Remaining: te.Remaining(),
		})
	case errors.Is(err, apperr.ErrNotFound):
		h.httpError(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, apperr.ErrValidation):
		h.httpError(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, apperr.ErrForbidden):
		h.httpError(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrAlreadyExpired):
		h.httpError(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, apperr.ErrTransient):
		slog.WarnContext(r.Context(), "dependency failure", "path", r.URL.Path, "error", err)
		h.httpError(w, err.Error(), http.StatusServiceUnavailable, nil)
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.httpError(w, "internal error", http.StatusInternalServerError, nil)
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.httpError(w, "invalid request body", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func toAPIJob(j *store.Job) api.Job {
	return api.Job{
		ID:           j.ID,
		Kind:         j.Kind.String(),
		Status:       string(j.Status),
		StartT:       j.StartT,
		EndT:         j.EndT,
		LogDir:       j.LogDir,
		DebugStatus:  j.DebugStatus,
		DebugEnd:     j.DebugEnd,
		SkipBuild:    j.SkipBuild,
		UnitTests:    j.UnitTests,
		Integrations: j.Integrations,
		BaseBranch:   j.BaseBranch,
		Fingerprint:  j.Fingerprint,
		Variant:      j.Variant,
		ArtifactPath: j.ArtifactPath,
		UpdatedAt:    j.UpdatedAt,
	}
}

func toAPIJobs(jobs []store.Job) []api.Job {
	out := make([]api.Job, 0, len(jobs))
	for i := range jobs {
		out = append(out, toAPIJob(&jobs[i]))
	}
	return out
}

func toAPINode(n *store.Node) api.Node {
	return api.Node{
		Name:           n.Name,
		IP:             n.IP,
		Status:         string(n.Status),
		OfflineMessage: n.OfflineMessage,
		BoundJob:       n.BoundJob,
		LogDir:         n.LogDir,
		UpdatedAt:      n.UpdatedAt,
	}
}

func toAPINodes(nodes []store.Node) []api.Node {
	out := make([]api.Node, 0, len(nodes))
	for i := range nodes {
		out = append(out, toAPINode(&nodes[i]))
	}
	return out
}

func toAPIUser(u *store.User) api.User {
	return api.User{Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}
