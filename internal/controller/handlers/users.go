package handlers

import (
	"net/http"

	"cifleet/internal/store"
	"cifleet/pkg/api"
)

// ListUsers handles GET /api/users with an optional email filter.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	var filter store.UserFilter
	if v := r.URL.Query().Get("email"); v != "" {
		filter.Email = &v
	}
	users, err := h.store.QueryUsers(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]api.User, 0, len(users))
	for i := range users {
		out = append(out, toAPIUser(&users[i]))
	}
	h.respond(w, out)
}

// GetUser handles GET /api/users/{name}.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPIUser(user))
}

// UpdateUser handles PUT /api/users/{name}. Unknown users are created.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.httpError(w, "user name is required", http.StatusBadRequest, nil)
		return
	}
	var req api.UserRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.store.UpsertUser(r.Context(), name, store.UserPatch{Email: req.Email})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPIUser(user))
}

// CheckThrottle handles GET /api/users/{name}/checkThrottle.
func (h *Handlers) CheckThrottle(w http.ResponseWriter, r *http.Request) {
	usage, err := h.throttle.Usage(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, throttleResponse(usage.User, usage.OpCount, usage.Limit))
}

// Activity handles GET /api/users/{name}/activity.
func (h *Handlers) Activity(w http.ResponseWriter, r *http.Request) {
	a, err := h.registry.Activity(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, api.ActivityResponse{
		ThrottleResponse: throttleResponse(a.Usage.User, a.Usage.OpCount, a.Usage.Limit),
		Running:          toAPIJobs(a.Running),
		Debugging:        toAPIJobs(a.Debugging),
		Summary:          a.Summary(h.now()),
	})
}

func throttleResponse(user string, count, limit int) api.ThrottleResponse {
	remaining := 0
	if limit > 0 && count < limit {
		remaining = limit - count
	}
	return api.ThrottleResponse{User: user, OpCount: count, Limit: limit, Remaining: remaining}
}
