package handlers

import (
	"net/http"
	"strconv"

	"cifleet/internal/store"
	"cifleet/pkg/api"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// ListNodes handles GET /api/nodes with optional status and bound_job filters.
func (h *Handlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.NodeFilter
	if v := q.Get("status"); v != "" {
		status := store.NodeStatus(v)
		if !status.Valid() {
			h.httpError(w, "unknown node status "+strconv.Quote(v), http.StatusBadRequest, nil)
			return
		}
		filter.Status = &status
	}
	if v := q.Get("bound_job"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.httpError(w, "bound_job must be a job id", http.StatusBadRequest, nil)
			return
		}
		filter.BoundJob = &id
	}

	nodes, err := h.store.QueryNodes(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPINodes(nodes))
}

// GetNode handles GET /api/nodes/{name}.
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.store.GetNode(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPINode(node))
}

// UpdateNode handles PUT /api/nodes/{name}.
func (h *Handlers) UpdateNode(w http.ResponseWriter, r *http.Request) {
	var req api.NodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	node, err := h.nodes.Update(r.Context(), r.PathValue("name"), store.NodePatch{
		IP:             req.IP,
		OfflineMessage: req.OfflineMessage,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPINode(node))
}

// DeleteNode handles DELETE /api/nodes/{name}.
func (h *Handlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := h.nodes.Delete(r.Context(), r.PathValue("name")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, nil)
}

// transition reads offline_message and log_dir from the query of a GET or
// the body of a PUT.
func (h *Handlers) transition(w http.ResponseWriter, r *http.Request) (api.NodeTransitionRequest, bool) {
	var req api.NodeTransitionRequest
	if r.Method == http.MethodPut {
		return req, h.decode(w, r, &req)
	}
	q := r.URL.Query()
	req.OfflineMessage = q.Get("offline_message")
	req.LogDir = q.Get("log_dir")
	return req, true
}

// TakeOffline handles GET and PUT /api/nodes/{name}/takeOffline.
func (h *Handlers) TakeOffline(w http.ResponseWriter, r *http.Request) {
	req, ok := h.transition(w, r)
	if !ok {
		return
	}
	node, err := h.nodes.TakeOffline(r.Context(), r.PathValue("name"), req.OfflineMessage, req.LogDir)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPINode(node))
}

// TakeOnline handles GET and PUT /api/nodes/{name}/takeOnline.
func (h *Handlers) TakeOnline(w http.ResponseWriter, r *http.Request) {
	req, ok := h.transition(w, r)
	if !ok {
		return
	}
	node, err := h.nodes.TakeOnline(r.Context(), r.PathValue("name"), req.LogDir)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPINode(node))
}

// NodeEvents handles GET /api/nodes/{name}/events?after_id=&limit=.
func (h *Handlers) NodeEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var afterID int64
	if v := q.Get("after_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			h.httpError(w, "after_id must be a non-negative integer", http.StatusBadRequest, nil)
			return
		}
		afterID = id
	}

	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.httpError(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.store.ListNodeEvents(r.Context(), r.PathValue("name"), afterID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]api.NodeEvent, 0, len(events))
	for _, e := range events {
		out = append(out, api.NodeEvent{
			ID:        e.ID,
			Event:     e.Event,
			Message:   e.Message,
			JobID:     e.JobID,
			CreatedAt: e.CreatedAt,
		})
	}
	h.respond(w, out)
}
