package handlers

import (
	"net/http"

	"cifleet/pkg/api"
)

// Healthz is a liveness probe.
// It returns 200 OK if the server is running.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respond(w, api.HealthResponse{Status: "healthy"})
}

// Readyz is a readiness probe.
// It checks if the service is ready to accept traffic (e.g., DB is connected).
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.httpError(w, "store unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	h.respond(w, api.HealthResponse{Status: "ready"})
}
