package handlers

import "net/http"

// Register mounts the API on mux. Literal segments such as /api/nodes take
// precedence over the {jobKind} wildcard.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)

	mux.HandleFunc("GET /api/nodes", h.ListNodes)
	mux.HandleFunc("GET /api/nodes/{name}", h.GetNode)
	mux.HandleFunc("PUT /api/nodes/{name}", h.UpdateNode)
	mux.HandleFunc("DELETE /api/nodes/{name}", h.DeleteNode)
	mux.HandleFunc("GET /api/nodes/{name}/takeOffline", h.TakeOffline)
	mux.HandleFunc("PUT /api/nodes/{name}/takeOffline", h.TakeOffline)
	mux.HandleFunc("GET /api/nodes/{name}/takeOnline", h.TakeOnline)
	mux.HandleFunc("PUT /api/nodes/{name}/takeOnline", h.TakeOnline)
	mux.HandleFunc("GET /api/nodes/{name}/events", h.NodeEvents)

	mux.HandleFunc("GET /api/users", h.ListUsers)
	mux.HandleFunc("GET /api/users/{name}", h.GetUser)
	mux.HandleFunc("PUT /api/users/{name}", h.UpdateUser)
	mux.HandleFunc("GET /api/users/{name}/checkThrottle", h.CheckThrottle)
	mux.HandleFunc("GET /api/users/{name}/activity", h.Activity)

	mux.HandleFunc("POST /api/plan", h.Plan)
	mux.HandleFunc("POST /api/reuse", h.Reuse)

	mux.HandleFunc("POST /api/{jobKind}", h.CreateJob)
	mux.HandleFunc("GET /api/{jobKind}", h.ListJobs)
	mux.HandleFunc("GET /api/{jobKind}/{id}", h.GetJob)
	mux.HandleFunc("PUT /api/{jobKind}/{id}", h.UpdateJob)
	mux.HandleFunc("DELETE /api/{jobKind}/{id}", h.DeleteJob)
	mux.HandleFunc("GET /api/{jobKind}/{id}/renew/{duration}", h.RenewJob)
	mux.HandleFunc("GET /api/{jobKind}/{id}/reclaim", h.ReclaimJob)
	mux.HandleFunc("GET /api/{jobKind}/{id}/{relation}", h.RelatedJob)
}
