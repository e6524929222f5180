package handlers

import (
	"net/http"
	"strconv"

	"cifleet/internal/apperr"
	"cifleet/internal/controller/middleware"
	"cifleet/internal/debugsession"
	"cifleet/internal/registry"
	"cifleet/internal/store"
	"cifleet/pkg/api"
)

// jobTarget resolves {jobKind} and, when present, {id}. It writes the error
// response itself and reports false on failure.
func (h *Handlers) jobTarget(w http.ResponseWriter, r *http.Request, withID bool) (store.JobKind, int64, bool) {
	kind, err := store.ParseJobKind(r.PathValue("jobKind"))
	if err != nil {
		h.httpError(w, err.Error(), http.StatusNotFound, nil)
		return 0, 0, false
	}
	if !withID {
		return kind, 0, true
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.httpError(w, "invalid job id", http.StatusBadRequest, nil)
		return 0, 0, false
	}
	return kind, id, true
}

// patchFromRequest converts the optional request fields into a store patch.
func patchFromRequest(req *api.JobRequest) (store.JobPatch, error) {
	p := store.JobPatch{
		StartT:       req.StartT,
		EndT:         req.EndT,
		LogDir:       req.LogDir,
		DebugStatus:  req.DebugStatus,
		SkipBuild:    req.SkipBuild,
		UnitTests:    req.UnitTests,
		Integrations: req.Integrations,
		BaseBranch:   req.BaseBranch,
		Variant:      req.Variant,
		ArtifactPath: req.ArtifactPath,
	}
	if req.Status != nil {
		status := store.JobStatus(*req.Status)
		if !status.Valid() {
			return store.JobPatch{}, apperr.Validation("unknown status %q", *req.Status)
		}
		p.Status = &status
	}
	return p, nil
}

// CreateJob handles POST /api/{jobKind}.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, _, ok := h.jobTarget(w, r, false)
	if !ok {
		return
	}

	var req api.JobRequest
	if !h.decode(w, r, &req) {
		return
	}
	fields, err := patchFromRequest(&req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	user := req.User
	if user == "" {
		user, _ = middleware.UserFromContext(ctx)
	}

	job, err := h.registry.Create(ctx, registry.CreateRequest{
		ID:      req.ID,
		Kind:    kind,
		User:    user,
		Email:   req.Email,
		Parent:  req.Parent,
		Build:   req.Build,
		Commits: req.Commits,
		Fields:  fields,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPIJob(job))
}

// ListJobs handles GET /api/{jobKind}. Supported filters are status,
// debug_status, log_dir and base_branch.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	kind, _, ok := h.jobTarget(w, r, false)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter store.JobFilter
	if v := q.Get("status"); v != "" {
		status := store.JobStatus(v)
		if !status.Valid() {
			h.httpError(w, "unknown status "+strconv.Quote(v), http.StatusBadRequest, nil)
			return
		}
		filter.Status = &status
	}
	if v := q.Get("debug_status"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			h.httpError(w, "debug_status must be a boolean", http.StatusBadRequest, nil)
			return
		}
		filter.DebugStatus = &debug
	}
	if v := q.Get("log_dir"); v != "" {
		filter.LogDir = &v
	}
	if v := q.Get("base_branch"); v != "" {
		filter.BaseBranch = &v
	}

	jobs, err := h.registry.List(r.Context(), kind, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPIJobs(jobs))
}

// GetJob handles GET /api/{jobKind}/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.jobTarget(w, r, true)
	if !ok {
		return
	}
	job, err := h.registry.Get(r.Context(), kind, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPIJob(job))
}

// UpdateJob handles PUT /api/{jobKind}/{id}.
func (h *Handlers) UpdateJob(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.jobTarget(w, r, true)
	if !ok {
		return
	}

	var req api.JobRequest
	if !h.decode(w, r, &req) {
		return
	}
	fields, err := patchFromRequest(&req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	job, err := h.registry.Update(r.Context(), kind, id, fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPIJob(job))
}

// DeleteJob handles DELETE /api/{jobKind}/{id}. With ?cascade=true the
// sub-jobs of a top-level job are removed too.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.jobTarget(w, r, true)
	if !ok {
		return
	}
	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade"))

	if err := h.registry.Delete(r.Context(), kind, id, cascade); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, nil)
}

// RelatedJob handles GET /api/{jobKind}/{id}/{relation}.
func (h *Handlers) RelatedJob(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.jobTarget(w, r, true)
	if !ok {
		return
	}

	rel, err := h.registry.Related(r.Context(), kind, id, r.PathValue("relation"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	switch {
	case rel.Nodes != nil:
		h.respond(w, toAPINodes(rel.Nodes))
	case rel.Jobs != nil:
		h.respond(w, toAPIJobs(rel.Jobs))
	case rel.User != nil:
		h.respond(w, toAPIUser(rel.User))
	default:
		h.respond(w, nil)
	}
}

// RenewJob handles GET /api/{jobKind}/{id}/renew/{duration}. The caller is
// identified by ?user= and must own the job.
func (h *Handlers) RenewJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, id, ok := h.jobTarget(w, r, true)
	if !ok {
		return
	}
	if _, err := h.registry.Get(ctx, kind, id); err != nil {
		h.fail(w, r, err)
		return
	}

	dur, err := debugsession.ParseDuration(r.PathValue("duration"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user, _ := middleware.UserFromContext(ctx)
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	job, err := h.sessions.Renew(ctx, debugsession.RenewRequest{
		JobID:    id,
		User:     user,
		Duration: dur,
		Force:    force,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPIJob(job))
}

// ReclaimJob handles GET /api/{jobKind}/{id}/reclaim.
func (h *Handlers) ReclaimJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, id, ok := h.jobTarget(w, r, true)
	if !ok {
		return
	}
	if _, err := h.registry.Get(ctx, kind, id); err != nil {
		h.fail(w, r, err)
		return
	}

	job, err := h.sessions.Reclaim(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, toAPIJob(job))
}
