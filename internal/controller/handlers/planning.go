package handlers

import (
	"net/http"

	"cifleet/internal/planner"
	"cifleet/internal/reuse"
	"cifleet/pkg/api"
)

// Plan handles POST /api/plan. Only non-empty buckets are returned; a
// machine with nothing to run is not started.
func (h *Handlers) Plan(w http.ResponseWriter, r *http.Request) {
	var req api.PlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	integrations, err := planner.ParseIntegrations(req.Integrations)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	buckets, err := planner.Plan(planner.Request{
		UnitTests:    planner.ParseUnitTests(req.UnitTests),
		Integrations: integrations,
		Machines:     req.Machines,
		OSLabels:     req.OSLabels,
		Special:      req.Special,
	}, h.costs)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.PlanResponse{Buckets: []api.PlanBucket{}}
	var used []planner.Bucket
	for _, b := range buckets {
		if b.Empty() {
			continue
		}
		used = append(used, b)
		pb := api.PlanBucket{
			OS:           b.OS,
			UnitTests:    b.UnitTests,
			Integrations: make([]string, 0, len(b.Integrations)),
			Cost:         b.Cost,
		}
		if pb.UnitTests == nil {
			pb.UnitTests = []string{}
		}
		for _, t := range b.Integrations {
			pb.Integrations = append(pb.Integrations, t.String())
		}
		resp.Buckets = append(resp.Buckets, pb)
	}
	resp.Formatted = planner.Format(used)
	h.respond(w, resp)
}

// Reuse handles POST /api/reuse.
func (h *Handlers) Reuse(w http.ResponseWriter, r *http.Request) {
	var req api.ReuseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Variant == "" {
		req.Variant = "prebuild"
	}
	variant, err := reuse.ParseVariant(req.Variant)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	d, err := h.matcher.Match(r.Context(), reuse.Request{
		BaseBranch: req.BaseBranch,
		Commits:    req.Commits,
		Variant:    variant,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, api.ReuseResponse{
		SkipBuild:    d.SkipBuild,
		ArtifactPath: d.ArtifactPath,
		Fingerprint:  d.Fingerprint,
	})
}
