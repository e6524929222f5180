// Package registry orchestrates job submissions and updates on top of the
// entity store: throttle admission, ownership edges, status transitions and
// the automatic debug grant of failed builds and tests.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cifleet/internal/apperr"
	"cifleet/internal/debugsession"
	"cifleet/internal/reuse"
	"cifleet/internal/store"
	"cifleet/internal/throttle"
)

// Config toggles registry policies.
type Config struct {
	// AutoGrant opens a debug session when a build or test job fails.
	AutoGrant bool
}

// Service is the job registry used by the API gateway.
type Service struct {
	store    store.EntityStore
	throttle *throttle.Guard
	sessions *debugsession.Manager
	cfg      Config
	now      func() time.Time
}

func New(s store.EntityStore, guard *throttle.Guard, sessions *debugsession.Manager, cfg Config) *Service {
	return &Service{
		store:    s,
		throttle: guard,
		sessions: sessions,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateRequest describes a job submission.
type CreateRequest struct {
	// ID is the job id chosen by the caller. Zero allocates one.
	ID   int64
	Kind store.JobKind
	// User owns a top-level job. Required for MIT, WIP and HOURLY.
	User  string
	Email string
	// Parent is the top-level job that spawned a build or test job.
	Parent int64
	// Build is the build a test job runs against.
	Build int64
	// Commits, when set on a build job, is recorded as its fingerprint.
	Commits map[string]string
	Fields  store.JobPatch
}

// Create stores a new job and links it to its owner. Top-level submissions
// are admitted by the throttle guard; the user's lock is held until the job
// is stored so concurrent submissions cannot both pass the check.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Job, error) {
	if !req.Kind.Valid() {
		return nil, apperr.Validation("job_kind is required")
	}
	spec := req.Kind.Spec()
	if req.Fields.Status != nil && !req.Fields.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", *req.Fields.Status)
	}
	if req.Kind == store.KindBuild {
		variant, err := normalizeVariant(req.Fields.Variant)
		if err != nil {
			return nil, err
		}
		req.Fields.Variant = &variant
	} else if req.Fields.Variant != nil && *req.Fields.Variant != "" {
		return nil, apperr.Validation("variant is only recorded on build jobs")
	}

	var parent *store.Job
	switch {
	case spec.TopLevel:
		if req.User == "" {
			return nil, apperr.Validation("user is required to submit a %s job", req.Kind)
		}
		if req.Parent != 0 || req.Build != 0 {
			return nil, apperr.Validation("%s jobs have no parent", req.Kind)
		}
	default:
		if req.Parent == 0 && (req.Kind != store.KindTest || req.Build == 0) {
			return nil, apperr.Validation("%s jobs need a parent request or a build", req.Kind)
		}
		if req.Parent != 0 {
			p, err := s.store.GetJob(ctx, req.Parent)
			if err != nil {
				return nil, fmt.Errorf("parent job: %w", err)
			}
			if !p.Kind.Spec().TopLevel {
				return nil, apperr.Validation("parent job %d is a %s job, not a top-level request", p.ID, p.Kind)
			}
			parent = p
		}
		if req.Build != 0 {
			if req.Kind != store.KindTest {
				return nil, apperr.Validation("only test jobs run against a build")
			}
			b, err := s.store.GetJob(ctx, req.Build)
			if err != nil {
				return nil, fmt.Errorf("build job: %w", err)
			}
			if b.Kind != store.KindBuild {
				return nil, apperr.Validation("job %d is not a build job", b.ID)
			}
		}
	}

	if spec.TopLevel {
		unlock, err := s.throttle.Lock(ctx, req.User)
		if err != nil {
			return nil, fmt.Errorf("failed to lock user %s: %w", req.User, err)
		}
		defer unlock()

		if err := s.throttle.Admit(ctx, req.User); err != nil {
			return nil, err
		}

		patch := store.UserPatch{}
		if req.Email != "" {
			patch.Email = &req.Email
		}
		if _, err := s.store.UpsertUser(ctx, req.User, patch); err != nil {
			return nil, fmt.Errorf("failed to upsert user: %w", err)
		}
	}

	id := req.ID
	if id == 0 {
		next, err := s.store.NextJobID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate job id: %w", err)
		}
		id = next
	} else if _, err := s.store.GetJob(ctx, id); err == nil {
		return nil, apperr.Conflict("job %d already exists", id)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	fields := req.Fields
	kind := req.Kind
	fields.Kind = &kind
	if fields.Status == nil {
		running := store.JobStatusRunning
		fields.Status = &running
	}
	if fields.StartT == nil {
		now := s.now().UTC()
		fields.StartT = &now
	}
	if fields.SkipBuild == nil || *fields.SkipBuild == "" {
		skip := reuse.NoReuse
		fields.SkipBuild = &skip
	}
	if len(req.Commits) > 0 {
		if req.Kind != store.KindBuild {
			return nil, apperr.Validation("commits are only recorded on build jobs")
		}
		fp := reuse.Fingerprint(req.Commits)
		fields.Fingerprint = &fp
	}
	// Debug state is owned by the session manager.
	fields.DebugStatus, fields.DebugEnd, fields.DebugWarned = nil, nil, nil

	job, err := s.store.UpsertJob(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	// Edges are written one at a time after the vertex. A failure leaves a
	// job that a retried create or update can link again.
	var edges []store.Edge
	if spec.TopLevel {
		edges = append(edges, store.Edge{From: store.UserRef(req.User), Name: store.EdgeUserRequest, To: store.JobRef(id)})
	}
	if parent != nil {
		edges = append(edges, store.Edge{From: store.JobRef(parent.ID), Name: spec.ParentEdge, To: store.JobRef(id)})
	}
	if req.Build != 0 {
		edges = append(edges, store.Edge{From: store.JobRef(req.Build), Name: store.EdgeBuildTest, To: store.JobRef(id)})
	}
	for _, e := range edges {
		if err := s.store.CreateEdge(ctx, e); err != nil {
			return nil, fmt.Errorf("failed to link job %d (%s): %w", id, e.Name, err)
		}
	}

	slog.InfoContext(ctx, "job created", "job_id", id, "kind", req.Kind, "user", req.User, "parent", req.Parent)
	return job, nil
}

// normalizeVariant returns the canonical spelling of a build variant, so
// reuse matching compares like with like. An empty variant is a prebuild.
func normalizeVariant(v *string) (string, error) {
	if v == nil || *v == "" {
		return reuse.Variant{}.String(), nil
	}
	parsed, err := reuse.ParseVariant(*v)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

// Get returns the job with id. A job of another kind is reported as not
// found so /api/test_job/7 never returns a build.
func (s *Service) Get(ctx context.Context, kind store.JobKind, id int64) (*store.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Kind != kind {
		return nil, apperr.NotFound(kind.Spec().Name, fmt.Sprint(id))
	}
	return job, nil
}

// List returns the jobs of kind matching filter, most recent first.
func (s *Service) List(ctx context.Context, kind store.JobKind, filter store.JobFilter) ([]store.Job, error) {
	filter.Kind = &kind
	filter.Kinds = nil
	return s.store.QueryJobs(ctx, filter)
}

// Update merges fields into the job. Status moves from RUNNING to a
// terminal state once; end_t is stamped on that move. Setting debug_status
// grants or reclaims the debug session through the session manager.
func (s *Service) Update(ctx context.Context, kind store.JobKind, id int64, fields store.JobPatch) (*store.Job, error) {
	job, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	if fields.Kind != nil && *fields.Kind != job.Kind {
		return nil, apperr.Validation("job_kind is immutable")
	}
	if fields.DebugEnd != nil || fields.DebugWarned != nil {
		return nil, apperr.Validation("debug_end can only be changed by renew")
	}
	debug := fields.DebugStatus
	fields.DebugStatus = nil
	fields.Kind = nil
	switch {
	case fields.Variant == nil:
	case job.Kind != store.KindBuild && *fields.Variant != "":
		return nil, apperr.Validation("variant is only recorded on build jobs")
	case job.Kind != store.KindBuild:
		fields.Variant = nil
	default:
		variant, err := normalizeVariant(fields.Variant)
		if err != nil {
			return nil, err
		}
		fields.Variant = &variant
	}

	finished := false
	if fields.Status != nil && *fields.Status != job.Status {
		next := *fields.Status
		if !next.Valid() {
			return nil, apperr.Validation("unknown status %q", next)
		}
		if job.Status != store.JobStatusRunning || !next.Terminal() {
			return nil, apperr.Conflict("job %d cannot move from %s to %s", id, job.Status, next)
		}
		finished = true
		if fields.EndT == nil && job.EndT == nil {
			now := s.now().UTC()
			fields.EndT = &now
		}
	}

	job, err = s.store.UpsertJob(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if finished {
		slog.InfoContext(ctx, "job finished", "job_id", id, "kind", job.Kind, "status", job.Status)
	}

	switch {
	case debug != nil && *debug:
		return s.sessions.Grant(ctx, id)
	case debug != nil && !*debug:
		return s.sessions.Reclaim(ctx, id)
	case finished && job.Status == store.JobStatusFailure && job.Kind.Spec().Debuggable && s.cfg.AutoGrant:
		granted, err := s.sessions.Grant(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "failed to grant debug session", "job_id", id, "error", err)
			return job, nil
		}
		return granted, nil
	}
	return job, nil
}

// Delete removes the job and every edge touching it. Sub-jobs of a
// top-level job are kept unless cascade is set. Deleting a missing job is
// not an error.
func (s *Service) Delete(ctx context.Context, kind store.JobKind, id int64, cascade bool) error {
	job, err := s.Get(ctx, kind, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if cascade && job.Kind.Spec().TopLevel {
		for _, edge := range []string{store.EdgeMWHBuild, store.EdgeMWHTest} {
			subs, err := store.TraverseJobs(ctx, s.store, store.JobRef(id), edge, store.Outbound, store.JobFilter{})
			if err != nil {
				return err
			}
			for _, sub := range subs {
				if err := s.deleteOne(ctx, sub.ID); err != nil {
					return err
				}
			}
		}
	}

	if err := s.deleteOne(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "job deleted", "job_id", id, "kind", kind, "cascade", cascade)
	return nil
}

func (s *Service) deleteOne(ctx context.Context, id int64) error {
	if err := s.store.DeleteEdges(ctx, store.JobRef(id)); err != nil {
		return fmt.Errorf("failed to delete edges of job %d: %w", id, err)
	}
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("failed to delete job %d: %w", id, err)
	}
	return nil
}
