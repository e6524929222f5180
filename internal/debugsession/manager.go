// Package debugsession grants, renews and reclaims the time-boxed debug
// sessions of failed build and test jobs, and runs the monitor that warns
// owners before a session lapses.
package debugsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cifleet/internal/apperr"
	"cifleet/internal/keylock"
	"cifleet/internal/observability"
	"cifleet/internal/store"
)

// Thresholds are the reminder points in hours, in descending order.
var Thresholds = []int{10, 4, 1}

// NodeLifecycle moves the nodes of a session. It is implemented by
// nodes.Lifecycle.
type NodeLifecycle interface {
	TakeOfflineFor(ctx context.Context, name, message string, job *store.Job) (*store.Node, error)
	TakeOnline(ctx context.Context, name, logDir string) (*store.Node, error)
}

// Config holds the grant windows.
type Config struct {
	// Window is the default grant for ad hoc jobs.
	Window time.Duration
	// ScheduledWindow is used for sub-jobs of scheduled (hourly) runs.
	ScheduledWindow time.Duration
	// ReleaseLogDir is recorded on nodes returned to the pool.
	ReleaseLogDir string
}

// Manager owns every debug_status and debug_end mutation. Operations on the
// same job are serialized, including those started by the monitor.
type Manager struct {
	store store.EntityStore
	nodes NodeLifecycle
	cfg   Config
	locks *keylock.Map
	now   func() time.Time
}

func NewManager(s store.EntityStore, nodes NodeLifecycle, cfg Config) *Manager {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.ScheduledWindow <= 0 {
		cfg.ScheduledWindow = 72 * time.Hour
	}
	return &Manager{
		store: s,
		nodes: nodes,
		cfg:   cfg,
		locks: keylock.New(),
		now:   time.Now,
	}
}

func (m *Manager) lock(id int64) func() {
	return m.locks.Lock(fmt.Sprint(id))
}

// Window returns the grant length for job. Sub-jobs of a scheduled run get
// the longer window.
func (m *Manager) Window(ctx context.Context, job *store.Job) time.Duration {
	root, err := store.RootOf(ctx, m.store, job)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			slog.WarnContext(ctx, "failed to resolve root job, using default debug window", "job_id", job.ID, "error", err)
		}
		return m.cfg.Window
	}
	if root.Kind.Spec().Scheduled {
		return m.cfg.ScheduledWindow
	}
	return m.cfg.Window
}

// Grant opens the debug session of a failed build or test job. The window
// starts at the job's end time. Granting an open session again returns it
// unchanged; a session that was already reclaimed cannot be reopened.
func (m *Manager) Grant(ctx context.Context, id int64) (*store.Job, error) {
	unlock := m.lock(id)
	defer unlock()

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := debuggable(job); err != nil {
		return nil, err
	}
	if job.DebugStatus {
		return job, nil
	}
	if job.DebugEnd != nil {
		return nil, apperr.Conflict("debug session of job %d has already ended", id)
	}

	start := m.now()
	if job.EndT != nil {
		start = *job.EndT
	}
	end := start.Add(m.Window(ctx, job)).UTC()
	warned := warnedFor(end.Sub(m.now()))

	granted := true
	job, err = m.store.UpsertJob(ctx, id, store.JobPatch{
		DebugStatus: &granted,
		DebugEnd:    &end,
		DebugWarned: &warned,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to grant debug session: %w", err)
	}

	slog.InfoContext(ctx, "debug session granted", "job_id", id, "debug_end", end)
	return job, nil
}

// RenewRequest extends a debug session.
type RenewRequest struct {
	JobID    int64
	User     string
	Duration time.Duration
	// Force reopens a lapsed or reclaimed session after checking that its
	// nodes are free.
	Force bool
}

// Renew advances debug_end by req.Duration. debug_end strictly increases
// on every successful call. Reminders already sent for thresholds below the
// new remaining time are not sent again.
func (m *Manager) Renew(ctx context.Context, req RenewRequest) (*store.Job, error) {
	ctx, span := observability.Tracer().Start(ctx, "debug.renew",
		trace.WithAttributes(attribute.Int64("job_id", req.JobID), attribute.Bool("force", req.Force)))
	defer span.End()

	if req.Duration <= 0 {
		return nil, apperr.Validation("renew duration must be positive")
	}
	if req.User == "" {
		return nil, apperr.Validation("user is required to renew a debug session")
	}

	unlock := m.lock(req.JobID)
	defer unlock()

	job, err := m.store.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if err := debuggable(job); err != nil {
		return nil, err
	}

	owner, err := store.OwnerOf(ctx, m.store, job)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if owner == nil || owner.Name != req.User {
		return nil, fmt.Errorf("%w: job %d is not owned by %s", apperr.ErrForbidden, job.ID, req.User)
	}

	now := m.now()
	var end time.Time
	if job.Debugging() && job.DebugEnd.After(now) {
		end = job.DebugEnd.Add(req.Duration)
	} else {
		if !req.Force {
			return nil, fmt.Errorf("%w: job %d", apperr.ErrAlreadyExpired, job.ID)
		}
		if err := m.reserve(ctx, job); err != nil {
			return nil, err
		}
		base := now
		if job.DebugEnd != nil && job.DebugEnd.After(base) {
			base = *job.DebugEnd
		}
		end = base.Add(req.Duration)
	}
	end = end.UTC()

	// Thresholds at or above the new remaining time count as sent; lower
	// ones fire again as the new end approaches.
	granted := true
	warned := warnedFor(end.Sub(now))
	job, err = m.store.UpsertJob(ctx, req.JobID, store.JobPatch{
		DebugStatus: &granted,
		DebugEnd:    &end,
		DebugWarned: &warned,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to renew debug session: %w", err)
	}

	slog.InfoContext(ctx, "debug session renewed",
		"job_id", req.JobID, "user", req.User, "debug_end", end, "force", req.Force)
	return job, nil
}

// reserve takes the nodes of a lapsed session offline again. Every node is
// checked before any is taken so a conflict leaves nothing half-bound.
func (m *Manager) reserve(ctx context.Context, job *store.Job) error {
	nodes, err := store.NodesOf(ctx, m.store, job)
	if err != nil {
		return err
	}

	for _, n := range nodes {
		if n.Status == store.NodeStatusDeleted {
			return apperr.Conflict("node %s of job %d has been deleted", n.Name, job.ID)
		}
		if n.BoundJob == 0 || n.BoundJob == job.ID {
			continue
		}
		holder, err := m.store.GetJob(ctx, n.BoundJob)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if holder.Status == store.JobStatusRunning || holder.Debugging() {
			return apperr.Conflict("node %s is held by %s job %d", n.Name, holder.Kind, holder.ID)
		}
	}

	msg := fmt.Sprintf("debugging %s job %d", job.Kind, job.ID)
	for _, n := range nodes {
		if _, err := m.nodes.TakeOfflineFor(ctx, n.Name, msg, job); err != nil {
			return fmt.Errorf("failed to reserve node %s: %w", n.Name, err)
		}
	}
	return nil
}

// Reclaim ends the debug session of job and returns its nodes to the pool.
// Reclaiming a job that is not debugging and holds no nodes does nothing.
// When a node cannot be released the session stays open so the next
// monitor tick retries.
func (m *Manager) Reclaim(ctx context.Context, id int64) (*store.Job, error) {
	unlock := m.lock(id)
	defer unlock()
	return m.reclaim(ctx, id, "manual")
}

func (m *Manager) reclaim(ctx context.Context, id int64, trigger string) (job *store.Job, err error) {
	ctx, span := observability.Tracer().Start(ctx, "debug.reclaim",
		trace.WithAttributes(attribute.Int64("job_id", id), attribute.String("trigger", trigger)))
	defer span.End()

	job, err = m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	nodes, err := store.NodesOf(ctx, m.store, job)
	if err != nil {
		return nil, err
	}

	var held []store.Node
	for _, n := range nodes {
		if n.BoundJob == job.ID && n.Status == store.NodeStatusOffline {
			held = append(held, n)
		}
	}
	if !job.DebugStatus && len(held) == 0 {
		return job, nil
	}
	if job.Status == store.JobStatusRunning {
		return nil, apperr.Conflict("job %d is still running", id)
	}
	defer func() { observability.RecordReclaim(ctx, trigger, err) }()

	var failed []string
	for _, n := range held {
		if _, err := m.nodes.TakeOnline(ctx, n.Name, m.cfg.ReleaseLogDir); err != nil {
			slog.WarnContext(ctx, "failed to release node", "job_id", id, "node", n.Name, "error", err)
			failed = append(failed, n.Name)
		}
	}
	if len(failed) > 0 {
		return nil, apperr.Transient("reclaim job "+fmt.Sprint(id),
			fmt.Errorf("nodes not released: %s", strings.Join(failed, ", ")))
	}

	if job.DebugStatus {
		closed := false
		job, err = m.store.UpsertJob(ctx, id, store.JobPatch{DebugStatus: &closed})
		if err != nil {
			return nil, fmt.Errorf("failed to close debug session: %w", err)
		}
	}

	slog.InfoContext(ctx, "debug session reclaimed", "job_id", id, "trigger", trigger, "nodes", len(held))
	return job, nil
}

func debuggable(job *store.Job) error {
	if !job.Kind.Spec().Debuggable {
		return apperr.Conflict("%s jobs have no debug session", job.Kind)
	}
	if job.Status != store.JobStatusFailure {
		return apperr.Conflict("job %d is %s, only failed jobs can be debugged", job.ID, job.Status)
	}
	return nil
}

// warnedFor returns the lowest threshold already crossed with remaining
// time left, or 0 when remaining is above every threshold.
func warnedFor(remaining time.Duration) int {
	warned := 0
	for _, t := range Thresholds {
		if remaining <= time.Duration(t)*time.Hour {
			warned = t
		}
	}
	return warned
}

// due returns the threshold to notify for, or 0 when nothing is due.
func due(remaining time.Duration, warned int) int {
	t := warnedFor(remaining)
	if t == 0 || (warned != 0 && t >= warned) {
		return 0
	}
	return t
}
