// Package nodes moves execution machines between the online, offline and
// deleted states.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cifleet/internal/apperr"
	"cifleet/internal/keylock"
	"cifleet/internal/observability"
	"cifleet/internal/reclaim"
	"cifleet/internal/store"
)

// Lifecycle serializes transitions per node. A node is never bound to a
// second job while its current job is running or debugging.
type Lifecycle struct {
	store     store.EntityStore
	reclaimer reclaim.NodeReclaimer
	locks     *keylock.Map
}

func New(s store.EntityStore, r reclaim.NodeReclaimer) *Lifecycle {
	return &Lifecycle{store: s, reclaimer: r, locks: keylock.New()}
}

// TakeOffline binds the node to the job whose log directory is logDir. An
// empty logDir takes the node offline for maintenance without a job.
func (l *Lifecycle) TakeOffline(ctx context.Context, name, message, logDir string) (*store.Node, error) {
	if name == "" {
		return nil, apperr.Validation("node name is required")
	}

	var job *store.Job
	if logDir != "" {
		jobs, err := l.store.QueryJobs(ctx, store.JobFilter{LogDir: &logDir})
		if err != nil {
			return nil, err
		}
		if len(jobs) == 0 {
			return nil, apperr.NotFound("job with log_dir", logDir)
		}
		job = &jobs[0]
	}
	return l.TakeOfflineFor(ctx, name, message, job)
}

// TakeOfflineFor binds the node to job, or takes it offline for maintenance
// when job is nil.
func (l *Lifecycle) TakeOfflineFor(ctx context.Context, name, message string, job *store.Job) (*store.Node, error) {
	ctx, span := observability.Tracer().Start(ctx, "node.take_offline",
		trace.WithAttributes(attribute.String("node", name)))
	defer span.End()

	unlock := l.locks.Lock(name)
	defer unlock()

	var (
		jobID  int64
		logDir string
		edge   string
	)
	if job != nil {
		edge = job.Kind.Spec().NodeEdge
		if edge == "" {
			return nil, apperr.Validation("%s jobs do not run on nodes", job.Kind)
		}
		jobID, logDir = job.ID, job.LogDir
	}

	existing, err := l.store.GetNode(ctx, name)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.Status == store.NodeStatusDeleted {
			return nil, apperr.Conflict("node %s has been deleted", name)
		}
		if existing.BoundJob != 0 && existing.BoundJob != jobID {
			holder, live, err := l.liveBinding(ctx, existing)
			if err != nil {
				return nil, err
			}
			if live {
				return nil, apperr.Conflict("node %s is bound to %s job %d", name, holder.Status, holder.ID)
			}
		}
	}

	status := store.NodeStatusOffline
	patch := store.NodePatch{
		Status:         &status,
		OfflineMessage: &message,
		BoundJob:       &jobID,
		LogDir:         &logDir,
	}
	if existing == nil || existing.IP == "" {
		if _, ip := reclaim.SplitNodeName(name); ip != "" {
			patch.IP = &ip
		}
	}

	node, err := l.store.UpsertNode(ctx, name, patch)
	observability.RecordNodeTransition(ctx, string(status), err)
	if err != nil {
		return nil, err
	}

	if job != nil {
		if err := l.store.CreateEdge(ctx, store.Edge{From: store.JobRef(job.ID), Name: edge, To: store.NodeRef(name)}); err != nil {
			return nil, fmt.Errorf("link job %d to node %s: %w", job.ID, name, err)
		}
	}

	l.event(ctx, name, store.NodeEventOffline, message, jobID)
	slog.InfoContext(ctx, "node taken offline", "node", name, "job_id", jobID)
	return node, nil
}

// TakeOnline returns the node to the pool. Physical nodes are cleaned by the
// uninstaller first; ephemeral nodes are torn down and marked deleted.
// Taking an online or deleted node online again does nothing.
func (l *Lifecycle) TakeOnline(ctx context.Context, name, logDir string) (*store.Node, error) {
	ctx, span := observability.Tracer().Start(ctx, "node.take_online",
		trace.WithAttributes(attribute.String("node", name)))
	defer span.End()

	unlock := l.locks.Lock(name)
	defer unlock()

	node, err := l.store.GetNode(ctx, name)
	if err != nil {
		return nil, err
	}
	if node.Status == store.NodeStatusOnline || node.Status == store.NodeStatusDeleted {
		return node, nil
	}

	var (
		status = store.NodeStatusOnline
		event  = store.NodeEventOnline
	)
	if l.reclaimer.Ephemeral(name) {
		if err := l.reclaimer.Teardown(ctx, *node); err != nil {
			l.event(ctx, name, store.NodeEventTeardownFailed, err.Error(), node.BoundJob)
			observability.RecordNodeTransition(ctx, string(store.NodeStatusDeleted), err)
			return nil, apperr.Transient("teardown "+name, err)
		}
		status, event = store.NodeStatusDeleted, store.NodeEventDeleted
	} else {
		if err := l.reclaimer.Uninstall(ctx, *node); err != nil {
			l.event(ctx, name, store.NodeEventUninstallFailed, err.Error(), node.BoundJob)
			observability.RecordNodeTransition(ctx, string(status), err)
			return nil, apperr.Transient("uninstall "+name, err)
		}
	}

	var (
		unbound int64
		empty   string
	)
	patch := store.NodePatch{Status: &status, BoundJob: &unbound, OfflineMessage: &empty}
	if logDir != "" {
		patch.LogDir = &logDir
	}
	updated, err := l.store.UpsertNode(ctx, name, patch)
	observability.RecordNodeTransition(ctx, string(status), err)
	if err != nil {
		return nil, err
	}

	l.event(ctx, name, event, "", node.BoundJob)
	slog.InfoContext(ctx, "node released", "node", name, "status", status, "job_id", node.BoundJob)
	return updated, nil
}

// Update changes the address or offline message of a node, registering
// the node as online when it does not exist yet.
func (l *Lifecycle) Update(ctx context.Context, name string, patch store.NodePatch) (*store.Node, error) {
	if name == "" {
		return nil, apperr.Validation("node name is required")
	}
	if patch.Status != nil || patch.BoundJob != nil {
		return nil, apperr.Validation("use takeOffline or takeOnline to change node status")
	}

	unlock := l.locks.Lock(name)
	defer unlock()

	existing, err := l.store.GetNode(ctx, name)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == store.NodeStatusDeleted {
		return nil, apperr.Conflict("node %s has been deleted", name)
	}
	if existing == nil && patch.IP == nil {
		if _, ip := reclaim.SplitNodeName(name); ip != "" {
			patch.IP = &ip
		}
	}
	return l.store.UpsertNode(ctx, name, patch)
}

// Delete removes a node and its edges. A node held by a running or
// debugging job cannot be deleted. Deleting a missing node is not an error.
func (l *Lifecycle) Delete(ctx context.Context, name string) error {
	unlock := l.locks.Lock(name)
	defer unlock()

	node, err := l.store.GetNode(ctx, name)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	holder, err := l.Holder(ctx, node)
	if err != nil {
		return err
	}
	if holder != nil {
		return apperr.Conflict("node %s is bound to %s job %d", name, holder.Status, holder.ID)
	}

	if err := l.store.DeleteEdges(ctx, store.NodeRef(name)); err != nil {
		return fmt.Errorf("failed to delete edges of node %s: %w", name, err)
	}
	if err := l.store.DeleteNode(ctx, name); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", name, err)
	}
	l.event(ctx, name, store.NodeEventDeleted, "removed from inventory", node.BoundJob)
	slog.InfoContext(ctx, "node deleted", "node", name)
	return nil
}

// Holder returns the job that currently holds the node, if that job is
// running or debugging.
func (l *Lifecycle) Holder(ctx context.Context, node *store.Node) (*store.Job, error) {
	if node.BoundJob == 0 {
		return nil, nil
	}
	job, live, err := l.liveBinding(ctx, node)
	if err != nil || !live {
		return nil, err
	}
	return job, nil
}

func (l *Lifecycle) liveBinding(ctx context.Context, node *store.Node) (*store.Job, bool, error) {
	job, err := l.store.GetJob(ctx, node.BoundJob)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, job.Status == store.JobStatusRunning || job.Debugging(), nil
}

// event appends to the audit trail. Failures are logged only.
func (l *Lifecycle) event(ctx context.Context, name, event, message string, jobID int64) {
	err := l.store.AddNodeEvent(ctx, store.NodeEvent{NodeName: name, Event: event, Message: message, JobID: jobID})
	if err != nil {
		slog.WarnContext(ctx, "failed to record node event", "node", name, "event", event, "error", err)
	}
}
