package reclaim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"cifleet/internal/apperr"
	"cifleet/internal/notify"
	"cifleet/internal/observability"
	"cifleet/internal/store"
)

// PodLister lists and deletes the ephemeral pods of the fleet.
type PodLister interface {
	ListPods(ctx context.Context) ([]Pod, error)
	DeletePod(ctx context.Context, name string) error
}

// NodeReleaser returns a node to the pool through the node lifecycle.
type NodeReleaser interface {
	TakeOnline(ctx context.Context, name, logDir string) (*store.Node, error)
}

// expansionSuffix matches the extra pods of a multi-machine test, e.g.
// "k8s-test-42-m2" or "k8s-test-42-ex1".
var expansionSuffix = regexp.MustCompile(`^(m|ex)[1-9]$`)

// SweeperConfig configures a ZombieSweeper.
type SweeperConfig struct {
	Interval time.Duration
	// MinAge protects pods that were just started and not yet registered,
	// and nodes of jobs that finished less than MinAge ago.
	MinAge time.Duration
	// Prefix selects the node records the sweeper owns, e.g. "k8s-".
	Prefix string
	// LogDir is recorded on nodes released by the sweeper.
	LogDir string
}

// SweepReport lists what one sweep cleaned.
type SweepReport struct {
	Released []string
	Deleted  []string
	Failed   []string
}

// Total is the number of cleaned pods.
func (r SweepReport) Total() int {
	return len(r.Released) + len(r.Deleted)
}

// ZombieSweeper finds pods that hold no live job and cleans them up:
//   - nodes still up although their job finished at least MinAge ago or its
//     debug grant lapsed
//   - running pods without a node record, or whose node is free or bound to
//     a finished job
//   - expansion pods whose first pod is gone
type ZombieSweeper struct {
	store    store.EntityStore
	pods     PodLister
	releaser NodeReleaser
	notifier notify.Notifier
	cfg      SweeperConfig
	now      func() time.Time
}

func NewZombieSweeper(s store.EntityStore, pods PodLister, releaser NodeReleaser, n notify.Notifier, cfg SweeperConfig) *ZombieSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 2 * time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "k8s-"
	}
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &ZombieSweeper{
		store:    s,
		pods:     pods,
		releaser: releaser,
		notifier: n,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (z *ZombieSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(z.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "zombie sweeper started", "interval", z.cfg.Interval, "min_age", z.cfg.MinAge)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "zombie sweeper stopped")
			return
		case <-ticker.C:
			if _, err := z.Sweep(ctx); err != nil {
				slog.ErrorContext(ctx, "zombie sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass. Failures on single pods are reported and do not stop
// the pass.
func (z *ZombieSweeper) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := observability.Tracer().Start(ctx, "zombie.sweep")
	defer span.End()

	now := z.now()
	pods, err := z.pods.ListPods(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	release := map[string]bool{}
	var orphans []Pod

	// Node records left behind by finished jobs.
	offline := store.NodeStatusOffline
	nodes, err := z.store.QueryNodes(ctx, store.NodeFilter{Status: &offline})
	if err != nil {
		return SweepReport{}, fmt.Errorf("query offline nodes: %w", err)
	}
	for _, n := range nodes {
		if !strings.HasPrefix(n.Name, z.cfg.Prefix) || n.BoundJob == 0 {
			continue
		}
		done, err := z.jobDone(ctx, n.BoundJob, now)
		if err != nil {
			return SweepReport{}, err
		}
		if done {
			release[n.Name] = true
		}
	}

	names := make(map[string]bool, len(pods))
	for _, p := range pods {
		names[p.Name] = true
	}

	for _, p := range pods {
		if now.Sub(p.Created) < z.cfg.MinAge {
			continue
		}

		if i := strings.LastIndex(p.Name, "-"); i > 0 && expansionSuffix.MatchString(p.Name[i+1:]) {
			if !names[p.Name[:i]] {
				orphans = append(orphans, p)
				continue
			}
		}

		node, err := z.store.GetNode(ctx, p.NodeName())
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			orphans = append(orphans, p)
		case err != nil:
			return SweepReport{}, err
		case node.Status == store.NodeStatusDeleted:
			orphans = append(orphans, p)
		case node.BoundJob == 0:
			release[node.Name] = true
		default:
			done, err := z.jobDone(ctx, node.BoundJob, now)
			if err != nil {
				return SweepReport{}, err
			}
			if done {
				release[node.Name] = true
			}
		}
	}

	var report SweepReport
	for _, name := range sortedKeys(release) {
		if _, err := z.releaser.TakeOnline(ctx, name, z.cfg.LogDir); err != nil {
			slog.WarnContext(ctx, "failed to release zombie node", "node", name, "error", err)
			report.Failed = append(report.Failed, name)
			continue
		}
		report.Released = append(report.Released, name)
	}
	for _, p := range orphans {
		if err := z.pods.DeletePod(ctx, p.Name); err != nil {
			slog.WarnContext(ctx, "failed to delete zombie pod", "pod", p.Name, "error", err)
			report.Failed = append(report.Failed, p.NodeName())
			continue
		}
		report.Deleted = append(report.Deleted, p.NodeName())
	}

	observability.RecordZombies(ctx, report.Total())
	if report.Total() > 0 || len(report.Failed) > 0 {
		slog.InfoContext(ctx, "zombie sweep finished",
			"released", len(report.Released), "deleted", len(report.Deleted), "failed", len(report.Failed))
		if err := z.notifier.Notify(ctx, "", "zombie pods cleaned", report.String()); err != nil {
			slog.WarnContext(ctx, "failed to send zombie report", "error", err)
		}
	}
	return report, nil
}

// jobDone reports whether the job bound to a node no longer needs it.
func (z *ZombieSweeper) jobDone(ctx context.Context, id int64, now time.Time) (bool, error) {
	job, err := z.store.GetJob(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	// A job that just finished may still be handed a debug grant that keeps
	// its nodes.
	if job.EndT != nil && now.Sub(*job.EndT) < z.cfg.MinAge {
		return false, nil
	}

	switch job.Status {
	case store.JobStatusSuccess, store.JobStatusAborted:
		return true, nil
	case store.JobStatusFailure:
		return !job.Debugging() || job.DebugEnd.Before(now), nil
	}
	return false, nil
}

func (r SweepReport) String() string {
	var sb strings.Builder
	sb.WriteString("node | action\n---- | ------\n")
	for _, n := range r.Released {
		fmt.Fprintf(&sb, "%s | released\n", n)
	}
	for _, n := range r.Deleted {
		fmt.Fprintf(&sb, "%s | deleted\n", n)
	}
	for _, n := range r.Failed {
		fmt.Fprintf(&sb, "%s | failed\n", n)
	}
	return sb.String()
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
