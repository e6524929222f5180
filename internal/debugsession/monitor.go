package debugsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cifleet/internal/apperr"
	"cifleet/internal/notify"
	"cifleet/internal/observability"
	"cifleet/internal/store"
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Interval time.Duration
	// Concurrency bounds how many jobs are handled at once, so one slow
	// notifier or uninstall call does not hold up the rest of the scan.
	Concurrency int
	// APIURL is used to build the renew hint in reminders.
	APIURL string
}

// ScanReport summarizes one scan.
type ScanReport struct {
	Scanned   int
	Reminded  int
	Reclaimed int
	Failed    int
}

// Monitor periodically scans debugging jobs, sends each expiry reminder
// once and reclaims sessions that have lapsed.
type Monitor struct {
	manager  *Manager
	notifier notify.Notifier
	cfg      MonitorConfig
}

func NewMonitor(m *Manager, n notify.Notifier, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Monitor{manager: m, notifier: n, cfg: cfg}
}

// Run scans every interval until ctx is cancelled.
func (mon *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(mon.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "debug session monitor started", "interval", mon.cfg.Interval, "concurrency", mon.cfg.Concurrency)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "debug session monitor stopped")
			return
		case <-ticker.C:
			report, err := mon.Scan(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "debug session scan failed", "error", err)
				continue
			}
			if report.Reminded > 0 || report.Reclaimed > 0 || report.Failed > 0 {
				slog.InfoContext(ctx, "debug session scan finished",
					"scanned", report.Scanned,
					"reminded", report.Reminded,
					"reclaimed", report.Reclaimed,
					"failed", report.Failed,
				)
			}
		}
	}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeReminded
	outcomeReclaimed
	outcomeFailed
)

// Scan handles every debugging job once. A failure on one job is logged and
// retried on the next scan; it never stops the others.
func (mon *Monitor) Scan(ctx context.Context) (ScanReport, error) {
	ctx, span := observability.Tracer().Start(ctx, "debug.scan")
	defer span.End()

	debugging := true
	jobs, err := mon.manager.store.QueryJobs(ctx, store.JobFilter{
		Kinds:       []store.JobKind{store.KindBuild, store.KindTest},
		DebugStatus: &debugging,
	})
	if err != nil {
		return ScanReport{}, fmt.Errorf("failed to query debugging jobs: %w", err)
	}
	span.SetAttributes(attribute.Int("jobs", len(jobs)))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		report = ScanReport{Scanned: len(jobs)}
		sem    = make(chan struct{}, mon.cfg.Concurrency)
	)
	for _, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return report, ctx.Err()
		}

		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			res := mon.check(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeReminded:
				report.Reminded++
			case outcomeReclaimed:
				report.Reclaimed++
			case outcomeFailed:
				report.Failed++
			}
		}(job.ID)
	}
	wg.Wait()
	return report, nil
}

func (mon *Monitor) check(ctx context.Context, id int64) outcome {
	ctx, span := observability.Tracer().Start(ctx, "debug.check",
		trace.WithAttributes(attribute.Int64("job_id", id)))
	defer span.End()

	m := mon.manager
	unlock := m.lock(id)
	defer unlock()

	// Reload under the lock; a renew or reclaim may have run since the query.
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			slog.WarnContext(ctx, "failed to load debugging job", "job_id", id, "error", err)
			return outcomeFailed
		}
		return outcomeNone
	}
	if !job.Debugging() {
		return outcomeNone
	}

	remaining := job.DebugEnd.Sub(m.now())
	if remaining <= 0 {
		if _, err := m.reclaim(ctx, id, "expired"); err != nil {
			slog.WarnContext(ctx, "failed to reclaim expired debug session", "job_id", id, "error", err)
			return outcomeFailed
		}
		return outcomeReclaimed
	}

	threshold := due(remaining, job.DebugWarned)
	if threshold == 0 {
		return outcomeNone
	}

	err = mon.remind(ctx, job, threshold)
	observability.RecordReminder(ctx, threshold, err)
	if err != nil {
		slog.WarnContext(ctx, "failed to send debug reminder", "job_id", id, "threshold_hours", threshold, "error", err)
		return outcomeFailed
	}

	if _, err := m.store.UpsertJob(ctx, id, store.JobPatch{DebugWarned: &threshold}); err != nil {
		slog.WarnContext(ctx, "failed to record debug reminder", "job_id", id, "threshold_hours", threshold, "error", err)
		return outcomeFailed
	}
	return outcomeReminded
}

func (mon *Monitor) remind(ctx context.Context, job *store.Job, hours int) error {
	owner, err := store.OwnerOf(ctx, mon.manager.store, job)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	user := ""
	if owner != nil {
		user = owner.Name
	}

	unit := "hours"
	if hours == 1 {
		unit = "hour"
	}
	subject := fmt.Sprintf("Debug session of %s job %d expires in %d %s", job.Kind, job.ID, hours, unit)
	body := fmt.Sprintf("The nodes of %s job %d will be reclaimed at %s.\nRenew with: GET %s/api/%s/%d/renew/2h?user=%s",
		job.Kind, job.ID, job.DebugEnd.UTC().Format(time.RFC3339),
		mon.cfg.APIURL, job.Kind.Spec().Name, job.ID, user)

	if err := mon.notifier.Notify(ctx, user, subject, body); err != nil {
		return apperr.Transient("notify "+user, err)
	}
	return nil
}
