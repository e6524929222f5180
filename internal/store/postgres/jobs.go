package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cifleet/internal/apperr"
	"cifleet/internal/store"

	"github.com/lib/pq"
)

const jobColumns = `job_id, job_kind, status, start_t, end_t, log_dir, debug_status, debug_end, debug_warned,
	skip_build, unittests, integrations, base_branch, commit_fingerprint, variant, artifact_path, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var (
		job  store.Job
		kind string
	)
	err := row.Scan(
		&job.ID, &kind, &job.Status, &job.StartT, &job.EndT, &job.LogDir,
		&job.DebugStatus, &job.DebugEnd, &job.DebugWarned,
		&job.SkipBuild, &job.UnitTests, &job.Integrations,
		&job.BaseBranch, &job.Fingerprint, &job.Variant, &job.ArtifactPath, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if job.Kind, err = store.ParseJobKind(kind); err != nil {
		return nil, fmt.Errorf("job %d: %w", job.ID, err)
	}
	return &job, nil
}

// UpsertJob inserts the job when a kind is given, merging into an existing
// row on conflict. Without a kind the row must already exist.
// start_t and end_t keep their first recorded value.
func (s *Store) UpsertJob(ctx context.Context, id int64, patch store.JobPatch) (*store.Job, error) {
	fields := []any{
		nullString(patch.Status), nullTime(patch.StartT), nullTime(patch.EndT), nullString(patch.LogDir),
		nullBool(patch.DebugStatus), nullTime(patch.DebugEnd), nullInt64(patch.DebugWarned),
		nullString(patch.SkipBuild), nullString(patch.UnitTests), nullString(patch.Integrations),
		nullString(patch.BaseBranch), nullString(patch.Fingerprint), nullString(patch.Variant),
		nullString(patch.ArtifactPath),
	}

	if patch.Kind == nil {
		query := `
			UPDATE jobs SET
				status = COALESCE($2, status),
				start_t = COALESCE(start_t, $3),
				end_t = COALESCE(end_t, $4),
				log_dir = COALESCE($5, log_dir),
				debug_status = COALESCE($6, debug_status),
				debug_end = COALESCE($7, debug_end),
				debug_warned = COALESCE($8, debug_warned),
				skip_build = COALESCE($9, skip_build),
				unittests = COALESCE($10, unittests),
				integrations = COALESCE($11, integrations),
				base_branch = COALESCE($12, base_branch),
				commit_fingerprint = COALESCE($13, commit_fingerprint),
				variant = COALESCE($14, variant),
				artifact_path = COALESCE($15, artifact_path),
				updated_at = NOW()
			WHERE job_id = $1
			RETURNING ` + jobColumns

		job, err := scanJob(s.db.QueryRowContext(ctx, query, append([]any{id}, fields...)...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Validation("job_kind is required to create job %d", id)
		}
		return job, err
	}

	query := `
		INSERT INTO jobs (job_id, job_kind, status, start_t, end_t, log_dir, debug_status, debug_end, debug_warned,
			skip_build, unittests, integrations, base_branch, commit_fingerprint, variant, artifact_path, updated_at)
		VALUES ($1, $2, COALESCE($3, 'RUNNING'), $4, $5, COALESCE($6, ''), COALESCE($7, FALSE), $8, COALESCE($9, 0),
			COALESCE($10, 'false'), COALESCE($11, ''), COALESCE($12, ''), COALESCE($13, ''), COALESCE($14, ''),
			COALESCE($15, ''), COALESCE($16, ''), NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			status = COALESCE($3, jobs.status),
			start_t = COALESCE(jobs.start_t, $4),
			end_t = COALESCE(jobs.end_t, $5),
			log_dir = COALESCE($6, jobs.log_dir),
			debug_status = COALESCE($7, jobs.debug_status),
			debug_end = COALESCE($8, jobs.debug_end),
			debug_warned = COALESCE($9, jobs.debug_warned),
			skip_build = COALESCE($10, jobs.skip_build),
			unittests = COALESCE($11, jobs.unittests),
			integrations = COALESCE($12, jobs.integrations),
			base_branch = COALESCE($13, jobs.base_branch),
			commit_fingerprint = COALESCE($14, jobs.commit_fingerprint),
			variant = COALESCE($15, jobs.variant),
			artifact_path = COALESCE($16, jobs.artifact_path),
			updated_at = NOW()
		RETURNING ` + jobColumns

	args := append([]any{id, patch.Kind.String()}, fields...)
	return scanJob(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Store) GetJob(ctx context.Context, id int64) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE job_id = $1"

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "job", strconv.FormatInt(id, 10))
	}
	return job, nil
}

// QueryJobs builds an equality WHERE clause from the set filter fields.
func (s *Store) QueryJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Kind != nil {
		add("job_kind = $%d", filter.Kind.String())
	}
	if len(filter.Kinds) > 0 {
		names := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			names[i] = k.String()
		}
		add("job_kind = ANY($%d)", pq.Array(names))
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.DebugStatus != nil {
		add("debug_status = $%d", *filter.DebugStatus)
	}
	if filter.LogDir != nil {
		add("log_dir = $%d", *filter.LogDir)
	}
	if filter.BaseBranch != nil {
		add("base_branch = $%d", *filter.BaseBranch)
	}

	query := "SELECT " + jobColumns + " FROM jobs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_t DESC NULLS LAST, job_id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE job_id = $1", id)
	return err
}

// NextJobID advances the sequence past any explicitly chosen id.
func (s *Store) NextJobID(ctx context.Context) (int64, error) {
	query := `
		SELECT setval('job_id_seq', GREATEST(nextval('job_id_seq'), (SELECT COALESCE(MAX(job_id), 0) + 1 FROM jobs)))
	`
	var id int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocate job id: %w", err)
	}
	return id, nil
}
