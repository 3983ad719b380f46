package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"regionwatch/internal/types"
)

// JobRepository persists job records. A job's engine handle is written once by
// Create and is never part of an UPDATE.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a JobRepository backed by the given connection.
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, region_id, group_id, polygon_id, trigger_kind, trigger_key,
	schedule_date_time, output_prefix, state, priority, status, engine_handle,
	status_reason, notified_at, created_at, updated_at`

// Create inserts a new job.
func (r *JobRepository) Create(ctx context.Context, job *types.Job) error {
	if job.EngineHandle == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "job engine handle is required", nil)
	}
	var reason *string
	if job.StatusReason != "" {
		reason = &job.StatusReason
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO jobs (id, region_id, group_id, polygon_id, trigger_kind, trigger_key,
		                   schedule_date_time, output_prefix, state, priority, status,
		                   engine_handle, status_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID,
		job.RegionID,
		job.GroupID,
		job.PolygonID,
		string(job.TriggerKind),
		job.TriggerKey,
		job.ScheduleDateTime,
		job.OutputPrefix,
		job.State,
		string(job.Priority),
		string(job.Status),
		job.EngineHandle,
		reason,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create job", err)
	}
	return nil
}

// GetByID returns the job with the given ID, or ErrCodeUnknownJob.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*types.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeUnknownJob, "job not found", nil,
				map[string]any{"jobId": id})
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get job", err)
	}
	return job, nil
}

// GetByHandle looks a job up by its engine handle. It returns (nil, nil) when
// no job carries the handle.
func (r *JobRepository) GetByHandle(ctx context.Context, handle string) (*types.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE engine_handle = $1`, handle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get job by handle", err)
	}
	return job, nil
}

// CompareAndSetStatus moves a job from one status to another only if its
// current status is still from. It reports whether the row was updated. An
// empty reason leaves any existing reason untouched.
func (r *JobRepository) CompareAndSetStatus(ctx context.Context, jobID string, from, to types.JobStatus, reason string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET status = $3,
		     status_reason = COALESCE(NULLIF($4, ''), status_reason),
		     updated_at = $5
		 WHERE id = $1 AND status = $2`,
		jobID,
		string(from),
		string(to),
		reason,
		at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update job status", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkNotified records that the terminal event for a job was published.
func (r *JobRepository) MarkNotified(ctx context.Context, jobID string, at time.Time) error {
	// Zero rows means another delivery already marked it.
	_, err := r.db.Exec(ctx,
		`UPDATE jobs SET notified_at = $2 WHERE id = $1 AND notified_at IS NULL`,
		jobID,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job notified", err)
	}
	return nil
}

// ListByRegion returns a region's jobs, newest first.
func (r *JobRepository) ListByRegion(ctx context.Context, regionID string, limit int) ([]*types.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE region_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		regionID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list jobs", err)
	}
	return collectJobs(rows)
}

// ListActiveBefore returns submitted or running jobs last updated before the
// given time, oldest first.
func (r *JobRepository) ListActiveBefore(ctx context.Context, before time.Time, limit int) ([]*types.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ('submitted', 'running') AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		before,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active jobs", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*types.Job, error) {
	defer rows.Close()

	jobs := make([]*types.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate jobs", err)
	}
	return jobs, nil
}

// ListTriggerPolygons returns the polygon IDs that already have a job for the
// given trigger. Region-wide jobs appear as the empty string.
func (r *JobRepository) ListTriggerPolygons(ctx context.Context, regionID string, kind types.TriggerKind, key string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT polygon_id FROM jobs
		 WHERE region_id = $1 AND trigger_kind = $2 AND trigger_key = $3`,
		regionID,
		string(kind),
		key,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list trigger jobs", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan trigger job", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate trigger jobs", err)
	}
	return ids, nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var (
		j                      types.Job
		kind, priority, status string
		reason                 *string
	)
	err := row.Scan(
		&j.ID,
		&j.RegionID,
		&j.GroupID,
		&j.PolygonID,
		&kind,
		&j.TriggerKey,
		&j.ScheduleDateTime,
		&j.OutputPrefix,
		&j.State,
		&priority,
		&status,
		&j.EngineHandle,
		&reason,
		&j.NotifiedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.TriggerKind = types.TriggerKind(kind)
	j.Priority = types.Priority(priority)
	j.Status = types.JobStatus(status)
	if reason != nil {
		j.StatusReason = *reason
	}
	return &j, nil
}
