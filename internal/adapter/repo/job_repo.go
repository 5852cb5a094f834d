package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lorekeeper/internal/domain"
)

// JobRepositoryPG persists asset jobs in PostgreSQL.
//
// All status changes go through guarded UPDATEs: the WHERE clause names the
// expected current status, so a stale writer affects zero rows instead of
// clobbering a concurrent transition.
type JobRepositoryPG struct {
	db DBTX
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db DBTX) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

const jobColumns = `
id, world_id, job_type, asset_type, provider, model_id, status, priority,
requested_by, input_digest, prompt_spec, error_code, error_message,
created_at, started_at, finished_at`

// Insert tries to create the job. It reports false without error when a job
// with the same (world_id, provider, model_id, input_digest) already exists;
// the caller decides what the duplicate means.
func (r *JobRepositoryPG) Insert(ctx context.Context, job *domain.Job) (bool, error) {
	query := `
INSERT INTO asset_jobs (id, world_id, job_type, asset_type, provider, model_id, status, priority, requested_by, input_digest, prompt_spec)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (world_id, provider, model_id, input_digest) DO NOTHING
RETURNING created_at;
`
	err := r.db.QueryRow(ctx, query,
		job.ID,
		job.WorldID,
		job.Type,
		job.AssetType,
		job.Provider,
		job.ModelID,
		job.Status,
		job.Priority,
		job.RequestedBy,
		job.InputDigest,
		job.PromptSpec,
	).Scan(&job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM asset_jobs WHERE id = $1;`, jobID)
	return scanJob(row)
}

// GetByDigest fetches the job matching the idempotency key.
func (r *JobRepositoryPG) GetByDigest(ctx context.Context, worldID uuid.UUID, provider, modelID, digest string) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, `
SELECT `+jobColumns+`
FROM asset_jobs
WHERE world_id = $1 AND provider = $2 AND model_id = $3 AND input_digest = $4;
`, worldID, provider, modelID, digest)
	return scanJob(row)
}

// ListByWorld returns jobs for a world, newest first. An empty status list
// means no status filter.
func (r *JobRepositoryPG) ListByWorld(ctx context.Context, worldID uuid.UUID, statuses []domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	rows, err := r.db.Query(ctx, `
SELECT `+jobColumns+`
FROM asset_jobs
WHERE world_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
ORDER BY created_at DESC
LIMIT $3;
`, worldID, filter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Claim moves a QUEUED job to RUNNING and stamps started_at. Reports false
// when the job is no longer QUEUED.
func (r *JobRepositoryPG) Claim(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
UPDATE asset_jobs
SET status = $2, started_at = NOW(), error_code = '', error_message = ''
WHERE id = $1 AND status = $3;
`, jobID, domain.JobStatusRunning, domain.JobStatusQueued)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Requeue moves a RUNNING job back to QUEUED after a transient failure,
// keeping the error visible while the broker redelivers.
func (r *JobRepositoryPG) Requeue(ctx context.Context, jobID uuid.UUID, errCode, errMsg string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
UPDATE asset_jobs
SET status = $2, queued_at = NOW(), started_at = NULL, error_code = $4, error_message = $5
WHERE id = $1 AND status = $3;
`, jobID, domain.JobStatusQueued, domain.JobStatusRunning, errCode, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Succeed moves a RUNNING job to SUCCEEDED and stamps finished_at.
func (r *JobRepositoryPG) Succeed(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
UPDATE asset_jobs
SET status = $2, finished_at = NOW(), error_code = '', error_message = ''
WHERE id = $1 AND status = $3;
`, jobID, domain.JobStatusSucceeded, domain.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Fail moves a RUNNING job to FAILED with the permanent error recorded.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID uuid.UUID, errCode, errMsg string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
UPDATE asset_jobs
SET status = $2, finished_at = NOW(), error_code = $4, error_message = $5
WHERE id = $1 AND status = $3;
`, jobID, domain.JobStatusFailed, domain.JobStatusRunning, errCode, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel moves a QUEUED job to CANCELLED. RUNNING jobs cannot be cancelled;
// the in-flight attempt owns them until it finishes.
func (r *JobRepositoryPG) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
UPDATE asset_jobs
SET status = $2, finished_at = NOW()
WHERE id = $1 AND status = $3;
`, jobID, domain.JobStatusCancelled, domain.JobStatusQueued)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResetFailed reopens a FAILED job for the resubmission path: same inputs,
// same digest, fresh QUEUED attempt.
func (r *JobRepositoryPG) ResetFailed(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
UPDATE asset_jobs
SET status = $2, queued_at = NOW(), started_at = NULL, finished_at = NULL, error_code = '', error_message = ''
WHERE id = $1 AND status = $3;
`, jobID, domain.JobStatusQueued, domain.JobStatusFailed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListStuckQueued returns jobs that have sat QUEUED longer than the cutoff
// since they last entered that status. These are jobs whose broker message
// was lost (publish failed after commit, or the stream was flushed); the
// sweeper republishes them. The cutoff runs on queued_at, not created_at, so
// a job requeued after a transient failure restarts its grace period instead
// of being republished by every sweep while its message is still pending.
func (r *JobRepositoryPG) ListStuckQueued(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
SELECT `+jobColumns+`
FROM asset_jobs
WHERE status = $1 AND queued_at < NOW() - $2::interval
ORDER BY queued_at ASC
LIMIT $3;
`, domain.JobStatusQueued, olderThan.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.WorldID,
		&job.Type,
		&job.AssetType,
		&job.Provider,
		&job.ModelID,
		&job.Status,
		&job.Priority,
		&job.RequestedBy,
		&job.InputDigest,
		&job.PromptSpec,
		&job.ErrorCode,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}
