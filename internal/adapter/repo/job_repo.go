package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository. Status transitions are
// conditional UPDATEs keyed on (id, task_id); a write that matches no row
// reports domain.ErrStaleUpdate so the caller can tell a lost race from a
// database failure.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, type, status, provider, task_id, input_image_url, garment_image_url, result_url, analysis, error_message, retry_state, metadata, created_at, updated_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, user_id, type, status, provider, task_id, input_image_url, garment_image_url, retry_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Type,
		job.Status,
		job.Provider,
		job.TaskID,
		job.InputImageURL,
		job.GarmentImageURL,
		job.RetryState,
		nullableBytes(job.Metadata),
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE id = $1;
`, jobID)
	return scanJob(row)
}

// GetByTaskID fetches the job tracking the given provider task id.
func (r *JobRepositoryPG) GetByTaskID(ctx context.Context, taskID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE task_id = $1;
`, taskID)
	return scanJob(row)
}

// ListByUser returns the user's jobs, newest first.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListProcessing returns in-flight jobs with a known task id that have not
// been touched for olderThan, oldest first.
func (r *JobRepositoryPG) ListProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Job, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := r.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status = 'processing' AND task_id <> '' AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2;
`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// SetSubmitted records the provider and external task id after a successful
// submission.
func (r *JobRepositoryPG) SetSubmitted(ctx context.Context, jobID, provider, taskID string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET provider = $2,
    task_id = $3,
    updated_at = NOW()
WHERE id = $1;
`, jobID, provider, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Complete marks the job completed with its durable result. The condition on
// task_id and a processing status makes replays and superseded-task webhooks
// no-ops at the database level. Metadata is merged key by key, never replaced
// wholesale, so recorded fallback lineage survives the final snapshot.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID, taskID, resultURL, analysis string, metadata json.RawMessage) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = 'completed',
    result_url = $3,
    analysis = $4,
    metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($5::jsonb, '{}'::jsonb),
    error_message = '',
    retry_state = 'terminal',
    updated_at = NOW()
WHERE id = $1 AND task_id = $2 AND status = 'processing';
`, jobID, taskID, resultURL, analysis, nullableBytes(metadata))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleUpdate
	}
	return nil
}

// Fail marks the job failed with the provider's error text.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID, taskID, errMsg string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = 'failed',
    error_message = $3,
    retry_state = 'terminal',
    updated_at = NOW()
WHERE id = $1 AND task_id = $2 AND status = 'processing';
`, jobID, taskID, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleUpdate
	}
	return nil
}

// RecordFallback swaps the job over to the alternate provider's task. The
// retry_state = 'fresh' condition bounds the system to one fallback per job
// no matter how many concurrent failure events race here.
func (r *JobRepositoryPG) RecordFallback(ctx context.Context, jobID, oldTaskID, newTaskID, provider string, metadata json.RawMessage) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET task_id = $3,
    provider = $4,
    status = 'processing',
    error_message = '',
    retry_state = 'fallback_attempted',
    metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($5::jsonb, '{}'::jsonb),
    updated_at = NOW()
WHERE id = $1 AND task_id = $2 AND retry_state = 'fresh';
`, jobID, oldTaskID, newTaskID, provider, nullableBytes(metadata))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleUpdate
	}
	return nil
}

// RefreshMetadata merges the latest provider diagnostic snapshot into the
// metadata bag without touching the lifecycle columns. Keys the snapshot does
// not carry, fallback lineage in particular, stay in place.
func (r *JobRepositoryPG) RefreshMetadata(ctx context.Context, jobID, taskID string, metadata json.RawMessage) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($3::jsonb, '{}'::jsonb),
    updated_at = NOW()
WHERE id = $1 AND task_id = $2;
`, jobID, taskID, nullableBytes(metadata))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleUpdate
	}
	return nil
}

// Delete removes a job, scoped to its owner.
func (r *JobRepositoryPG) Delete(ctx context.Context, jobID, userID string) error {
	tag, err := r.pool.Exec(ctx, `
DELETE FROM jobs
WHERE id = $1 AND user_id = $2;
`, jobID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Type,
		&job.Status,
		&job.Provider,
		&job.TaskID,
		&job.InputImageURL,
		&job.GarmentImageURL,
		&job.ResultURL,
		&job.Analysis,
		&job.ErrorMessage,
		&job.RetryState,
		&job.Metadata,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var items []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
