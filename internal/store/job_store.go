package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
)

// ErrJobNotFound is returned by GetByID for unknown ids.
var ErrJobNotFound = errors.New("store: job not found")

const jobColumns = `id, job_type, payload, status, priority, attempts, max_attempts,
		       created_at, updated_at, scheduled_for, last_error, retry_after,
		       processed_at, completed_at, worker_id, metadata`

// JobStore is the Postgres-backed queue behind the background worker.
type JobStore struct {
	db *sql.DB
}

// NewJobStore wraps db.
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("store: db cannot be nil")
	}
	return &JobStore{db: db}, nil
}

// Enqueue inserts job as pending unless it already carries a status. ID and
// timestamps are filled in from the inserted row.
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.IsValid(); err != nil {
		return fmt.Errorf("store: invalid job: %w", err)
	}

	query := `
		INSERT INTO jobs (job_type, payload, status, priority, max_attempts, scheduled_for, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	status := models.JobStatusPending
	if job.Status != "" {
		status = job.Status
	}

	err := s.db.QueryRowContext(
		ctx,
		query,
		job.JobType,
		job.Payload,
		status,
		job.Priority,
		job.MaxAttempts,
		job.ScheduledFor,
		job.Metadata,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: enqueue %s job: %w", job.JobType, err)
	}

	job.Status = status
	return nil
}

// HasOpenJob reports whether a job of the given type is pending or processing.
// The scheduler uses it to avoid stacking periodic jobs behind a slow one.
func (s *JobStore) HasOpenJob(ctx context.Context, jobType string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE job_type = $1 AND status IN ('pending', 'processing')
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, jobType).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: check open %s job: %w", jobType, err)
	}
	return exists, nil
}

// GetByID loads one job.
func (s *JobStore) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("store: get job %d: %w", id, err)
	}
	return job, nil
}

// ClaimNextJob atomically claims the next available job for processing.
// It returns nil, nil when the queue is empty.
func (s *JobStore) ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'processing',
		    worker_id = $1,
		    processed_at = NOW(),
		    updated_at = NOW(),
		    attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND (scheduled_for IS NULL OR scheduled_for <= NOW())
			  AND (retry_after IS NULL OR retry_after <= NOW())
			ORDER BY
				CASE priority
					WHEN 'critical' THEN 4
					WHEN 'high' THEN 3
					WHEN 'normal' THEN 2
					WHEN 'low' THEN 1
				END DESC,
				created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, workerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: claim next job: %w", err)
	}
	return job, nil
}

// Job state transitions. Every transition out of processing drops the
// worker claim.
const (
	markCompletedSQL = `
		UPDATE jobs
		SET status = 'completed', completed_at = NOW(), updated_at = NOW(), worker_id = NULL
		WHERE id = $1`
	markFailedSQL = `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = NOW(), worker_id = NULL
		WHERE id = $1`
	scheduleRetrySQL = `
		UPDATE jobs
		SET status = 'pending', last_error = $2, retry_after = $3, updated_at = NOW(), worker_id = NULL
		WHERE id = $1`
	releaseJobSQL = `
		UPDATE jobs
		SET status = 'pending', updated_at = NOW(), worker_id = NULL
		WHERE id = $1 AND status = 'processing'`
)

func (s *JobStore) transition(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: %s job %v: %w", op, args[0], err)
	}
	return nil
}

// MarkCompleted records a successful run.
func (s *JobStore) MarkCompleted(ctx context.Context, id int64) error {
	return s.transition(ctx, "complete", markCompletedSQL, id)
}

// MarkFailed records a terminal failure; the job is not retried.
func (s *JobStore) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	return s.transition(ctx, "fail", markFailedSQL, id, errorMsg)
}

// ScheduleRetry returns the job to pending; it is not claimable before retryAfter.
func (s *JobStore) ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error {
	return s.transition(ctx, "retry", scheduleRetrySQL, id, errorMsg, retryAfter)
}

// ReleaseJob hands a claimed job back to the queue on shutdown.
func (s *JobStore) ReleaseJob(ctx context.Context, id int64) error {
	return s.transition(ctx, "release", releaseJobSQL, id)
}

// GetStats counts jobs per status.
func (s *JobStore) GetStats(ctx context.Context) (*models.JobStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'processing') as processing,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') as cancelled,
			COUNT(*) as total
		FROM jobs
	`

	stats := &models.JobStats{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.Cancelled,
		&stats.Total,
	)
	if err != nil {
		return nil, fmt.Errorf("store: job stats: %w", err)
	}
	return stats, nil
}

// CleanupOldJobs deletes finished jobs last touched before now-olderThan and
// returns how many went.
func (s *JobStore) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < NOW() - INTERVAL '1 second' * $1
	`

	result, err := s.db.ExecContext(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("store: cleanup old jobs: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	job := &models.Job{}
	var payloadJSON, metadataJSON []byte

	err := row.Scan(
		&job.ID,
		&job.JobType,
		&payloadJSON,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ScheduledFor,
		&job.LastError,
		&job.RetryAfter,
		&job.ProcessedAt,
		&job.CompletedAt,
		&job.WorkerID,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(payloadJSON) > 0 {
		job.Payload = make(models.JSONB)
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		job.Metadata = make(models.JSONB)
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return job, nil
}
