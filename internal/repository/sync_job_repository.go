package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/mailsync/internal/models"
)

const syncJobColumns = `id, account_id, sync_type, triggered_by, status, attempts,
		       last_error, sync_log_id, created_at, updated_at, processed_at`

type SyncJobRepository struct {
	db *sql.DB
}

func NewSyncJobRepository(db *sql.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Enqueue returns the pending job for the account and sync type, creating one if none is waiting.
func (r *SyncJobRepository) Enqueue(ctx context.Context, accountID string, syncType models.SyncType, trigger models.SyncTrigger) (*models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE account_id = $1 AND sync_type = $2 AND status = $3
		ORDER BY created_at ASC
		LIMIT 1
	`

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query, accountID, syncType, models.SyncJobPending))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	job = &models.SyncJob{
		ID:        uuid.New().String(),
		AccountID: accountID,
		SyncType:  syncType,
		Trigger:   trigger,
		Status:    models.SyncJobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Create(ctx, *job); err != nil {
		return nil, err
	}
	return job, nil
}

// Create creates a new sync job
func (r *SyncJobRepository) Create(ctx context.Context, job models.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (
			id, account_id, sync_type, triggered_by,
			status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.AccountID,
		job.SyncType,
		job.Trigger,
		job.Status,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}

	return nil
}

// GetByID retrieves a sync job by ID
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE id = $1
	`
	return r.scanJob(r.db.QueryRowContext(ctx, query, jobID))
}

// GetPendingJobs retrieves pending jobs, oldest first
func (r *SyncJobRepository) GetPendingJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, models.SyncJobPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// GetRetryableJobs retrieves failed jobs that still have attempts left
func (r *SyncJobRepository) GetRetryableJobs(ctx context.Context, maxAttempts int, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE status = $1 AND attempts < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.SyncJobFailed, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// GetStaleProcessingJobs retrieves jobs stuck in processing since before the cutoff (crashed workers)
func (r *SyncJobRepository) GetStaleProcessingJobs(ctx context.Context, updatedBefore time.Time, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.SyncJobProcessing, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// Claim moves a job from the given status to processing and counts the attempt.
// It returns false when another worker changed the job first.
func (r *SyncJobRepository) Claim(ctx context.Context, jobID string, from models.SyncJobStatus) (bool, error) {
	query := `
		UPDATE sync_jobs
		SET status = $1, attempts = attempts + 1, updated_at = $2, processed_at = NULL
		WHERE id = $3 AND status = $4
	`

	res, err := r.db.ExecContext(ctx, query, models.SyncJobProcessing, time.Now().UTC(), jobID, from)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return n == 1, nil
}

// UpdateStatus updates the job status
// Completed and failed jobs get processed_at; a nil syncLogID keeps the stored one
func (r *SyncJobRepository) UpdateStatus(ctx context.Context, jobID string, status models.SyncJobStatus, lastError *string, syncLogID *string) error {
	query := `
		UPDATE sync_jobs
		SET status = $1, last_error = $2, sync_log_id = COALESCE($3, sync_log_id),
		    updated_at = $4, processed_at = $5
		WHERE id = $6
	`

	now := time.Now().UTC()
	var processedAt *time.Time
	if status == models.SyncJobCompleted || status == models.SyncJobFailed {
		processedAt = &now
	}

	_, err := r.db.ExecContext(ctx, query, status, lastError, syncLogID, now, processedAt, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SyncJobRepository) scanJob(row rowScanner) (*models.SyncJob, error) {
	var job models.SyncJob
	err := row.Scan(
		&job.ID,
		&job.AccountID,
		&job.SyncType,
		&job.Trigger,
		&job.Status,
		&job.Attempts,
		&job.LastError,
		&job.SyncLogID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return &job, nil
}

// scanJobs scans database rows into SyncJob slice
func (r *SyncJobRepository) scanJobs(rows *sql.Rows) ([]models.SyncJob, error) {
	var jobs []models.SyncJob

	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return jobs, nil
}
