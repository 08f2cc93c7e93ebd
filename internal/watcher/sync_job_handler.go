package watcher

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/service"
)

// processSyncJobs picks up pending, retryable failed and stuck processing jobs and runs them
// concurrently.
func (w *Watcher) processSyncJobs(ctx context.Context) {
	limit := w.concurrency()

	pendingJobs, err := w.jobs.GetPendingJobs(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch pending sync jobs")
		return
	}

	failedJobs, err := w.jobs.GetRetryableJobs(ctx, w.cfg.MaxRetries, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch retryable sync jobs")
		return
	}

	// A job processing for longer than the lease TTL belongs to a worker that died.
	staleJobs, err := w.jobs.GetStaleProcessingJobs(ctx, w.now().UTC().Add(-service.SyncLeaseTTL), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch stale sync jobs")
		return
	}

	jobs := append(pendingJobs, failedJobs...)
	jobs = append(jobs, staleJobs...)
	if len(jobs) == 0 {
		return
	}

	log.Info().
		Int("pending", len(pendingJobs)).
		Int("failed", len(failedJobs)).
		Int("stale", len(staleJobs)).
		Msg("found sync jobs to process")

	var g errgroup.Group
	g.SetLimit(limit)
	for _, job := range jobs {
		g.Go(func() error {
			w.processJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Watcher) processJob(ctx context.Context, job models.SyncJob) {
	logger := log.With().
		Str("job_id", job.ID).
		Str("account_id", job.AccountID).
		Str("sync_type", string(job.SyncType)).
		Logger()

	claimed, err := w.jobs.Claim(ctx, job.ID, job.Status)
	if err != nil {
		logger.Error().Err(err).Msg("failed to claim sync job")
		return
	}
	if !claimed {
		logger.Debug().Msg("sync job taken by another worker")
		return
	}

	syncLog, syncErr := w.syncer.SyncAccount(ctx, job.AccountID, job.SyncType, 0)

	var syncLogID *string
	if syncLog != nil && syncLog.ID != "" {
		syncLogID = &syncLog.ID
	}

	// The job outcome must be recorded even when shutdown cancelled the sync.
	ctx = context.WithoutCancel(ctx)

	switch {
	case syncErr == nil:
		if err := w.jobs.UpdateStatus(ctx, job.ID, models.SyncJobCompleted, nil, syncLogID); err != nil {
			logger.Error().Err(err).Msg("failed to mark sync job completed")
			return
		}
		logger.Info().Msg("sync job completed")
	case errors.Is(syncErr, service.ErrSyncInProgress):
		if err := w.jobs.UpdateStatus(ctx, job.ID, models.SyncJobPending, nil, nil); err != nil {
			logger.Error().Err(err).Msg("failed to requeue sync job")
			return
		}
		logger.Info().Msg("account is already syncing, job requeued")
	default:
		msg := syncErr.Error()
		if err := w.jobs.UpdateStatus(ctx, job.ID, models.SyncJobFailed, &msg, syncLogID); err != nil {
			logger.Error().Err(err).Msg("failed to mark sync job failed")
			return
		}
		logger.Warn().Err(syncErr).Int("attempt", job.Attempts+1).Msg("sync job failed")
	}
}
