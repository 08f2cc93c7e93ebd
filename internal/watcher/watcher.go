package watcher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/mailsync/internal/config"
	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/service"
)

type SyncJobStore interface {
	GetPendingJobs(ctx context.Context, limit int) ([]models.SyncJob, error)
	GetRetryableJobs(ctx context.Context, maxAttempts int, limit int) ([]models.SyncJob, error)
	GetStaleProcessingJobs(ctx context.Context, updatedBefore time.Time, limit int) ([]models.SyncJob, error)
	Claim(ctx context.Context, jobID string, from models.SyncJobStatus) (bool, error)
	UpdateStatus(ctx context.Context, jobID string, status models.SyncJobStatus, lastError *string, syncLogID *string) error
}

type AccountLister interface {
	ListSyncable(ctx context.Context) ([]models.MailboxAccount, error)
}

type Syncer interface {
	SyncAccount(ctx context.Context, accountID string, syncType models.SyncType, maxResults int) (*models.SyncLog, error)
}

type ActionRunner interface {
	Tick(ctx context.Context) (service.TickResult, error)
}

type SyncLogReaper interface {
	FailStale(ctx context.Context, startedBefore time.Time) (int64, error)
}

type StatePurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Watcher runs the worker's background loops: queued sync jobs, the periodic sync of every
// syncable account, and the scheduled action tick.
type Watcher struct {
	cfg      *config.Config
	jobs     SyncJobStore
	accounts AccountLister
	syncer   Syncer
	actions  ActionRunner
	syncLogs SyncLogReaper
	states   StatePurger
	now      func() time.Time
}

func New(
	cfg *config.Config,
	jobs SyncJobStore,
	accounts AccountLister,
	syncer Syncer,
	actions ActionRunner,
	syncLogs SyncLogReaper,
	states StatePurger,
) *Watcher {
	return &Watcher{
		cfg:      cfg,
		jobs:     jobs,
		accounts: accounts,
		syncer:   syncer,
		actions:  actions,
		syncLogs: syncLogs,
		states:   states,
		now:      time.Now,
	}
}

// Start runs all loops until ctx is cancelled. Each loop handles its own errors; Start only
// returns once every loop has stopped.
func (w *Watcher) Start(ctx context.Context) error {
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Dur("sync_interval", w.cfg.SyncInterval).
		Dur("action_interval", w.cfg.ActionInterval).
		Msg("starting watcher")

	w.reapInterruptedSyncs(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.loop(ctx, "sync jobs", w.cfg.PollInterval, w.processSyncJobs)
		return nil
	})
	g.Go(func() error {
		w.loop(ctx, "periodic sync", w.cfg.SyncInterval, w.syncAllAccounts)
		return nil
	})
	g.Go(func() error {
		w.loop(ctx, "scheduled actions", w.cfg.ActionInterval, w.runDueActions)
		return nil
	})
	_ = g.Wait()

	log.Info().Msg("watcher shut down")
	return ctx.Err()
}

// loop runs fn once immediately and then on every tick. Runs never overlap.
func (w *Watcher) loop(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("loop", name).Msg("loop stopped")
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// reapInterruptedSyncs fails sync logs left running by a worker that died mid-sync.
func (w *Watcher) reapInterruptedSyncs(ctx context.Context) {
	n, err := w.syncLogs.FailStale(ctx, w.now().UTC().Add(-service.SyncLeaseTTL))
	if err != nil {
		log.Error().Err(err).Msg("failed to reap interrupted sync logs")
		return
	}
	if n > 0 {
		log.Warn().Int64("count", n).Msg("marked interrupted sync logs as failed")
	}
}

// syncAllAccounts runs a delta sync for every syncable account, at most SyncConcurrency at a time.
func (w *Watcher) syncAllAccounts(ctx context.Context) {
	if n, err := w.states.DeleteExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to purge expired oauth states")
	} else if n > 0 {
		log.Debug().Int64("count", n).Msg("purged expired oauth states")
	}

	accounts, err := w.accounts.ListSyncable(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list syncable accounts")
		return
	}
	if len(accounts) == 0 {
		return
	}

	log.Info().Int("accounts", len(accounts)).Msg("periodic sync started")

	var g errgroup.Group
	g.SetLimit(w.concurrency())
	for _, account := range accounts {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := w.syncer.SyncAccount(ctx, account.ID, models.SyncTypeDelta, 0)
			if err != nil {
				log.Warn().Err(err).Str("account_id", account.ID).Msg("periodic sync failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Int("accounts", len(accounts)).Msg("periodic sync finished")
}

func (w *Watcher) runDueActions(ctx context.Context) {
	if _, err := w.actions.Tick(ctx); err != nil {
		log.Error().Err(err).Msg("scheduled action tick failed")
	}
}

func (w *Watcher) concurrency() int {
	if w.cfg.SyncConcurrency > 0 {
		return w.cfg.SyncConcurrency
	}
	return 1
}
