package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/mailsync/internal/events"
	"github.com/vipul43/mailsync/internal/models"
)

const (
	DefaultMaxResults = 500 // IDs listed by a full sync
	FetchBatchSize    = 50  // messages fetched concurrently and upserted together
	SyncLeaseTTL      = 15 * time.Minute
)

// SyncEngine mirrors a provider mailbox into the message store.
type SyncEngine struct {
	accounts  AccountStore
	messages  MessageStore
	syncLogs  SyncLogStore
	provider  MailProvider
	tokens    AccessTokenSource
	publisher EventPublisher
	now       func() time.Time
}

func NewSyncEngine(
	accounts AccountStore,
	messages MessageStore,
	syncLogs SyncLogStore,
	provider MailProvider,
	tokens AccessTokenSource,
	publisher EventPublisher,
) *SyncEngine {
	return &SyncEngine{
		accounts:  accounts,
		messages:  messages,
		syncLogs:  syncLogs,
		provider:  provider,
		tokens:    tokens,
		publisher: publisher,
		now:       time.Now,
	}
}

// SyncAccount runs one full or delta sync for the account and returns its finalized log.
// It fails with ErrNotFound before any log is written when the account does not exist, and with
// ErrSyncInProgress when another sync holds the account's lease.
func (e *SyncEngine) SyncAccount(ctx context.Context, accountID string, syncType models.SyncType, maxResults int) (*models.SyncLog, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}

	owner, acquired, err := e.accounts.AcquireSyncLease(ctx, accountID, SyncLeaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrSyncInProgress
	}
	lease := &syncLease{accountID: accountID, owner: owner}
	defer func() {
		if err := e.accounts.ReleaseSyncLease(context.WithoutCancel(ctx), accountID, owner); err != nil {
			log.Error().Err(err).Str("account_id", accountID).Msg("failed to release sync lease")
		}
	}()

	syncLog := &models.SyncLog{
		AccountID: accountID,
		SyncType:  syncType,
		Status:    models.SyncStatusRunning,
		StartedAt: e.now().UTC(),
	}
	if err := e.syncLogs.Create(ctx, syncLog); err != nil {
		return nil, fmt.Errorf("failed to create sync log: %w", err)
	}

	logger := log.With().
		Str("account_id", accountID).
		Str("sync_log_id", syncLog.ID).
		Str("sync_type", string(syncType)).
		Logger()
	logger.Info().Msg("sync started")

	processed, runErr := e.run(ctx, account, lease, syncType, maxResults, &logger)
	e.finish(ctx, syncLog, processed, runErr, &logger)
	if runErr != nil {
		return syncLog, runErr
	}

	if err := e.accounts.MarkSynced(context.WithoutCancel(ctx), accountID, e.now().UTC()); err != nil {
		logger.Error().Err(err).Msg("failed to record last sync time")
	}
	return syncLog, nil
}

func (e *SyncEngine) run(ctx context.Context, account *models.MailboxAccount, lease *syncLease, syncType models.SyncType, maxResults int, logger *zerolog.Logger) (int, error) {
	token, err := e.tokens.EnsureFreshToken(ctx, account)
	if err != nil {
		var refreshErr *RefreshFailedError
		if errors.As(err, &refreshErr) && refreshErr.Permanent() {
			e.disableSync(ctx, account, err, logger)
		}
		return 0, err
	}

	if syncType == models.SyncTypeFull {
		return e.fullSync(ctx, account, lease, token, maxResults, logger)
	}

	if account.Cursor() == "" {
		logger.Info().Msg("no sync cursor stored, running full sync")
		return e.fullSync(ctx, account, lease, token, maxResults, logger)
	}

	processed, err := e.deltaSync(ctx, account, lease, token, logger)
	if errors.Is(err, ErrCursorExpired) {
		logger.Warn().Str("cursor", account.Cursor()).Msg("sync cursor expired, falling back to full sync")
		return e.fullSync(ctx, account, lease, token, maxResults, logger)
	}
	return processed, err
}

func (e *SyncEngine) fullSync(ctx context.Context, account *models.MailboxAccount, lease *syncLease, token string, maxResults int, logger *zerolog.Logger) (int, error) {
	ids, err := e.provider.ListMessageIDs(ctx, token, models.LabelInbox, maxResults)
	if err != nil {
		return 0, fmt.Errorf("failed to list messages: %w", err)
	}
	logger.Info().Int("listed", len(ids)).Msg("full sync listed messages")

	stored, err := e.fetchAndStore(ctx, lease, token, ids, logger)
	if err != nil {
		return stored, err
	}

	if len(ids) == 0 {
		return stored, nil
	}

	// The first listed message is the newest; its history ID becomes the delta cursor.
	newest, err := e.provider.GetMessage(ctx, token, ids[0])
	if err != nil {
		logger.Warn().Err(err).Str("message_id", ids[0]).Msg("could not read history cursor, keeping previous cursor")
		return stored, nil
	}
	if newest.HistoryID == "" {
		return stored, nil
	}
	if err := e.accounts.UpdateSyncCursor(ctx, account.ID, newest.HistoryID); err != nil {
		return stored, err
	}
	cursor := newest.HistoryID
	account.SyncHistoryID = &cursor

	return stored, nil
}

func (e *SyncEngine) deltaSync(ctx context.Context, account *models.MailboxAccount, lease *syncLease, token string, logger *zerolog.Logger) (int, error) {
	changes, err := e.provider.ListChanges(ctx, token, account.Cursor())
	if err != nil {
		return 0, fmt.Errorf("failed to list changes: %w", err)
	}

	deleted := uniqueIDs(changes.Deleted, nil)
	gone := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
	}
	added := uniqueIDs(changes.Added, gone)

	logger.Info().
		Int("added", len(added)).
		Int("deleted", len(deleted)).
		Int("label_changes", len(changes.LabelChanges)).
		Msg("delta sync listed changes")

	processed, err := e.fetchAndStore(ctx, lease, token, added, logger)
	if err != nil {
		return processed, err
	}

	for _, change := range changes.LabelChanges {
		if gone[change.MessageID] {
			continue
		}
		msg, err := e.messages.GetByProviderID(ctx, account.ID, change.MessageID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return processed, err
		}
		msg.ApplyLabelChanges(change.Added, change.Removed)
		if err := e.messages.UpdateLabelState(ctx, msg); err != nil {
			return processed, err
		}
		processed++
	}

	for _, id := range deleted {
		existed, err := e.messages.DeleteByProviderID(ctx, account.ID, id)
		if err != nil {
			return processed, err
		}
		if existed {
			processed++
		}
	}

	if changes.Cursor != "" {
		if err := e.accounts.UpdateSyncCursor(ctx, account.ID, changes.Cursor); err != nil {
			return processed, err
		}
		cursor := changes.Cursor
		account.SyncHistoryID = &cursor
	}

	return processed, nil
}

// fetchAndStore fetches messages batch by batch and upserts the ones that could be fetched.
// A message that fails to fetch is skipped; a store failure aborts the sync. The lease is
// extended before every batch after the first.
func (e *SyncEngine) fetchAndStore(ctx context.Context, lease *syncLease, token string, ids []string, logger *zerolog.Logger) (int, error) {
	accountID := lease.accountID
	stored := 0
	for start := 0; start < len(ids); start += FetchBatchSize {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		if start > 0 {
			if err := e.extendLease(ctx, lease); err != nil {
				return stored, err
			}
		}

		end := min(start+FetchBatchSize, len(ids))
		fetched := e.fetchBatch(ctx, token, ids[start:end], logger)
		if len(fetched) == 0 {
			continue
		}

		rows := make([]models.Message, 0, len(fetched))
		for _, msg := range fetched {
			rows = append(rows, TransformMessage(accountID, msg))
		}
		if err := e.messages.Upsert(ctx, rows); err != nil {
			return stored, err
		}
		stored += len(rows)
	}
	return stored, nil
}

// syncLease identifies the lease held by one running sync.
type syncLease struct {
	accountID string
	owner     string
}

func (e *SyncEngine) extendLease(ctx context.Context, lease *syncLease) error {
	held, err := e.accounts.ExtendSyncLease(ctx, lease.accountID, lease.owner, SyncLeaseTTL)
	if err != nil {
		return err
	}
	if !held {
		return ErrSyncLeaseLost
	}
	return nil
}

func (e *SyncEngine) fetchBatch(ctx context.Context, token string, ids []string, logger *zerolog.Logger) []*ProviderMessage {
	results := make([]*ProviderMessage, len(ids))

	var g errgroup.Group
	g.SetLimit(FetchBatchSize)
	for i, id := range ids {
		g.Go(func() error {
			msg, err := e.provider.GetMessage(ctx, token, id)
			if err != nil {
				logger.Warn().Err(err).Str("message_id", id).Msg("skipping message that failed to fetch")
				return nil
			}
			results[i] = msg
			return nil
		})
	}
	_ = g.Wait()

	fetched := make([]*ProviderMessage, 0, len(results))
	for _, msg := range results {
		if msg != nil {
			fetched = append(fetched, msg)
		}
	}
	return fetched
}

func (e *SyncEngine) finish(ctx context.Context, syncLog *models.SyncLog, processed int, runErr error, logger *zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	completedAt := e.now().UTC()
	syncLog.CompletedAt = &completedAt
	syncLog.MessagesProcessed = processed

	event := events.New(events.SyncCompleted, syncLog.AccountID, syncLog.ID)
	event.Count = processed

	if runErr != nil {
		syncLog.Status = models.SyncStatusFailed
		syncLog.Errors = models.StringList{runErr.Error()}
		event.Type = events.SyncFailed
		event.Detail = runErr.Error()
		logger.Error().Err(runErr).Int("processed", processed).Msg("sync failed")
	} else {
		syncLog.Status = models.SyncStatusSuccess
		logger.Info().Int("processed", processed).Dur("took", completedAt.Sub(syncLog.StartedAt)).Msg("sync completed")
	}

	if err := e.syncLogs.Finish(ctx, syncLog); err != nil {
		logger.Error().Err(err).Msg("failed to finalize sync log")
	}
	publish(ctx, e.publisher, event)
}

func (e *SyncEngine) disableSync(ctx context.Context, account *models.MailboxAccount, cause error, logger *zerolog.Logger) {
	reason := cause.Error()
	if err := e.accounts.DisableSync(context.WithoutCancel(ctx), account.ID, reason); err != nil {
		logger.Error().Err(err).Msg("failed to disable sync after revoked refresh token")
		return
	}
	account.SyncEnabled = false
	account.SyncDisabledReason = &reason
	logger.Warn().Msg("refresh token rejected, sync disabled until the account is re-linked")

	event := events.New(events.AccountDisabled, account.ID, "")
	event.Detail = reason
	publish(ctx, e.publisher, event)
}

// uniqueIDs drops duplicates and any ID in skip, keeping first-seen order.
func uniqueIDs(ids []string, skip map[string]bool) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] || skip[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
