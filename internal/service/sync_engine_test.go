package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/vipul43/mailsync/internal/events"
	"github.com/vipul43/mailsync/internal/models"
)

type engineFixture struct {
	accounts  *fakeAccountStore
	messages  *fakeMessageStore
	logs      *fakeSyncLogStore
	provider  *mockMailProvider
	tokens    *mockTokenSource
	publisher *recordingPublisher
	engine    *SyncEngine
}

func newEngineFixture(account *models.MailboxAccount, existing ...models.Message) *engineFixture {
	f := &engineFixture{
		accounts:  newFakeAccountStore(account),
		messages:  newFakeMessageStore(existing...),
		logs:      &fakeSyncLogStore{},
		provider:  &mockMailProvider{},
		tokens:    &mockTokenSource{},
		publisher: &recordingPublisher{},
	}
	f.engine = NewSyncEngine(f.accounts, f.messages, f.logs, f.provider, f.tokens, f.publisher)
	return f
}

func testAccount(cursor string) *models.MailboxAccount {
	account := &models.MailboxAccount{
		ID:           "acc-1",
		UserID:       "user-1",
		EmailAddress: "me@example.com",
		SyncEnabled:  true,
		IsActive:     true,
	}
	if cursor != "" {
		account.SyncHistoryID = strPtr(cursor)
	}
	return account
}

func messageIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%03d", i)
	}
	return ids
}

func TestSyncEngine_AccountNotFoundWritesNoLog(t *testing.T) {
	f := newEngineFixture(testAccount(""))

	_, err := f.engine.SyncAccount(context.Background(), "missing", models.SyncTypeFull, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(f.logs.created) != 0 {
		t.Errorf("expected no sync log, got %d", len(f.logs.created))
	}
}

func TestSyncEngine_FullSyncFetchesInBatches(t *testing.T) {
	f := newEngineFixture(testAccount(""))
	ids := messageIDs(120)

	f.provider.listMessageIDsFunc = func(ctx context.Context, accessToken, labelID string, maxResults int) ([]string, error) {
		if labelID != models.LabelInbox {
			t.Errorf("expected INBOX listing, got %q", labelID)
		}
		if maxResults != DefaultMaxResults {
			t.Errorf("expected default max results, got %d", maxResults)
		}
		return ids, nil
	}
	f.provider.getMessageFunc = func(ctx context.Context, accessToken, messageID string) (*ProviderMessage, error) {
		return &ProviderMessage{ID: messageID, HistoryID: "9000", LabelIDs: []string{"INBOX"}}, nil
	}

	syncLog, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeFull, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !slices.Equal(f.messages.batchSizes, []int{50, 50, 20}) {
		t.Errorf("expected batches of 50/50/20, got %v", f.messages.batchSizes)
	}
	if f.accounts.extendCalls != 2 {
		t.Errorf("expected the lease to be extended before batches 2 and 3, got %d extensions", f.accounts.extendCalls)
	}
	if syncLog.Status != models.SyncStatusSuccess || syncLog.MessagesProcessed != 120 {
		t.Errorf("expected success with 120 messages, got %s with %d", syncLog.Status, syncLog.MessagesProcessed)
	}
	if got := f.accounts.cursor("acc-1"); got != "9000" {
		t.Errorf("expected cursor 9000, got %q", got)
	}
	if _, ok := f.accounts.synced["acc-1"]; !ok {
		t.Error("expected last sync time to be recorded")
	}
	if owner := f.accounts.leaseOwner("acc-1"); owner != "" {
		t.Errorf("expected lease to be released, held by %q", owner)
	}
	if types := f.publisher.types(); !slices.Equal(types, []events.Type{events.SyncCompleted}) {
		t.Errorf("expected one sync.completed event, got %v", types)
	}
}

func TestSyncEngine_FullSyncSkipsFailedFetches(t *testing.T) {
	f := newEngineFixture(testAccount(""))

	f.provider.listMessageIDsFunc = func(ctx context.Context, accessToken, labelID string, maxResults int) ([]string, error) {
		return []string{"m1", "m2", "m3"}, nil
	}
	f.provider.getMessageFunc = func(ctx context.Context, accessToken, messageID string) (*ProviderMessage, error) {
		if messageID == "m2" {
			return nil, errors.New("boom")
		}
		return &ProviderMessage{ID: messageID, HistoryID: "77"}, nil
	}

	syncLog, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeFull, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if syncLog.MessagesProcessed != 2 {
		t.Errorf("expected 2 messages processed, got %d", syncLog.MessagesProcessed)
	}
	if _, ok := f.messages.get("m2"); ok {
		t.Error("expected m2 to be skipped")
	}
}

func TestSyncEngine_FullSyncKeepsCursorWhenNewestCannotBeRead(t *testing.T) {
	f := newEngineFixture(testAccount("10"))

	f.provider.listMessageIDsFunc = func(ctx context.Context, accessToken, labelID string, maxResults int) ([]string, error) {
		return []string{"m1"}, nil
	}
	calls := 0
	f.provider.getMessageFunc = func(ctx context.Context, accessToken, messageID string) (*ProviderMessage, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("gone")
		}
		return &ProviderMessage{ID: messageID, HistoryID: "55"}, nil
	}

	syncLog, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeFull, 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if syncLog.Status != models.SyncStatusSuccess {
		t.Errorf("expected success, got %s", syncLog.Status)
	}
	if got := f.accounts.cursor("acc-1"); got != "10" {
		t.Errorf("expected cursor to stay at 10, got %q", got)
	}
}

func TestSyncEngine_DeltaWithoutCursorRunsFullSync(t *testing.T) {
	f := newEngineFixture(testAccount(""))

	listed := false
	f.provider.listMessageIDsFunc = func(ctx context.Context, accessToken, labelID string, maxResults int) ([]string, error) {
		listed = true
		return nil, nil
	}
	f.provider.listChangesFunc = func(ctx context.Context, accessToken, cursor string) (*ChangeSet, error) {
		t.Error("expected no history call without a cursor")
		return nil, nil
	}

	if _, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeDelta, 0); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !listed {
		t.Error("expected full listing")
	}
}

func TestSyncEngine_DeltaAppliesChanges(t *testing.T) {
	existing := []models.Message{
		{
			AccountID:         "acc-1",
			ProviderMessageID: "keep",
			Subject:           "Quarterly report",
			BodyText:          "numbers attached",
			Labels:            models.StringList{"INBOX", "UNREAD"},
			IsRead:            false,
		},
		{AccountID: "acc-1", ProviderMessageID: "old"},
	}
	f := newEngineFixture(testAccount("100"), existing...)

	f.provider.listChangesFunc = func(ctx context.Context, accessToken, cursor string) (*ChangeSet, error) {
		if cursor != "100" {
			t.Errorf("expected cursor 100, got %q", cursor)
		}
		return &ChangeSet{
			Added:   []string{"new", "new", "old"},
			Deleted: []string{"old", "never-stored"},
			LabelChanges: []LabelChange{
				{MessageID: "keep", Removed: []string{"UNREAD"}},
				{MessageID: "unknown", Added: []string{"STARRED"}},
				{MessageID: "old", Added: []string{"STARRED"}},
			},
			Cursor: "150",
		}, nil
	}
	var fetched []string
	f.provider.getMessageFunc = func(ctx context.Context, accessToken, messageID string) (*ProviderMessage, error) {
		fetched = append(fetched, messageID)
		return &ProviderMessage{ID: messageID, LabelIDs: []string{"INBOX"}}, nil
	}

	syncLog, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeDelta, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !slices.Equal(fetched, []string{"new"}) {
		t.Errorf("expected only 'new' to be fetched, got %v", fetched)
	}
	if _, ok := f.messages.get("new"); !ok {
		t.Error("expected new message to be stored")
	}
	if _, ok := f.messages.get("old"); ok {
		t.Error("expected old message to be deleted")
	}
	keep, _ := f.messages.get("keep")
	if !keep.IsRead || keep.HasLabel("UNREAD") {
		t.Errorf("expected keep to be marked read, got %+v", keep)
	}
	if keep.Subject != "Quarterly report" || keep.BodyText != "numbers attached" {
		t.Errorf("expected label change to leave subject and body alone, got %q / %q", keep.Subject, keep.BodyText)
	}
	// one upsert, one label patch, one delete that existed
	if syncLog.MessagesProcessed != 3 {
		t.Errorf("expected 3 processed, got %d", syncLog.MessagesProcessed)
	}
	if got := f.accounts.cursor("acc-1"); got != "150" {
		t.Errorf("expected cursor 150, got %q", got)
	}
	if syncLog.SyncType != models.SyncTypeDelta {
		t.Errorf("expected delta log, got %s", syncLog.SyncType)
	}
}

func TestSyncEngine_ExpiredCursorFallsBackToFullSync(t *testing.T) {
	f := newEngineFixture(testAccount("1"))

	f.provider.listChangesFunc = func(ctx context.Context, accessToken, cursor string) (*ChangeSet, error) {
		return nil, fmt.Errorf("history: %w", ErrCursorExpired)
	}
	f.provider.listMessageIDsFunc = func(ctx context.Context, accessToken, labelID string, maxResults int) ([]string, error) {
		return []string{"m1"}, nil
	}
	f.provider.getMessageFunc = func(ctx context.Context, accessToken, messageID string) (*ProviderMessage, error) {
		return &ProviderMessage{ID: messageID, HistoryID: "500"}, nil
	}

	syncLog, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeDelta, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if syncLog.Status != models.SyncStatusSuccess || syncLog.MessagesProcessed != 1 {
		t.Errorf("expected success with 1 message, got %s with %d", syncLog.Status, syncLog.MessagesProcessed)
	}
	if got := f.accounts.cursor("acc-1"); got != "500" {
		t.Errorf("expected cursor 500, got %q", got)
	}
}

func TestSyncEngine_ProviderFailureFinalizesFailedLog(t *testing.T) {
	f := newEngineFixture(testAccount(""))

	f.provider.listMessageIDsFunc = func(ctx context.Context, accessToken, labelID string, maxResults int) ([]string, error) {
		return nil, &ProviderTransientError{Op: "list", StatusCode: 503, Err: errors.New("unavailable")}
	}

	syncLog, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeFull, 0)
	if !IsTransient(err) {
		t.Fatalf("expected transient provider error, got %v", err)
	}
	if len(f.logs.finished) != 1 {
		t.Fatalf("expected log to be finalized once, got %d", len(f.logs.finished))
	}
	finished := f.logs.finished[0]
	if finished.Status != models.SyncStatusFailed || len(finished.Errors) != 1 || finished.CompletedAt == nil {
		t.Errorf("expected failed log with one error, got %+v", finished)
	}
	if syncLog.ID != "log-1" {
		t.Errorf("expected log to be returned, got %q", syncLog.ID)
	}
	if _, ok := f.accounts.synced["acc-1"]; ok {
		t.Error("expected last sync time to be left alone")
	}
	if owner := f.accounts.leaseOwner("acc-1"); owner != "" {
		t.Errorf("expected lease to be released, held by %q", owner)
	}
	if types := f.publisher.types(); !slices.Equal(types, []events.Type{events.SyncFailed}) {
		t.Errorf("expected one sync.failed event, got %v", types)
	}
}

func TestSyncEngine_RevokedTokenDisablesSync(t *testing.T) {
	f := newEngineFixture(testAccount("1"))
	f.tokens.ensureFunc = func(ctx context.Context, account *models.MailboxAccount) (string, error) {
		return "", &RefreshFailedError{AccountID: account.ID, Err: ErrTokenRevoked}
	}

	_, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeDelta, 0)
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	if _, ok := f.accounts.disabled["acc-1"]; !ok {
		t.Error("expected sync to be disabled")
	}
	types := f.publisher.types()
	if !slices.Contains(types, events.AccountDisabled) || !slices.Contains(types, events.SyncFailed) {
		t.Errorf("expected account.disabled and sync.failed events, got %v", types)
	}
}

func TestSyncEngine_TransientRefreshFailureKeepsSyncEnabled(t *testing.T) {
	f := newEngineFixture(testAccount("1"))
	f.tokens.ensureFunc = func(ctx context.Context, account *models.MailboxAccount) (string, error) {
		return "", &RefreshFailedError{AccountID: account.ID, Err: errors.New("timeout")}
	}

	if _, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeDelta, 0); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(f.accounts.disabled) != 0 {
		t.Errorf("expected sync to stay enabled, got %v", f.accounts.disabled)
	}
}

func TestSyncEngine_MissingCredentialsKeepSyncEnabled(t *testing.T) {
	f := newEngineFixture(testAccount("1"))
	f.tokens.ensureFunc = func(ctx context.Context, account *models.MailboxAccount) (string, error) {
		return "", fmt.Errorf("access token expired and no refresh token stored: %w", ErrNoCredentials)
	}

	_, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeDelta, 0)
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if len(f.accounts.disabled) != 0 {
		t.Errorf("expected sync to stay enabled, got %v", f.accounts.disabled)
	}
}

func TestSyncEngine_RejectsOverlappingSync(t *testing.T) {
	f := newEngineFixture(testAccount("1"))
	f.accounts.leased["acc-1"] = "other-sync"

	_, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeDelta, 0)
	if !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	if len(f.logs.created) != 0 {
		t.Errorf("expected no sync log, got %d", len(f.logs.created))
	}
	if owner := f.accounts.leaseOwner("acc-1"); owner != "other-sync" {
		t.Errorf("expected the other holder's lease to stay, got %q", owner)
	}
}

func TestSyncEngine_StopsWhenLeaseIsTakenOver(t *testing.T) {
	f := newEngineFixture(testAccount(""))
	ids := messageIDs(120)

	f.provider.listMessageIDsFunc = func(ctx context.Context, accessToken, labelID string, maxResults int) ([]string, error) {
		return ids, nil
	}
	f.provider.getMessageFunc = func(ctx context.Context, accessToken, messageID string) (*ProviderMessage, error) {
		if messageID == ids[0] {
			f.accounts.takeOver("acc-1", "other-sync")
		}
		return &ProviderMessage{ID: messageID, HistoryID: "9000"}, nil
	}

	syncLog, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeFull, 0)
	if !errors.Is(err, ErrSyncLeaseLost) {
		t.Fatalf("expected ErrSyncLeaseLost, got %v", err)
	}
	if !slices.Equal(f.messages.batchSizes, []int{50}) {
		t.Errorf("expected only the first batch to be stored, got %v", f.messages.batchSizes)
	}
	if syncLog.Status != models.SyncStatusFailed {
		t.Errorf("expected failed log, got %s", syncLog.Status)
	}
	if got := f.accounts.cursor("acc-1"); got != "" {
		t.Errorf("expected cursor to stay unset, got %q", got)
	}
	if owner := f.accounts.leaseOwner("acc-1"); owner != "other-sync" {
		t.Errorf("expected the new holder's lease to survive, got %q", owner)
	}
}

func TestSyncEngine_UsesInjectedClock(t *testing.T) {
	f := newEngineFixture(testAccount("1"))
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return now }

	syncLog, err := f.engine.SyncAccount(context.Background(), "acc-1", models.SyncTypeDelta, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !syncLog.StartedAt.Equal(now) || !f.accounts.synced["acc-1"].Equal(now) {
		t.Errorf("expected timestamps from injected clock, got %v / %v", syncLog.StartedAt, f.accounts.synced["acc-1"])
	}
}
