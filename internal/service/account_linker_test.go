package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
)

type mockAccountLinkStore struct {
	existing    *models.MailboxAccount
	created     *models.MailboxAccount
	reactivated string
	refreshEnc  *string
}

func (m *mockAccountLinkStore) GetByUserAndEmail(ctx context.Context, userID, email string) (*models.MailboxAccount, error) {
	if m.existing != nil && m.existing.UserID == userID && m.existing.EmailAddress == email {
		copied := *m.existing
		return &copied, nil
	}
	return nil, repository.ErrAccountNotFound
}

func (m *mockAccountLinkStore) Create(ctx context.Context, account *models.MailboxAccount) error {
	account.ID = "acc-new"
	m.created = account
	return nil
}

func (m *mockAccountLinkStore) Reactivate(ctx context.Context, accountID string, accessTokenEnc string, refreshTokenEnc *string, expiresAt *time.Time) error {
	m.reactivated = accountID
	m.refreshEnc = refreshTokenEnc
	return nil
}

type mockSyncJobQueue struct {
	enqueued []models.SyncJob
}

func (m *mockSyncJobQueue) Enqueue(ctx context.Context, accountID string, syncType models.SyncType, trigger models.SyncTrigger) (*models.SyncJob, error) {
	job := models.SyncJob{ID: "job-1", AccountID: accountID, SyncType: syncType, Trigger: trigger, Status: models.SyncJobPending}
	m.enqueued = append(m.enqueued, job)
	return &job, nil
}

type mockMailboxWatcher struct {
	topic string
	err   error
}

func (m *mockMailboxWatcher) Watch(ctx context.Context, accessToken string, topicName string) error {
	m.topic = topicName
	return m.err
}

func TestAccountLinker_CreatesAccountAndQueuesFullSync(t *testing.T) {
	store := &mockAccountLinkStore{}
	queue := &mockSyncJobQueue{}
	linker := NewAccountLinker(store, queue, prefixCipher{})

	expiry := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	account, job, err := linker.LinkAccount(context.Background(), "user-1", " Me@Example.com ", LinkedCredentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       expiry,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if store.created == nil {
		t.Fatal("expected account to be created")
	}
	if account.EmailAddress != "me@example.com" {
		t.Errorf("expected normalized email, got %q", account.EmailAddress)
	}
	if *account.AccessTokenEnc != "enc:access" || *account.RefreshTokenEnc != "enc:refresh" {
		t.Errorf("expected encrypted tokens, got %q / %q", *account.AccessTokenEnc, *account.RefreshTokenEnc)
	}
	if !account.SyncEnabled || !account.IsActive || !account.TokenExpiresAt.Equal(expiry) {
		t.Errorf("unexpected account state %+v", account)
	}
	if job.AccountID != "acc-new" || job.SyncType != models.SyncTypeFull || job.Trigger != models.TriggerOAuth {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestAccountLinker_RelinkReenablesSync(t *testing.T) {
	store := &mockAccountLinkStore{existing: &models.MailboxAccount{
		ID:                 "acc-1",
		UserID:             "user-1",
		EmailAddress:       "me@example.com",
		SyncEnabled:        false,
		SyncDisabledReason: strPtr("invalid_grant"),
	}}
	queue := &mockSyncJobQueue{}
	linker := NewAccountLinker(store, queue, prefixCipher{})

	account, _, err := linker.LinkAccount(context.Background(), "user-1", "me@example.com", LinkedCredentials{AccessToken: "access"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if store.created != nil {
		t.Error("expected no new account")
	}
	if store.reactivated != "acc-1" {
		t.Errorf("expected acc-1 to be reactivated, got %q", store.reactivated)
	}
	if store.refreshEnc != nil {
		t.Error("expected stored refresh token to be kept when none was returned")
	}
	if !account.SyncEnabled || account.SyncDisabledReason != nil {
		t.Errorf("expected sync re-enabled, got %+v", account)
	}
	if len(queue.enqueued) != 1 {
		t.Errorf("expected one job, got %d", len(queue.enqueued))
	}
}

func TestAccountLinker_RegistersWatchAndToleratesFailure(t *testing.T) {
	watcher := &mockMailboxWatcher{err: errors.New("permission denied")}
	linker := NewAccountLinker(&mockAccountLinkStore{}, &mockSyncJobQueue{}, prefixCipher{}).
		WithPushWatch(watcher, "projects/p/topics/gmail-push")

	if _, _, err := linker.LinkAccount(context.Background(), "user-1", "me@example.com", LinkedCredentials{AccessToken: "access"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if watcher.topic != "projects/p/topics/gmail-push" {
		t.Errorf("expected watch on configured topic, got %q", watcher.topic)
	}
}

func TestAccountLinker_RequiresAccessToken(t *testing.T) {
	linker := NewAccountLinker(&mockAccountLinkStore{}, &mockSyncJobQueue{}, prefixCipher{})

	_, _, err := linker.LinkAccount(context.Background(), "user-1", "me@example.com", LinkedCredentials{})
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}
