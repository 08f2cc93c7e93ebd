package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vipul43/mailsync/internal/models"
)

type AccountLinkStore interface {
	GetByUserAndEmail(ctx context.Context, userID, email string) (*models.MailboxAccount, error)
	Create(ctx context.Context, account *models.MailboxAccount) error
	Reactivate(ctx context.Context, accountID string, accessTokenEnc string, refreshTokenEnc *string, expiresAt *time.Time) error
}

type SyncJobQueue interface {
	Enqueue(ctx context.Context, accountID string, syncType models.SyncType, trigger models.SyncTrigger) (*models.SyncJob, error)
}

// AccountLinker stores the credentials of a completed OAuth consent and queues the first sync.
type AccountLinker struct {
	accounts AccountLinkStore
	jobs     SyncJobQueue
	cipher   TokenCipher
	watcher  MailboxWatcher
	topic    string
}

func NewAccountLinker(accounts AccountLinkStore, jobs SyncJobQueue, cipher TokenCipher) *AccountLinker {
	return &AccountLinker{
		accounts: accounts,
		jobs:     jobs,
		cipher:   cipher,
	}
}

// WithPushWatch registers a Gmail watch on the given Pub/Sub topic for every linked mailbox.
func (l *AccountLinker) WithPushWatch(watcher MailboxWatcher, topicName string) *AccountLinker {
	l.watcher = watcher
	l.topic = topicName
	return l
}

// LinkAccount creates the mailbox account, or refreshes and re-enables it when the user already
// linked the same address, then enqueues a full sync.
func (l *AccountLinker) LinkAccount(ctx context.Context, userID, email string, creds LinkedCredentials) (*models.MailboxAccount, *models.SyncJob, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if userID == "" || email == "" {
		return nil, nil, errors.New("user and email address are required")
	}
	if creds.AccessToken == "" {
		return nil, nil, fmt.Errorf("no access token returned for %s: %w", email, ErrNoCredentials)
	}
	if l.cipher == nil {
		return nil, nil, errors.New("token encryption is not configured")
	}

	accessEnc, err := l.cipher.Encrypt(creds.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	var refreshEnc *string
	if creds.RefreshToken != "" {
		enc, err := l.cipher.Encrypt(creds.RefreshToken)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		refreshEnc = &enc
	}
	var expiresAt *time.Time
	if !creds.Expiry.IsZero() {
		expiry := creds.Expiry.UTC()
		expiresAt = &expiry
	}

	account, err := l.accounts.GetByUserAndEmail(ctx, userID, email)
	switch {
	case err == nil:
		if err := l.accounts.Reactivate(ctx, account.ID, accessEnc, refreshEnc, expiresAt); err != nil {
			return nil, nil, err
		}
		account.AccessTokenEnc = &accessEnc
		if refreshEnc != nil {
			account.RefreshTokenEnc = refreshEnc
		}
		account.TokenExpiresAt = expiresAt
		account.SyncEnabled = true
		account.IsActive = true
		account.SyncDisabledReason = nil
		log.Info().Str("account_id", account.ID).Msg("mailbox re-linked")
	case errors.Is(err, ErrNotFound):
		account = &models.MailboxAccount{
			UserID:          userID,
			EmailAddress:    email,
			Provider:        models.ProviderGmail,
			AccessTokenEnc:  &accessEnc,
			RefreshTokenEnc: refreshEnc,
			TokenExpiresAt:  expiresAt,
			SyncEnabled:     true,
			IsActive:        true,
		}
		if err := l.accounts.Create(ctx, account); err != nil {
			return nil, nil, err
		}
		log.Info().Str("account_id", account.ID).Str("user_id", userID).Msg("mailbox linked")
	default:
		return nil, nil, fmt.Errorf("failed to look up account: %w", err)
	}

	job, err := l.jobs.Enqueue(ctx, account.ID, models.SyncTypeFull, models.TriggerOAuth)
	if err != nil {
		return account, nil, fmt.Errorf("failed to enqueue initial sync: %w", err)
	}

	if l.watcher != nil && l.topic != "" {
		if err := l.watcher.Watch(ctx, creds.AccessToken, l.topic); err != nil {
			log.Warn().Err(err).Str("account_id", account.ID).Msg("failed to register push notifications")
		}
	}

	return account, job, nil
}
