package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/mailsync/internal/models"
	"gorm.io/gorm"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID retrieves account by ID
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*models.MailboxAccount, error) {
	var account models.MailboxAccount
	result := r.db.WithContext(ctx).First(&account, "id = ?", accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// GetByUserAndEmail retrieves the account a user linked for an address
func (r *AccountRepository) GetByUserAndEmail(ctx context.Context, userID, email string) (*models.MailboxAccount, error) {
	var account models.MailboxAccount
	result := r.db.WithContext(ctx).First(&account, "user_id = ? AND email_address = ?", userID, email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// ListActiveByEmail returns every active account connected to an address
func (r *AccountRepository) ListActiveByEmail(ctx context.Context, email string) ([]models.MailboxAccount, error) {
	var accounts []models.MailboxAccount
	err := r.db.WithContext(ctx).
		Where("email_address = ? AND is_active = ?", email, true).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by email: %w", err)
	}
	return accounts, nil
}

// ListSyncable returns accounts that are active and have sync enabled
func (r *AccountRepository) ListSyncable(ctx context.Context) ([]models.MailboxAccount, error) {
	var accounts []models.MailboxAccount
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND sync_enabled = ?", true, true).
		Order("last_sync_at ASC NULLS FIRST").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list syncable accounts: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.MailboxAccount) error {
	now := time.Now().UTC()
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.Provider == "" {
		account.Provider = models.ProviderGmail
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// UpdateTokens stores new token ciphertext. A nil refresh token keeps the stored one.
func (r *AccountRepository) UpdateTokens(ctx context.Context, accountID string, accessTokenEnc string, refreshTokenEnc *string, expiresAt time.Time) error {
	updates := map[string]interface{}{
		"access_token_enc": accessTokenEnc,
		"token_expires_at": expiresAt,
		"updated_at":       time.Now().UTC(),
	}
	if refreshTokenEnc != nil {
		updates["refresh_token_enc"] = *refreshTokenEnc
	}

	result := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Reactivate stores fresh credentials after the user re-linked the mailbox and turns sync back on.
func (r *AccountRepository) Reactivate(ctx context.Context, accountID string, accessTokenEnc string, refreshTokenEnc *string, expiresAt *time.Time) error {
	updates := map[string]interface{}{
		"access_token_enc":     accessTokenEnc,
		"token_expires_at":     expiresAt,
		"sync_enabled":         true,
		"is_active":            true,
		"sync_disabled_reason": nil,
		"updated_at":           time.Now().UTC(),
	}
	if refreshTokenEnc != nil {
		updates["refresh_token_enc"] = *refreshTokenEnc
	}

	result := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to reactivate account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) UpdateSyncCursor(ctx context.Context, accountID string, cursor string) error {
	err := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"sync_history_id": cursor,
			"updated_at":      time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update sync cursor: %w", err)
	}
	return nil
}

func (r *AccountRepository) MarkSynced(ctx context.Context, accountID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"last_sync_at": at,
			"updated_at":   time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark account synced: %w", err)
	}
	return nil
}

// DisableSync turns periodic sync off until the user re-links the account
func (r *AccountRepository) DisableSync(ctx context.Context, accountID string, reason string) error {
	err := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"sync_enabled":         false,
			"sync_disabled_reason": reason,
			"updated_at":           time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to disable sync: %w", err)
	}
	return nil
}

// AcquireSyncLease claims the per-account sync lease and returns the owner token the holder
// presents to extend or release it. acquired is false while another holder's lease is live.
func (r *AccountRepository) AcquireSyncLease(ctx context.Context, accountID string, ttl time.Duration) (owner string, acquired bool, err error) {
	now := time.Now().UTC()
	owner = uuid.New().String()
	result := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ? AND (sync_locked_until IS NULL OR sync_locked_until < ?)", accountID, now).
		Updates(map[string]interface{}{
			"sync_locked_until": now.Add(ttl),
			"sync_lease_owner":  owner,
		})
	if result.Error != nil {
		return "", false, fmt.Errorf("failed to acquire sync lease: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return "", false, nil
	}
	return owner, true, nil
}

// ExtendSyncLease pushes the lease expiry out by ttl. It returns false once the lease belongs to
// another holder.
func (r *AccountRepository) ExtendSyncLease(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ? AND sync_lease_owner = ?", accountID, owner).
		Updates(map[string]interface{}{
			"sync_locked_until": time.Now().UTC().Add(ttl),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to extend sync lease: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseSyncLease clears the lease if owner still holds it. A lease that has since passed to
// another holder is left alone.
func (r *AccountRepository) ReleaseSyncLease(ctx context.Context, accountID, owner string) error {
	err := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ? AND sync_lease_owner = ?", accountID, owner).
		Updates(map[string]interface{}{
			"sync_locked_until": nil,
			"sync_lease_owner":  nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}
