package models

import "time"

const ProviderGmail = "gmail"

// MailboxAccount is a connected mailbox.
// The token columns hold ciphertext produced by the tokencrypt package, never plaintext.
type MailboxAccount struct {
	ID                 string     `gorm:"column:id;primaryKey" json:"id"`
	UserID             string     `gorm:"column:user_id;index" json:"user_id"`
	EmailAddress       string     `gorm:"column:email_address;index" json:"email_address"`
	Provider           string     `gorm:"column:provider" json:"provider"`
	AccessTokenEnc     *string    `gorm:"column:access_token_enc" json:"-"`
	RefreshTokenEnc    *string    `gorm:"column:refresh_token_enc" json:"-"`
	TokenExpiresAt     *time.Time `gorm:"column:token_expires_at" json:"token_expires_at,omitempty"`
	SyncHistoryID      *string    `gorm:"column:sync_history_id" json:"sync_history_id,omitempty"`
	SyncEnabled        bool       `gorm:"column:sync_enabled" json:"sync_enabled"`
	IsActive           bool       `gorm:"column:is_active" json:"is_active"`
	LastSyncAt         *time.Time `gorm:"column:last_sync_at" json:"last_sync_at,omitempty"`
	SyncLockedUntil    *time.Time `gorm:"column:sync_locked_until" json:"-"`
	SyncLeaseOwner     *string    `gorm:"column:sync_lease_owner" json:"-"`
	SyncDisabledReason *string    `gorm:"column:sync_disabled_reason" json:"sync_disabled_reason,omitempty"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (MailboxAccount) TableName() string {
	return "mailbox_accounts"
}

// Syncable reports whether periodic sync should pick up the account.
func (a *MailboxAccount) Syncable() bool {
	return a.IsActive && a.SyncEnabled
}

// Cursor returns the stored history cursor, or "" when the account has never completed a sync.
func (a *MailboxAccount) Cursor() string {
	if a.SyncHistoryID == nil {
		return ""
	}
	return *a.SyncHistoryID
}
