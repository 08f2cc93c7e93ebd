package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vipul43/mailsync/internal/events"
	"github.com/vipul43/mailsync/internal/models"
)

// Header is a single message header as returned by the provider.
type Header struct {
	Name  string
	Value string
}

// MessagePart is one node of a message's MIME tree. Data is already decoded.
type MessagePart struct {
	PartID       string
	MimeType     string
	Filename     string
	Headers      []Header
	Data         []byte
	Size         int64
	AttachmentID string
	Parts        []*MessagePart
}

type ProviderMessage struct {
	ID           string
	ThreadID     string
	HistoryID    string
	Snippet      string
	LabelIDs     []string
	InternalDate time.Time
	Payload      *MessagePart
}

type LabelChange struct {
	MessageID string
	Added     []string
	Removed   []string
}

// ChangeSet is everything that changed in a mailbox since a cursor.
type ChangeSet struct {
	Added        []string
	Deleted      []string
	LabelChanges []LabelChange
	Cursor       string
}

type OutgoingMessage struct {
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	TextBody string
	HTMLBody string
}

type TokenRefreshResult struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string // May be same or new
}

// LinkedCredentials are the tokens returned by a completed OAuth consent.
type LinkedCredentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenExchanger trades a refresh token for a new access token.
type TokenExchanger interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)
}

// MailProvider is the mailbox API the sync engine and action processor talk to.
type MailProvider interface {
	ListMessageIDs(ctx context.Context, accessToken string, labelID string, maxResults int) ([]string, error)
	GetMessage(ctx context.Context, accessToken string, messageID string) (*ProviderMessage, error)
	// ListChanges returns ErrCursorExpired when the provider no longer knows the cursor.
	ListChanges(ctx context.Context, accessToken string, cursor string) (*ChangeSet, error)
	ModifyLabels(ctx context.Context, accessToken string, messageID string, add, remove []string) error
	SendMessage(ctx context.Context, accessToken string, msg *OutgoingMessage) (string, error)
}

// MailboxWatcher registers push notifications for a mailbox.
type MailboxWatcher interface {
	Watch(ctx context.Context, accessToken string, topicName string) error
}

type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AccessTokenSource hands out a usable access token for an account.
type AccessTokenSource interface {
	EnsureFreshToken(ctx context.Context, account *models.MailboxAccount) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type TokenStore interface {
	UpdateTokens(ctx context.Context, accountID string, accessTokenEnc string, refreshTokenEnc *string, expiresAt time.Time) error
}

type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (*models.MailboxAccount, error)
	UpdateSyncCursor(ctx context.Context, accountID string, cursor string) error
	MarkSynced(ctx context.Context, accountID string, at time.Time) error
	DisableSync(ctx context.Context, accountID string, reason string) error
	AcquireSyncLease(ctx context.Context, accountID string, ttl time.Duration) (string, bool, error)
	ExtendSyncLease(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error)
	ReleaseSyncLease(ctx context.Context, accountID, owner string) error
}

type MessageStore interface {
	Upsert(ctx context.Context, messages []models.Message) error
	GetByProviderID(ctx context.Context, accountID, providerMessageID string) (*models.Message, error)
	UpdateLabelState(ctx context.Context, msg *models.Message) error
	DeleteByProviderID(ctx context.Context, accountID, providerMessageID string) (bool, error)
}

type SyncLogStore interface {
	Create(ctx context.Context, log *models.SyncLog) error
	Finish(ctx context.Context, log *models.SyncLog) error
}

func publish(ctx context.Context, publisher EventPublisher, event events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		log.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to publish event")
	}
}
