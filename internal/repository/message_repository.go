package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/mailsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// messageUpsertColumns are overwritten when a message is synced again.
var messageUpsertColumns = []string{
	"provider_thread_id", "subject", "from_name", "from_address",
	"to_addresses", "cc_addresses", "bcc_addresses", "snippet",
	"body_text", "body_html", "is_read", "is_starred", "is_archived",
	"labels", "attachments", "internal_date", "updated_at",
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Upsert inserts messages or updates them in place, keyed on (account_id, provider_message_id).
func (r *MessageRepository) Upsert(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for i := range messages {
		if messages[i].ID == "" {
			messages[i].ID = uuid.New().String()
		}
		messages[i].CreatedAt = now
		messages[i].UpdatedAt = now
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "provider_message_id"}},
			DoUpdates: clause.AssignmentColumns(messageUpsertColumns),
		}).
		Create(&messages).Error
	if err != nil {
		return fmt.Errorf("failed to upsert messages: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByProviderID(ctx context.Context, accountID, providerMessageID string) (*models.Message, error) {
	var msg models.Message
	result := r.db.WithContext(ctx).
		First(&msg, "account_id = ? AND provider_message_id = ?", accountID, providerMessageID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}
	return &msg, nil
}

// UpdateLabelState writes only the label set and the flags derived from it.
func (r *MessageRepository) UpdateLabelState(ctx context.Context, msg *models.Message) error {
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"labels":      msg.Labels,
			"is_read":     msg.IsRead,
			"is_starred":  msg.IsStarred,
			"is_archived": msg.IsArchived,
			"updated_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update message labels: %w", err)
	}
	return nil
}

// DeleteByProviderID removes the local copy. It reports whether a row existed.
func (r *MessageRepository) DeleteByProviderID(ctx context.Context, accountID, providerMessageID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND provider_message_id = ?", accountID, providerMessageID).
		Delete(&models.Message{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete message: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *MessageRepository) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).Where("account_id = ?", accountID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
