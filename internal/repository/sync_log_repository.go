package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/mailsync/internal/models"
	"gorm.io/gorm"
)

type SyncLogRepository struct {
	db *gorm.DB
}

func NewSyncLogRepository(db *gorm.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

func (r *SyncLogRepository) Create(ctx context.Context, log *models.SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.CreatedAt = time.Now().UTC()
	if log.Errors == nil {
		log.Errors = models.StringList{}
	}

	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

// Finish writes the terminal state of a running log. Finished logs are never rewritten.
func (r *SyncLogRepository) Finish(ctx context.Context, log *models.SyncLog) error {
	errs := log.Errors
	if errs == nil {
		errs = models.StringList{}
	}
	err := r.db.WithContext(ctx).Model(&models.SyncLog{}).
		Where("id = ? AND status = ?", log.ID, models.SyncStatusRunning).
		Updates(map[string]interface{}{
			"status":             log.Status,
			"completed_at":       log.CompletedAt,
			"errors":             errs,
			"messages_processed": log.MessagesProcessed,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to finish sync log: %w", err)
	}
	return nil
}

// ListByAccount returns the most recent logs first
func (r *SyncLogRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.SyncLog, error) {
	var logs []models.SyncLog
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("started_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	return logs, nil
}

// FailStale closes logs left running by a worker that died mid-sync.
func (r *SyncLogRepository) FailStale(ctx context.Context, startedBefore time.Time) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.SyncLog{}).
		Where("status = ? AND started_at < ?", models.SyncStatusRunning, startedBefore).
		Updates(map[string]interface{}{
			"status":       models.SyncStatusFailed,
			"completed_at": now,
			"errors":       models.StringList{"interrupted: worker stopped before the sync finished"},
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to close stale sync logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
