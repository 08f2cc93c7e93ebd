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

type ScheduledActionRepository struct {
	db *gorm.DB
}

func NewScheduledActionRepository(db *gorm.DB) *ScheduledActionRepository {
	return &ScheduledActionRepository{db: db}
}

// Create validates and stores a pending action
func (r *ScheduledActionRepository) Create(ctx context.Context, action *models.ScheduledAction) error {
	if err := action.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	action.Status = models.ActionPending
	action.ExecutedAt = nil
	action.ErrorMessage = nil
	action.CreatedAt = now
	action.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(action).Error; err != nil {
		return fmt.Errorf("failed to create scheduled action: %w", err)
	}
	return nil
}

func (r *ScheduledActionRepository) GetByID(ctx context.Context, actionID string) (*models.ScheduledAction, error) {
	var action models.ScheduledAction
	result := r.db.WithContext(ctx).First(&action, "id = ?", actionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrActionNotFound
		}
		return nil, fmt.Errorf("failed to get scheduled action: %w", result.Error)
	}
	return &action, nil
}

// ListDue returns pending actions scheduled at or before now, oldest first
func (r *ScheduledActionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledAction, error) {
	var actions []models.ScheduledAction
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.ActionPending, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due actions: %w", err)
	}
	return actions, nil
}

// RunPending locks the action if it is still pending, runs fn, and stores the outcome in the
// same transaction. It returns false when the row is gone, no longer pending, or locked by
// another worker. A failure to commit leaves the action pending for the next tick.
func (r *ScheduledActionRepository) RunPending(ctx context.Context, actionID string, fn func(ctx context.Context, action *models.ScheduledAction) error) (bool, error) {
	executed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var action models.ScheduledAction
		result := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("id = ? AND status = ?", actionID, models.ActionPending).
			Limit(1).
			Find(&action)
		if result.Error != nil {
			return fmt.Errorf("failed to lock scheduled action: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		runErr := fn(ctx, &action)

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":      models.ActionCompleted,
			"executed_at": now,
			"updated_at":  now,
		}
		if runErr != nil {
			updates["status"] = models.ActionFailed
			updates["error_message"] = runErr.Error()
		}

		if err := tx.Model(&models.ScheduledAction{}).Where("id = ?", actionID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to record action outcome: %w", err)
		}
		executed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return executed, nil
}

// Cancel moves a pending action to cancelled.
func (r *ScheduledActionRepository) Cancel(ctx context.Context, actionID string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.ScheduledAction{}).
		Where("id = ? AND status = ?", actionID, models.ActionPending).
		Updates(map[string]interface{}{
			"status":      models.ActionCancelled,
			"executed_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to cancel scheduled action: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, actionID); err != nil {
		return err
	}
	return ErrActionNotPending
}
