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

type DraftRepository struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

func (r *DraftRepository) Create(ctx context.Context, draft *models.Draft) error {
	now := time.Now().UTC()
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	draft.CreatedAt = now
	draft.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(draft).Error; err != nil {
		return fmt.Errorf("failed to create draft: %w", err)
	}
	return nil
}

func (r *DraftRepository) GetByID(ctx context.Context, draftID string) (*models.Draft, error) {
	var draft models.Draft
	result := r.db.WithContext(ctx).First(&draft, "id = ?", draftID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("failed to get draft: %w", result.Error)
	}
	return &draft, nil
}

func (r *DraftRepository) Delete(ctx context.Context, draftID string) error {
	if err := r.db.WithContext(ctx).Delete(&models.Draft{}, "id = ?", draftID).Error; err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}
