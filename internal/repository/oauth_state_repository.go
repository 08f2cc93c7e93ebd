package repository

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/mailsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OAuthStateRepository struct {
	db *gorm.DB
}

func NewOAuthStateRepository(db *gorm.DB) *OAuthStateRepository {
	return &OAuthStateRepository{db: db}
}

// Create issues a random state value bound to userID for ttl.
func (r *OAuthStateRepository) Create(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	now := time.Now().UTC()
	state := models.OAuthState{
		State:     base64.RawURLEncoding.EncodeToString(buf),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&state).Error; err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return state.State, nil
}

// Consume deletes the state and returns its user. Unknown and expired states are rejected.
func (r *OAuthStateRepository) Consume(ctx context.Context, state string) (string, error) {
	var userID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.OAuthState
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("state = ?", state).
			Limit(1).
			Find(&row)
		if result.Error != nil {
			return fmt.Errorf("failed to load oauth state: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrStateNotFound
		}
		if time.Now().UTC().After(row.ExpiresAt) {
			return ErrStateNotFound
		}
		if err := tx.Delete(&models.OAuthState{}, "state = ?", state).Error; err != nil {
			return fmt.Errorf("failed to delete oauth state: %w", err)
		}
		userID = row.UserID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return "", ErrStateNotFound
		}
		return "", err
	}
	return userID, nil
}

func (r *OAuthStateRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at < ?", time.Now().UTC()).Delete(&models.OAuthState{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired oauth states: %w", result.Error)
	}
	return result.RowsAffected, nil
}
