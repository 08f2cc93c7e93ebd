package service

import (
	"errors"
	"fmt"

	"github.com/vipul43/mailsync/internal/repository"
)

var (
	// ErrNotFound matches every store lookup miss.
	ErrNotFound = repository.ErrNotFound

	ErrNoCredentials   = errors.New("no usable credentials")
	ErrTokenRevoked    = errors.New("refresh token revoked or invalid")
	ErrCursorExpired   = errors.New("sync cursor expired")
	ErrMessageNotFound = errors.New("provider message not found")
	ErrSyncInProgress  = errors.New("sync already in progress")
	ErrSyncLeaseLost   = errors.New("sync lease taken over by another sync")
)

// RefreshFailedError is returned when the token endpoint rejects a refresh.
type RefreshFailedError struct {
	AccountID string
	Err       error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("token refresh failed for account %s: %v", e.AccountID, e.Err)
}

func (e *RefreshFailedError) Unwrap() error { return e.Err }

// Permanent reports whether retrying cannot succeed until the user re-authenticates.
func (e *RefreshFailedError) Permanent() bool {
	return errors.Is(e.Err, ErrTokenRevoked)
}

// ProviderTransientError marks rate limiting and provider-side failures.
type ProviderTransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderTransientError) Error() string {
	return fmt.Sprintf("%s: provider unavailable (status %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *ProviderTransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying later without user action.
func IsTransient(err error) bool {
	var pte *ProviderTransientError
	return errors.As(err, &pte)
}
