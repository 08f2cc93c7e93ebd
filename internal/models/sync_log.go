package models

import (
	"fmt"
	"time"
)

type SyncType string

const (
	SyncTypeFull  SyncType = "full"
	SyncTypeDelta SyncType = "delta"
)

// ParseSyncType accepts "full" or "delta"; an empty string means delta.
func ParseSyncType(s string) (SyncType, error) {
	switch SyncType(s) {
	case "", SyncTypeDelta:
		return SyncTypeDelta, nil
	case SyncTypeFull:
		return SyncTypeFull, nil
	default:
		return "", fmt.Errorf("invalid sync type %q", s)
	}
}

type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncLog records one sync attempt. It is written once at start and finalized once.
type SyncLog struct {
	ID                string     `gorm:"column:id;primaryKey" json:"id"`
	AccountID         string     `gorm:"column:account_id;index" json:"account_id"`
	SyncType          SyncType   `gorm:"column:sync_type" json:"sync_type"`
	Status            SyncStatus `gorm:"column:status;index" json:"status"`
	StartedAt         time.Time  `gorm:"column:started_at" json:"started_at"`
	CompletedAt       *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Errors            StringList `gorm:"column:errors;type:jsonb" json:"errors"`
	MessagesProcessed int        `gorm:"column:messages_processed" json:"messages_processed"`
	CreatedAt         time.Time  `gorm:"column:created_at" json:"created_at"`
}

// TableName specifies the table name for GORM
func (SyncLog) TableName() string {
	return "sync_logs"
}
