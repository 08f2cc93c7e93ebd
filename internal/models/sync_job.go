package models

import "time"

type SyncJobStatus string

const (
	SyncJobPending    SyncJobStatus = "pending"
	SyncJobProcessing SyncJobStatus = "processing"
	SyncJobCompleted  SyncJobStatus = "completed"
	SyncJobFailed     SyncJobStatus = "failed"
)

// SyncTrigger records what submitted a sync job.
type SyncTrigger string

const (
	TriggerManual SyncTrigger = "manual"
	TriggerCron   SyncTrigger = "cron"
	TriggerOAuth  SyncTrigger = "oauth"
	TriggerPush   SyncTrigger = "push"
)

// SyncJob is a queued sync request. Callers get the ID back immediately and poll for the outcome.
type SyncJob struct {
	ID          string        `gorm:"column:id;primaryKey" json:"id"`
	AccountID   string        `gorm:"column:account_id;index" json:"account_id"`
	SyncType    SyncType      `gorm:"column:sync_type" json:"sync_type"`
	Trigger     SyncTrigger   `gorm:"column:triggered_by" json:"trigger"`
	Status      SyncJobStatus `gorm:"column:status;index" json:"status"`
	Attempts    int           `gorm:"column:attempts" json:"attempts"`
	LastError   *string       `gorm:"column:last_error" json:"last_error,omitempty"`
	SyncLogID   *string       `gorm:"column:sync_log_id" json:"sync_log_id,omitempty"`
	CreatedAt   time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at" json:"updated_at"`
	ProcessedAt *time.Time    `gorm:"column:processed_at" json:"processed_at,omitempty"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_jobs"
}
