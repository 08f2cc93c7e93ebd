// Package events publishes sync and scheduled-action outcomes for other services to consume.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	SyncCompleted   Type = "sync.completed"
	SyncFailed      Type = "sync.failed"
	ActionCompleted Type = "action.completed"
	ActionFailed    Type = "action.failed"
	AccountDisabled Type = "account.disabled"
)

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	AccountID  string    `json:"account_id,omitempty"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Count      int       `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with a fresh ID and the current time.
func New(t Type, accountID, subjectID string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		AccountID:  accountID,
		SubjectID:  subjectID,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() {}
