package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

type ActionType string

const (
	ActionSnooze    ActionType = "snooze"
	ActionSendLater ActionType = "send_later"
)

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
)

var ErrInvalidPayload = errors.New("invalid action payload")

// ScheduledAction is a deferred mailbox operation. Status leaves pending exactly once,
// and executed_at is set at that moment.
type ScheduledAction struct {
	ID           string       `gorm:"column:id;primaryKey" json:"id"`
	UserID       string       `gorm:"column:user_id;index" json:"user_id"`
	AccountID    *string      `gorm:"column:account_id" json:"account_id,omitempty"`
	MessageID    *string      `gorm:"column:message_id" json:"message_id,omitempty"`
	ActionType   ActionType   `gorm:"column:action_type" json:"action_type"`
	ScheduledAt  time.Time    `gorm:"column:scheduled_at;index" json:"scheduled_at"`
	Status       ActionStatus `gorm:"column:status;index" json:"status"`
	Payload      RawJSON      `gorm:"column:payload;type:jsonb" json:"payload"`
	ErrorMessage *string      `gorm:"column:error_message" json:"error_message,omitempty"`
	ExecutedAt   *time.Time   `gorm:"column:executed_at" json:"executed_at,omitempty"`
	CreatedAt    time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (ScheduledAction) TableName() string {
	return "scheduled_actions"
}

// ActionPayload is implemented by the payload variant of each action type.
type ActionPayload interface {
	Type() ActionType
	Validate() error
}

// SnoozePayload brings a message back to the inbox.
type SnoozePayload struct {
	ProviderMessageID string   `json:"provider_message_id"`
	OriginalLabels    []string `json:"original_labels,omitempty"`
}

func (SnoozePayload) Type() ActionType { return ActionSnooze }

func (p SnoozePayload) Validate() error {
	if p.ProviderMessageID == "" {
		return fmt.Errorf("%w: provider_message_id is required", ErrInvalidPayload)
	}
	return nil
}

// SendLaterPayload sends a stored draft.
type SendLaterPayload struct {
	DraftID string `json:"draft_id"`
}

func (SendLaterPayload) Type() ActionType { return ActionSendLater }

func (p SendLaterPayload) Validate() error {
	if p.DraftID == "" {
		return fmt.Errorf("%w: draft_id is required", ErrInvalidPayload)
	}
	return nil
}

// NewScheduledAction builds a pending action for the given payload variant.
func NewScheduledAction(userID string, accountID *string, scheduledAt time.Time, payload ActionPayload) (*ScheduledAction, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	action := &ScheduledAction{
		UserID:      userID,
		AccountID:   accountID,
		ActionType:  payload.Type(),
		ScheduledAt: scheduledAt,
		Status:      ActionPending,
		Payload:     raw,
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	return action, nil
}

// DecodePayload returns the payload variant selected by ActionType.
func (a *ScheduledAction) DecodePayload() (ActionPayload, error) {
	if len(a.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	var payload ActionPayload
	switch a.ActionType {
	case ActionSnooze:
		var p SnoozePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		payload = p
	case ActionSendLater:
		var p SendLaterPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		payload = p
	default:
		return nil, fmt.Errorf("unknown action type %q", a.ActionType)
	}

	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// Validate checks the fields required to store the action.
func (a *ScheduledAction) Validate() error {
	if a.UserID == "" {
		return errors.New("user_id is required")
	}
	if a.ScheduledAt.IsZero() {
		return errors.New("scheduled_at is required")
	}
	if a.ActionType == ActionSnooze && a.AccountID == nil {
		return errors.New("account_id is required for snooze")
	}
	_, err := a.DecodePayload()
	return err
}
