package models

import (
	"errors"
	"testing"
	"time"
)

func TestNewScheduledAction_Snooze(t *testing.T) {
	accountID := "acc-1"
	at := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	action, err := NewScheduledAction("user-1", &accountID, at, SnoozePayload{
		ProviderMessageID: "m-1",
		OriginalLabels:    []string{"Label_7"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if action.ActionType != ActionSnooze {
		t.Errorf("expected action type snooze, got %s", action.ActionType)
	}
	if action.Status != ActionPending {
		t.Errorf("expected pending status, got %s", action.Status)
	}

	payload, err := action.DecodePayload()
	if err != nil {
		t.Fatalf("expected payload to decode, got %v", err)
	}
	snooze, ok := payload.(SnoozePayload)
	if !ok {
		t.Fatalf("expected SnoozePayload, got %T", payload)
	}
	if snooze.ProviderMessageID != "m-1" || len(snooze.OriginalLabels) != 1 {
		t.Errorf("unexpected payload: %+v", snooze)
	}
}

func TestNewScheduledAction_Validation(t *testing.T) {
	accountID := "acc-1"
	at := time.Now()

	tests := []struct {
		name      string
		userID    string
		accountID *string
		at        time.Time
		payload   ActionPayload
	}{
		{"missing user", "", &accountID, at, SendLaterPayload{DraftID: "d-1"}},
		{"missing schedule", "user-1", &accountID, time.Time{}, SendLaterPayload{DraftID: "d-1"}},
		{"snooze without account", "user-1", nil, at, SnoozePayload{ProviderMessageID: "m-1"}},
		{"snooze without message", "user-1", &accountID, at, SnoozePayload{}},
		{"send later without draft", "user-1", nil, at, SendLaterPayload{}},
		{"nil payload", "user-1", nil, at, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScheduledAction(tt.userID, tt.accountID, tt.at, tt.payload); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestScheduledAction_DecodePayload_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		action ScheduledAction
	}{
		{"empty", ScheduledAction{ActionType: ActionSendLater}},
		{"malformed", ScheduledAction{ActionType: ActionSendLater, Payload: RawJSON(`{"draft_id":`)}},
		{"wrong variant", ScheduledAction{ActionType: ActionSnooze, Payload: RawJSON(`{"draft_id":"d-1"}`)}},
		{"unknown type", ScheduledAction{ActionType: "archive", Payload: RawJSON(`{}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.action.DecodePayload(); err == nil {
				t.Fatal("expected decode error, got nil")
			}
		})
	}

	_, err := (&ScheduledAction{ActionType: ActionSnooze, Payload: RawJSON(`{}`)}).DecodePayload()
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}
