package models

import "testing"

func TestMessage_ApplyLabelChanges(t *testing.T) {
	tests := []struct {
		name         string
		start        Message
		added        []string
		removed      []string
		wantRead     bool
		wantStarred  bool
		wantArchived bool
		wantLabels   []string
	}{
		{
			name:       "mark read",
			start:      Message{Labels: StringList{LabelInbox, LabelUnread}, IsRead: false},
			removed:    []string{LabelUnread},
			wantRead:   true,
			wantLabels: []string{LabelInbox},
		},
		{
			name:       "mark unread",
			start:      Message{Labels: StringList{LabelInbox}, IsRead: true},
			added:      []string{LabelUnread},
			wantRead:   false,
			wantLabels: []string{LabelInbox, LabelUnread},
		},
		{
			name:         "archive",
			start:        Message{Labels: StringList{LabelInbox, "Label_1"}, IsRead: true},
			removed:      []string{LabelInbox},
			wantRead:     true,
			wantArchived: true,
			wantLabels:   []string{"Label_1"},
		},
		{
			name:        "star and unarchive",
			start:       Message{Labels: StringList{}, IsRead: true, IsArchived: true},
			added:       []string{LabelStarred, LabelInbox},
			wantRead:    true,
			wantStarred: true,
			wantLabels:  []string{LabelStarred, LabelInbox},
		},
		{
			name:         "unrelated label leaves flags alone",
			start:        Message{Labels: StringList{LabelUnread}, IsArchived: true},
			added:        []string{"Label_9"},
			wantArchived: true,
			wantLabels:   []string{LabelUnread, "Label_9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.start
			msg.ApplyLabelChanges(tt.added, tt.removed)

			if msg.IsRead != tt.wantRead {
				t.Errorf("expected IsRead=%v, got %v", tt.wantRead, msg.IsRead)
			}
			if msg.IsStarred != tt.wantStarred {
				t.Errorf("expected IsStarred=%v, got %v", tt.wantStarred, msg.IsStarred)
			}
			if msg.IsArchived != tt.wantArchived {
				t.Errorf("expected IsArchived=%v, got %v", tt.wantArchived, msg.IsArchived)
			}
			if len(msg.Labels) != len(tt.wantLabels) {
				t.Fatalf("expected labels %v, got %v", tt.wantLabels, msg.Labels)
			}
			for i, l := range tt.wantLabels {
				if msg.Labels[i] != l {
					t.Errorf("expected labels %v, got %v", tt.wantLabels, msg.Labels)
				}
			}
		})
	}
}

func TestParseSyncType(t *testing.T) {
	if st, err := ParseSyncType(""); err != nil || st != SyncTypeDelta {
		t.Errorf("expected empty to mean delta, got %s (%v)", st, err)
	}
	if st, err := ParseSyncType("full"); err != nil || st != SyncTypeFull {
		t.Errorf("expected full, got %s (%v)", st, err)
	}
	if _, err := ParseSyncType("partial"); err == nil {
		t.Error("expected error for unknown sync type")
	}
}
