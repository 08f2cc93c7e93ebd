package models

import "time"

// Provider label IDs that drive the derived message flags.
const (
	LabelInbox   = "INBOX"
	LabelUnread  = "UNREAD"
	LabelStarred = "STARRED"
)

// Message is the local copy of a provider message, unique per (account_id, provider_message_id).
type Message struct {
	ID                string         `gorm:"column:id;primaryKey" json:"id"`
	AccountID         string         `gorm:"column:account_id;uniqueIndex:idx_messages_account_provider" json:"account_id"`
	ProviderMessageID string         `gorm:"column:provider_message_id;uniqueIndex:idx_messages_account_provider" json:"provider_message_id"`
	ProviderThreadID  string         `gorm:"column:provider_thread_id" json:"provider_thread_id"`
	Subject           string         `gorm:"column:subject" json:"subject"`
	FromName          string         `gorm:"column:from_name" json:"from_name"`
	FromAddress       string         `gorm:"column:from_address" json:"from_address"`
	ToAddresses       StringList     `gorm:"column:to_addresses;type:jsonb" json:"to_addresses"`
	CcAddresses       StringList     `gorm:"column:cc_addresses;type:jsonb" json:"cc_addresses"`
	BccAddresses      StringList     `gorm:"column:bcc_addresses;type:jsonb" json:"bcc_addresses"`
	Snippet           string         `gorm:"column:snippet" json:"snippet"`
	BodyText          string         `gorm:"column:body_text" json:"body_text"`
	BodyHTML          string         `gorm:"column:body_html" json:"body_html"`
	IsRead            bool           `gorm:"column:is_read" json:"is_read"`
	IsStarred         bool           `gorm:"column:is_starred" json:"is_starred"`
	IsArchived        bool           `gorm:"column:is_archived" json:"is_archived"`
	Labels            StringList     `gorm:"column:labels;type:jsonb" json:"labels"`
	Attachments       AttachmentList `gorm:"column:attachments;type:jsonb" json:"attachments"`
	InternalDate      *time.Time     `gorm:"column:internal_date" json:"internal_date,omitempty"`
	CreatedAt         time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}

func (m *Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ApplyLabelChanges merges a label delta into the message.
// Only the flags whose label appears in the delta are touched.
func (m *Message) ApplyLabelChanges(added, removed []string) {
	drop := make(map[string]bool, len(removed))
	for _, l := range removed {
		drop[l] = true
	}

	labels := make(StringList, 0, len(m.Labels)+len(added))
	seen := make(map[string]bool, len(m.Labels)+len(added))
	for _, l := range m.Labels {
		if drop[l] || seen[l] {
			continue
		}
		seen[l] = true
		labels = append(labels, l)
	}
	for _, l := range added {
		if seen[l] {
			continue
		}
		seen[l] = true
		labels = append(labels, l)
	}
	m.Labels = labels

	for _, l := range removed {
		m.setFlag(l, false)
	}
	for _, l := range added {
		m.setFlag(l, true)
	}
}

func (m *Message) setFlag(label string, present bool) {
	switch label {
	case LabelUnread:
		m.IsRead = !present
	case LabelStarred:
		m.IsStarred = present
	case LabelInbox:
		m.IsArchived = !present
	}
}
