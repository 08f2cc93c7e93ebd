package models

import "time"

type Draft struct {
	ID           string     `gorm:"column:id;primaryKey" json:"id"`
	UserID       string     `gorm:"column:user_id;index" json:"user_id"`
	AccountID    string     `gorm:"column:account_id;index" json:"account_id"`
	ToAddresses  StringList `gorm:"column:to_addresses;type:jsonb" json:"to"`
	CcAddresses  StringList `gorm:"column:cc_addresses;type:jsonb" json:"cc"`
	BccAddresses StringList `gorm:"column:bcc_addresses;type:jsonb" json:"bcc"`
	Subject      string     `gorm:"column:subject" json:"subject"`
	BodyText     string     `gorm:"column:body_text" json:"body_text"`
	BodyHTML     string     `gorm:"column:body_html" json:"body_html"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Draft) TableName() string {
	return "drafts"
}
