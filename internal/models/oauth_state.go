package models

import "time"

// OAuthState binds an OAuth "state" parameter to the user who started the flow.
type OAuthState struct {
	State     string    `gorm:"column:state;primaryKey"`
	UserID    string    `gorm:"column:user_id"`
	ExpiresAt time.Time `gorm:"column:expires_at;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (OAuthState) TableName() string {
	return "oauth_states"
}
