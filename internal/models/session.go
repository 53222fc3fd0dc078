package models

import "time"

// UserSession backs the browser session cookie. ID is the opaque token carried in the cookie JWT.
type UserSession struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"-"`
	UserID         uint64    `gorm:"index;not null" json:"-"`
	IP             string    `gorm:"type:varchar(64)" json:"ip"`
	UserAgent      string    `gorm:"type:varchar(512)" json:"user_agent"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	Active         bool      `gorm:"index;not null;default:true" json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

func (UserSession) TableName() string { return "user_sessions" }
