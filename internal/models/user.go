package models

import "time"

type Role string

const (
	RoleSuper    Role = "super"
	RoleEmployer Role = "employer"
)

func (r Role) Valid() bool {
	return r == RoleSuper || r == RoleEmployer
}

type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"`
	Role         Role   `gorm:"type:varchar(16);not null;default:employer" json:"role"`

	// optional job context, injected into the system prompt by clients
	JobTitle       string `gorm:"type:varchar(128)" json:"job_title,omitempty"`
	Company        string `gorm:"type:varchar(128)" json:"company,omitempty"`
	JobDescription string `gorm:"type:text" json:"job_description,omitempty"`

	LastIP        string     `gorm:"type:varchar(64)" json:"-"`
	LastUserAgent string     `gorm:"type:varchar(512)" json:"-"`
	RequestCount  uint64     `gorm:"not null;default:0" json:"request_count"`
	LastActiveAt  *time.Time `json:"last_active_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
