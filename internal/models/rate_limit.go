package models

import "time"

type RateLimitLog struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    uint64    `gorm:"not null;index:idx_rate_limit_user_bucket_time,priority:1"`
	Bucket    string    `gorm:"type:varchar(32);not null;index:idx_rate_limit_user_bucket_time,priority:2"`
	CreatedAt time.Time `gorm:"not null;index:idx_rate_limit_user_bucket_time,priority:3"`
}

func (RateLimitLog) TableName() string { return "rate_limit_logs" }
