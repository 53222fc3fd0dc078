package chat

import "time"

type Conversation struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"not null;index:idx_conv_user_updated,priority:1" json:"-"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index:idx_conv_user_updated,priority:2" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is immutable once written.
type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64    `gorm:"not null;index:idx_chat_msg_conv_created,priority:1" json:"conversation_id"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Model          *string   `gorm:"type:varchar(128)" json:"model,omitempty"`
	CreatedAt      time.Time `gorm:"index:idx_chat_msg_conv_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

type ConversationSummary struct {
	Conversation
	LastMessagePreview string `json:"last_message_preview"`
	MessageCount       int64  `json:"message_count"`
}
