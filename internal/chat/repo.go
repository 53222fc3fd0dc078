package chat

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/webchat/internal/ai"
	"gorm.io/gorm"
)

const (
	DefaultWindowSize = 20
	previewMaxRunes   = 100

	truncationNotice = "Note: this conversation is longer than the context window. " +
		"Earlier messages are not included and some context may be missing."
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateConversation(ctx context.Context, userID uint64, title string) (*Conversation, error) {
	now := time.Now()
	c := &Conversation{UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// StartConversation creates a conversation together with its first user message.
// Neither row is kept if either insert fails.
func (r *Repo) StartConversation(ctx context.Context, userID uint64, title, content string) (*Conversation, *Message, error) {
	now := time.Now()
	c := &Conversation{UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	var m *Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		m = &Message{ConversationID: c.ID, Role: ai.RoleUser, Content: content}
		return tx.Create(m).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return c, m, nil
}

// AppendMessage writes a message as-is; content validation belongs to the caller.
func (r *Repo) AppendMessage(ctx context.Context, conversationID uint64, role, content string, model *string) (*Message, error) {
	m := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Model:          model,
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetConversation returns ErrNotFound for missing ids and ids owned by another user.
func (r *Repo) GetConversation(ctx context.Context, id, userID uint64) (*Conversation, error) {
	var c Conversation
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns the user's conversations, most recently active first,
// each with its newest message as a preview and a message count.
func (r *Repo) ListConversations(ctx context.Context, userID uint64) ([]ConversationSummary, error) {
	var convs []Conversation
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Find(&convs).Error; err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []ConversationSummary{}, nil
	}

	ids := make([]uint64, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	var counts []struct {
		ConversationID uint64
		N              int64
	}
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Select("conversation_id, COUNT(*) AS n").
		Where("conversation_id IN ?", ids).
		Group("conversation_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}

	latest := r.db.Model(&Message{}).
		Select("MAX(id)").
		Where("conversation_id IN ?", ids).
		Group("conversation_id")
	var lasts []Message
	if err := r.db.WithContext(ctx).
		Where("id IN (?)", latest).
		Find(&lasts).Error; err != nil {
		return nil, err
	}

	countBy := make(map[uint64]int64, len(counts))
	for _, c := range counts {
		countBy[c.ConversationID] = c.N
	}
	previewBy := make(map[uint64]string, len(lasts))
	for _, m := range lasts {
		previewBy[m.ConversationID] = preview(m.Content)
	}

	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationSummary{
			Conversation:       c,
			LastMessagePreview: previewBy[c.ID],
			MessageCount:       countBy[c.ID],
		})
	}
	return out, nil
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewMaxRunes {
		return s
	}
	return string([]rune(s)[:previewMaxRunes]) + "..."
}

// ListMessages returns the conversation's messages in chronological order.
// Ownership is part of the query: a conversation owned by another user yields
// an empty slice, not an error.
func (r *Repo) ListMessages(ctx context.Context, conversationID, userID uint64) ([]Message, error) {
	msgs := []Message{}
	if err := r.db.WithContext(ctx).
		Select("chat_messages.*").
		Joins("JOIN conversations ON conversations.id = chat_messages.conversation_id").
		Where("chat_messages.conversation_id = ? AND conversations.user_id = ?", conversationID, userID).
		Order("chat_messages.created_at ASC, chat_messages.id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// WindowedContext returns up to windowSize of the newest messages in chronological
// order. When exactly windowSize rows come back a system notice is prepended, since
// older turns may have been cut. A conversation with exactly windowSize messages in
// total gets the notice too.
func (r *Repo) WindowedContext(ctx context.Context, conversationID uint64, windowSize int) ([]ai.Message, error) {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	var desc []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(windowSize).
		Find(&desc).Error; err != nil {
		return nil, err
	}

	out := make([]ai.Message, 0, len(desc)+1)
	if len(desc) == windowSize {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: truncationNotice})
	}
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, ai.Message{Role: desc[i].Role, Content: desc[i].Content})
	}
	return out, nil
}

func (r *Repo) UpdateTitle(ctx context.Context, id, userID uint64, title string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TouchUpdatedAt bumps updated_at to now; it never moves it backwards.
func (r *Repo) TouchUpdatedAt(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ? AND updated_at < ?", id, now).
		UpdateColumn("updated_at", now).Error
}

// DeleteConversation removes the conversation and its messages. It reports false,
// with no error, when nothing owned by userID matched.
func (r *Repo) DeleteConversation(ctx context.Context, id, userID uint64) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Where("conversation_id = ?", id).Delete(&Message{}).Error
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
