package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/webchat/internal/ai"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedMessages(t *testing.T, repo *Repo, convID uint64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := ai.RoleUser
		if i%2 == 1 {
			role = ai.RoleAssistant
		}
		_, err := repo.AppendMessage(context.Background(), convID, role, fmt.Sprintf("seed %d", i), nil)
		require.NoError(t, err)
	}
}

func TestListMessages_ChronologicalAndOwnerScoped(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	conv, err := repo.CreateConversation(ctx, 1, "mine")
	require.NoError(t, err)
	seedMessages(t, repo, conv.ID, 6)

	msgs, err := repo.ListMessages(ctx, conv.ID, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
		assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
	}
	assert.Equal(t, "seed 0", msgs[0].Content)

	other, err := repo.ListMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestWindowedContext_NoticeOnlyWhenExactlyFull(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	const window = 4

	for _, n := range []int{0, 3, 4, 9} {
		conv, err := repo.CreateConversation(ctx, 1, "w")
		require.NoError(t, err)
		seedMessages(t, repo, conv.ID, n)

		got, err := repo.WindowedContext(ctx, conv.ID, window)
		require.NoError(t, err)
		require.LessOrEqual(t, len(got), window+1)

		fetched := n
		if fetched > window {
			fetched = window
		}
		if fetched == window {
			require.Len(t, got, window+1, "n=%d", n)
			assert.Equal(t, ai.RoleSystem, got[0].Role)
			assert.Equal(t, fmt.Sprintf("seed %d", n-1), got[len(got)-1].Content)
			assert.Equal(t, fmt.Sprintf("seed %d", n-window), got[1].Content)
		} else {
			require.Len(t, got, fetched, "n=%d", n)
			for _, m := range got {
				assert.NotEqual(t, ai.RoleSystem, m.Role)
			}
		}
	}
}

func TestDeleteConversation_IdempotentAndCascades(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewRepo(db)

	conv, err := repo.CreateConversation(ctx, 7, "bye")
	require.NoError(t, err)
	seedMessages(t, repo, conv.ID, 3)

	ok, err := repo.DeleteConversation(ctx, conv.ID, 8)
	require.NoError(t, err)
	assert.False(t, ok, "foreign owner must not delete")

	ok, err = repo.DeleteConversation(ctx, conv.ID, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DeleteConversation(ctx, conv.ID, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	var left int64
	require.NoError(t, db.Model(&Message{}).Where("conversation_id = ?", conv.ID).Count(&left).Error)
	assert.Zero(t, left)
}

func TestListConversations_PreviewCountAndOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	older, err := repo.CreateConversation(ctx, 3, "older")
	require.NoError(t, err)
	newer, err := repo.CreateConversation(ctx, 3, "newer")
	require.NoError(t, err)
	_, err = repo.CreateConversation(ctx, 4, "someone else")
	require.NoError(t, err)

	seedMessages(t, repo, newer.ID, 2)
	seedMessages(t, repo, older.ID, 3)
	require.NoError(t, repo.TouchUpdatedAt(ctx, older.ID))

	list, err := repo.ListConversations(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, int64(3), list[0].MessageCount)
	assert.Equal(t, "seed 2", list[0].LastMessagePreview)
	assert.Equal(t, newer.ID, list[1].ID)
	assert.Equal(t, int64(2), list[1].MessageCount)
}

func TestUpdateTitle_OwnerScoped(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	conv, err := repo.CreateConversation(ctx, 1, "a")
	require.NoError(t, err)

	ok, err := repo.UpdateTitle(ctx, conv.ID, 2, "stolen")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UpdateTitle(ctx, conv.ID, 1, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetConversation(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Title)

	_, err = repo.GetConversation(ctx, conv.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPreview_Truncates(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := strings.Repeat("é", 150)
	assert.Equal(t, previewMaxRunes+3, len([]rune(preview(long))))
}
