package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/webchat/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.RateLimitLog{}))
	return db
}

func TestSQLLimiter_AllowsUpToLimit(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l := NewSQLLimiter(db)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, 7, BucketChat, 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Used)
	}

	d, err := l.Allow(ctx, 7, BucketChat, 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.Used)
	assert.Equal(t, 3, d.Limit)
	assert.True(t, d.ResetAt.Equal(base.Add(time.Hour)))

	// rejected hits are not logged
	var n int64
	require.NoError(t, db.Model(&models.RateLimitLog{}).Count(&n).Error)
	assert.EqualValues(t, 3, n)
}

func TestSQLLimiter_BucketsAndUsersAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewSQLLimiter(openTestDB(t))

	d, err := l.Allow(ctx, 1, BucketChat, 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, 1, BucketImages, 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, 2, BucketChat, 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, 1, BucketChat, 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestSQLLimiter_WindowSlides(t *testing.T) {
	ctx := context.Background()
	l := NewSQLLimiter(openTestDB(t))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	_, err := l.Allow(ctx, 1, BucketChat, 1, time.Hour)
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	d, err := l.Allow(ctx, 1, BucketChat, 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	now = now.Add(31 * time.Minute)
	d, err = l.Allow(ctx, 1, BucketChat, 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	pruned, err := l.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)
}
