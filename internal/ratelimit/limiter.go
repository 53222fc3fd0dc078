// Package ratelimit caps requests per user and bucket over a time window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/suPer8Hu/webchat/internal/logger"
	"github.com/suPer8Hu/webchat/internal/models"
	"github.com/suPer8Hu/webchat/internal/store/redisstore"
	"gorm.io/gorm"
)

const (
	BucketChat   = "chat"
	BucketImages = "images"
)

type Decision struct {
	Allowed bool      `json:"-"`
	Limit   int       `json:"limit"`
	Used    int       `json:"used"`
	ResetAt time.Time `json:"reset_at"`
}

type Limiter interface {
	Allow(ctx context.Context, userID uint64, bucket string, limit int, window time.Duration) (Decision, error)
}

// SQLLimiter keeps one rate_limit_logs row per allowed request and counts rows
// inside a sliding window.
type SQLLimiter struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLLimiter(db *gorm.DB) *SQLLimiter {
	return &SQLLimiter{db: db, now: time.Now}
}

func (l *SQLLimiter) Allow(ctx context.Context, userID uint64, bucket string, limit int, window time.Duration) (Decision, error) {
	now := l.now()
	since := now.Add(-window)

	d := Decision{Limit: limit}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var used int64
		if err := tx.Model(&models.RateLimitLog{}).
			Where("user_id = ? AND bucket = ? AND created_at > ?", userID, bucket, since).
			Count(&used).Error; err != nil {
			return err
		}

		var oldest models.RateLimitLog
		res := tx.Where("user_id = ? AND bucket = ? AND created_at > ?", userID, bucket, since).
			Order("created_at ASC").Limit(1).Find(&oldest)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			d.ResetAt = oldest.CreatedAt.Add(window)
		} else {
			d.ResetAt = now.Add(window)
		}

		if int(used) >= limit {
			d.Used = int(used)
			return nil
		}
		if err := tx.Create(&models.RateLimitLog{UserID: userID, Bucket: bucket, CreatedAt: now}).Error; err != nil {
			return err
		}
		d.Allowed = true
		d.Used = int(used) + 1
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// Prune deletes rows older than window.
func (l *SQLLimiter) Prune(ctx context.Context, window time.Duration) (int64, error) {
	res := l.db.WithContext(ctx).Where("created_at < ?", l.now().Add(-window)).Delete(&models.RateLimitLog{})
	return res.RowsAffected, res.Error
}

// RedisLimiter counts hits in fixed windows keyed by user and bucket.
type RedisLimiter struct {
	store *redisstore.Store
}

func NewRedisLimiter(store *redisstore.Store) *RedisLimiter {
	return &RedisLimiter{store: store}
}

func (l *RedisLimiter) Allow(ctx context.Context, userID uint64, bucket string, limit int, window time.Duration) (Decision, error) {
	key := fmt.Sprintf("ratelimit:%s:%d", bucket, userID)
	n, left, err := l.store.IncrWindow(ctx, key, window)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Limit: limit, Used: int(n), ResetAt: time.Now().Add(left)}
	if int(n) > limit {
		// rejected hits do not count
		_ = l.store.Decr(ctx, key)
		d.Used = limit
		return d, nil
	}
	d.Allowed = true
	return d, nil
}

// RunPruner drops expired rows every interval until ctx is done.
func (l *SQLLimiter) RunPruner(ctx context.Context, window, interval time.Duration, log *logger.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := l.Prune(ctx, window)
			if err != nil {
				log.Warn("rate limit prune failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("rate limit rows pruned", "rows", n)
			}
		}
	}
}
