package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/logger"
	"github.com/suPer8Hu/webchat/internal/ratelimit"
)

// RateLimit must run after AuthRequired. limit <= 0 disables it. Limiter
// errors let the request through.
func RateLimit(l ratelimit.Limiter, bucket string, limit int, window time.Duration, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := UserIDFromContext(c)
		if !ok || l == nil || limit <= 0 {
			c.Next()
			return
		}
		d, err := l.Allow(c.Request.Context(), uid, bucket, limit, window)
		if err != nil {
			log.Warn("rate limiter failed, allowing request", "bucket", bucket, "user_id", uid, "error", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(d.Limit-d.Used, 0)))
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(max(int(time.Until(d.ResetAt).Seconds()), 1)))
			common.FailWith(c, http.StatusTooManyRequests, 42901, "rate limit exceeded", d)
			return
		}
		c.Next()
	}
}
