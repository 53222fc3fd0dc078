package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/auth"
	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/models"
)

const SessionCookieName = "webchat_session"

type Authenticator interface {
	Authenticate(ctx context.Context, token string, client auth.Client) (*models.User, *models.UserSession, error)
}

// AuthRequired accepts the session cookie or a Bearer token.
func AuthRequired(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			common.FailWith(c, http.StatusUnauthorized, 40101, "unauthorized", nil)
			return
		}
		u, sess, err := a.Authenticate(c.Request.Context(), token, auth.Client{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		if errors.Is(err, auth.ErrSessionInvalid) {
			common.FailWith(c, http.StatusUnauthorized, 40102, "invalid or expired session", nil)
			return
		}
		if err != nil {
			_ = c.Error(err)
			common.FailWith(c, http.StatusInternalServerError, 50030, "failed to authenticate", nil)
			return
		}
		c.Set(UserIDKey, u.ID)
		c.Set(UserKey, u)
		c.Set(SessionIDKey, sess.ID)
		c.Next()
	}
}

func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := UserFromContext(c)
		if !ok {
			common.FailWith(c, http.StatusUnauthorized, 40101, "unauthorized", nil)
			return
		}
		for _, r := range roles {
			if u.Role == r {
				c.Next()
				return
			}
		}
		common.FailWith(c, http.StatusForbidden, 40301, "forbidden", nil)
	}
}

func extractToken(c *gin.Context) string {
	if v, err := c.Cookie(SessionCookieName); err == nil && v != "" {
		return v
	}
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
