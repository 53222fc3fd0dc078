package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/models"
)

const (
	UserIDKey    = "user_id"
	UserKey      = "user"
	SessionIDKey = "session_id"
	RequestIDKey = "request_id"
)

func UserIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func UserFromContext(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*models.User)
	return u, ok && u != nil
}

func SessionIDFromContext(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}
