package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/auth"
	"github.com/suPer8Hu/webchat/internal/blob"
	"github.com/suPer8Hu/webchat/internal/chat"
	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/webchat/internal/imagegen"
	"github.com/suPer8Hu/webchat/internal/logger"
)

type Handler struct {
	Auth   *auth.Service
	Chat   *chat.Service
	Files  *blob.Store
	Images *imagegen.Gateway
	Jobs   *imagegen.JobService
	Log    *logger.Logger

	CookieSecure bool
	// MaxUploadBytes caps multipart uploads.
	MaxUploadBytes int64
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userID(c *gin.Context) (uint64, bool) {
	uid, ok := middleware.UserIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid "+name)
		return 0, false
	}
	return id, true
}

// internalError logs the cause and answers with a generic message.
func (h *Handler) internalError(c *gin.Context, code int, msg string, err error) {
	h.Log.Error(msg, "path", c.FullPath(), "request_id", c.GetString(middleware.RequestIDKey), "error", err)
	common.Fail(c, http.StatusInternalServerError, code, msg)
}
