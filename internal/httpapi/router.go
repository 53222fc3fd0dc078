package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/webchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/webchat/internal/models"
	"github.com/suPer8Hu/webchat/internal/ratelimit"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Limits struct {
	ChatPerHour   int
	ImagesPerHour int
}

type Deps struct {
	Handler     *handlers.Handler
	Limiter     ratelimit.Limiter
	Limits      Limits
	CORSOrigins []string
	ServiceName string
}

func NewRouter(d Deps) *gin.Engine {
	h := d.Handler
	log := h.Log

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	if len(d.CORSOrigins) > 0 {
		r.Use(middleware.CORS(d.CORSOrigins))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Auth))
	authGroup.POST("/logout", h.Logout)
	authGroup.GET("/me", h.Me)

	authGroup.GET("/conversations", h.ListConversations)
	authGroup.POST("/conversations", h.CreateConversation)
	authGroup.PATCH("/conversations/:id", h.RenameConversation)
	authGroup.DELETE("/conversations/:id", h.DeleteConversation)
	authGroup.GET("/conversations/:id/messages", h.ListMessages)

	chatLimit := middleware.RateLimit(d.Limiter, ratelimit.BucketChat, d.Limits.ChatPerHour, time.Hour, log)
	authGroup.POST("/chat", chatLimit, h.SendMessage)
	authGroup.POST("/chat/stream", chatLimit, h.SendMessageStream)

	authGroup.POST("/files", h.UploadFile)
	authGroup.GET("/files", h.ListFiles)
	authGroup.GET("/files/:id", h.DownloadFile)
	authGroup.DELETE("/files/:id", h.DeleteFile)

	imageLimit := middleware.RateLimit(d.Limiter, ratelimit.BucketImages, d.Limits.ImagesPerHour, time.Hour, log)
	authGroup.POST("/images/generate", imageLimit, h.GenerateImage)
	authGroup.GET("/images/jobs/:job_id", h.GetImageJob)

	authGroup.POST("/render", h.Render)

	admin := authGroup.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleSuper))
	admin.POST("/users", h.CreateUser)

	return r
}
