package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/auth"
	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/webchat/internal/models"
)

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	token, u, err := h.Auth.Login(c.Request.Context(), req.Username, req.Password, auth.Client{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if errors.Is(err, auth.ErrInvalidCredentials) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid username or password")
		return
	}
	if err != nil {
		h.internalError(c, 50001, "login failed", err)
		return
	}

	h.setSessionCookie(c, token, int(h.Auth.TTL().Seconds()))
	common.OK(c, gin.H{"token": token, "user": u})
}

func (h *Handler) Logout(c *gin.Context) {
	if sid := middleware.SessionIDFromContext(c); sid != "" {
		if err := h.Auth.Logout(c.Request.Context(), sid); err != nil {
			h.internalError(c, 50001, "logout failed", err)
			return
		}
	}
	h.setSessionCookie(c, "", -1)
	common.OK(c, nil)
}

func (h *Handler) Me(c *gin.Context) {
	u, ok := middleware.UserFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	common.OK(c, gin.H{"user": u})
}

func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, value, maxAge, "/", "", h.CookieSecure, true)
}

type createUserReq struct {
	Username       string `json:"username" binding:"required"`
	Password       string `json:"password" binding:"required"`
	Role           string `json:"role"`
	JobTitle       string `json:"job_title"`
	Company        string `json:"company"`
	JobDescription string `json:"job_description"`
}

// CreateUser is the admin-only account creation endpoint.
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	u, err := h.Auth.CreateUser(c.Request.Context(), auth.NewUser{
		Username:       req.Username,
		Password:       req.Password,
		Role:           models.Role(req.Role),
		JobTitle:       req.JobTitle,
		Company:        req.Company,
		JobDescription: req.JobDescription,
	})
	switch {
	case errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, auth.ErrWeakPassword):
		common.Fail(c, http.StatusBadRequest, 10004, err.Error())
		return
	case errors.Is(err, auth.ErrUserExists):
		common.Fail(c, http.StatusConflict, 40901, err.Error())
		return
	case err != nil:
		h.internalError(c, 50001, "create user failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": 0, "message": "ok", "data": gin.H{"user": u}})
}
