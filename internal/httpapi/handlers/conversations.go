package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/ai"
	"github.com/suPer8Hu/webchat/internal/chat"
	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/render"
)

type titleReq struct {
	Title string `json:"title"`
}

func (h *Handler) ListConversations(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	convs, err := h.Chat.ListConversations(c.Request.Context(), uid)
	if err != nil {
		h.internalError(c, 50002, "failed to list conversations", err)
		return
	}
	common.OK(c, gin.H{"conversations": convs})
}

func (h *Handler) CreateConversation(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req titleReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	conv, err := h.Chat.CreateConversation(c.Request.Context(), uid, req.Title)
	if err != nil {
		h.internalError(c, 50001, "failed to create conversation", err)
		return
	}
	common.OK(c, gin.H{"conversation": conv})
}

func (h *Handler) RenameConversation(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req titleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	conv, err := h.Chat.RenameConversation(c.Request.Context(), uid, id, req.Title)
	switch {
	case errors.Is(err, chat.ErrEmptyTitle):
		common.Fail(c, http.StatusBadRequest, 10005, "title is required")
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40404, "conversation not found")
	case err != nil:
		h.internalError(c, 50003, "failed to rename conversation", err)
	default:
		common.OK(c, gin.H{"conversation": conv})
	}
}

// DeleteConversation reports deleted=false for missing or foreign ids.
func (h *Handler) DeleteConversation(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	deleted, err := h.Chat.DeleteConversation(c.Request.Context(), uid, id)
	if err != nil {
		h.internalError(c, 50004, "failed to delete conversation", err)
		return
	}
	common.OK(c, gin.H{"deleted": deleted})
}

type messageView struct {
	chat.Message
	HTML string `json:"html,omitempty"`
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	// foreign and missing conversations look the same
	if _, err := h.Chat.GetConversation(c.Request.Context(), uid, id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "conversation not found")
			return
		}
		h.internalError(c, 50002, "failed to list messages", err)
		return
	}

	msgs, err := h.Chat.ListMessages(c.Request.Context(), uid, id)
	if err != nil {
		h.internalError(c, 50002, "failed to list messages", err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		v := messageView{Message: m}
		if m.Role == ai.RoleAssistant {
			v.HTML = render.Render(m.Content)
		}
		out = append(out, v)
	}
	common.OK(c, gin.H{"messages": out})
}

type renderReq struct {
	Markdown string `json:"markdown"`
}

func (h *Handler) Render(c *gin.Context) {
	var req renderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	common.OK(c, gin.H{"html": render.Render(req.Markdown)})
}
