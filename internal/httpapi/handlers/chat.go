package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/ai"
	"github.com/suPer8Hu/webchat/internal/chat"
	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/render"
)

const sseHeartbeat = 15 * time.Second

type sendMessageReq struct {
	ConversationID uint64 `json:"conversation_id"`
	Message        string `json:"message"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

func (h *Handler) bindSend(c *gin.Context) (chat.SendInput, bool) {
	uid, ok := userID(c)
	if !ok {
		return chat.SendInput{}, false
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return chat.SendInput{}, false
	}
	return chat.SendInput{
		UserID:         uid,
		ConversationID: req.ConversationID,
		Content:        req.Message,
		Provider:       req.Provider,
		Model:          req.Model,
	}, true
}

// sendError maps errors raised before any reply exists.
func (h *Handler) sendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10003, "message is required")
	case errors.Is(err, ai.ErrUnknownProvider):
		common.Fail(c, http.StatusBadRequest, 10006, "unknown provider")
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40404, "conversation not found")
	case errors.Is(err, chat.ErrUpstream):
		h.Log.Warn("chat upstream failed", "error", err)
		common.Fail(c, http.StatusBadGateway, 50201, "the model failed to answer, please retry")
	default:
		h.internalError(c, 50001, "failed to send message", err)
	}
}

func (h *Handler) SendMessage(c *gin.Context) {
	in, ok := h.bindSend(c)
	if !ok {
		return
	}
	res, err := h.Chat.SendMessage(c.Request.Context(), in)
	if err != nil {
		h.sendError(c, err)
		return
	}
	data := gin.H{
		"conversation":      res.Conversation,
		"user_message":      res.UserMessage,
		"assistant_message": res.AssistantMessage,
		"unavailable":       res.Unavailable,
	}
	if res.AssistantMessage != nil {
		data["html"] = render.Render(res.AssistantMessage.Content)
	}
	common.OK(c, data)
}

func (h *Handler) SendMessageStream(c *gin.Context) {
	in, ok := h.bindSend(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	events, err := h.Chat.SendMessageStream(ctx, in)
	if err != nil {
		h.sendError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		// drain so the orchestrator can finish and persist
		go func() {
			for range events {
			}
		}()
		common.Fail(c, http.StatusInternalServerError, 50005, "streaming unsupported")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	// avoid gin writing a JSON response later
	c.Status(http.StatusOK)

	writeJSON := func(event chat.EventType, payload gin.H) {
		payload["type"] = event
		b, err := json.Marshal(payload)
		if err != nil {
			// last-resort: keep SSE framing intact
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"type\":\"error\",\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case chat.EventStart:
				writeJSON(ev.Type, gin.H{"conversation": ev.Conversation, "user_message": ev.UserMessage})
			case chat.EventContent:
				writeJSON(ev.Type, gin.H{"content": ev.Content})
			case chat.EventDone:
				p := gin.H{"message": ev.Message, "unavailable": ev.Unavailable}
				if ev.Message != nil {
					p["html"] = render.Render(ev.Message.Content)
				}
				writeJSON(ev.Type, p)
			case chat.EventError:
				msg := "failed to generate a response"
				if errors.Is(ev.Err, chat.ErrUpstream) {
					msg = "the model failed to answer, please retry"
				}
				h.Log.Warn("chat stream failed", "conversation_id", in.ConversationID, "error", ev.Err)
				writeJSON(ev.Type, gin.H{"message": msg})
			}

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()

		case <-ctx.Done():
			// orchestrator sees the same ctx; drain so it can exit
			go func() {
				for range events {
				}
			}()
			return
		}
	}
}
