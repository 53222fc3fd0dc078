package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/common"
	"github.com/suPer8Hu/webchat/internal/imagegen"
)

type generateImageReq struct {
	Prompt   string  `json:"prompt"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	CfgScale float64 `json:"cfg_scale"`
	Style    string  `json:"style"`
	Async    bool    `json:"async"`
}

func (h *Handler) GenerateImage(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req generateImageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	opts := imagegen.Options{
		Width:    req.Width,
		Height:   req.Height,
		Steps:    req.Steps,
		CfgScale: req.CfgScale,
		Style:    req.Style,
	}

	if req.Async {
		h.submitImageJob(c, uid, req.Prompt, opts)
		return
	}

	meta, err := h.Images.GenerateImage(c.Request.Context(), uid, req.Prompt, opts)
	if err != nil {
		h.imageError(c, err)
		return
	}
	common.OK(c, gin.H{"file": meta, "url": "/files/" + meta.ID + "?inline=1"})
}

func (h *Handler) submitImageJob(c *gin.Context, uid uint64, prompt string, opts imagegen.Options) {
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(key) > 128 {
		common.Fail(c, http.StatusBadRequest, 10009, "idempotency key too long")
		return
	}
	if h.Jobs == nil || !h.Jobs.Enabled() {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async image jobs are disabled")
		return
	}

	job, created, err := h.Jobs.Submit(c.Request.Context(), uid, prompt, opts, key)
	if err != nil {
		h.imageError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "ok",
		"data":    gin.H{"job_id": job.ID, "status": job.Status, "created": created},
	})
}

func (h *Handler) imageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, imagegen.ErrEmptyPrompt):
		common.Fail(c, http.StatusBadRequest, 10010, "prompt is required")
	case errors.Is(err, imagegen.ErrInvalidStyle):
		common.Fail(c, http.StatusBadRequest, 10011, "invalid style")
	case errors.Is(err, imagegen.ErrQueueDisabled):
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async image jobs are disabled")
	default:
		h.internalError(c, 50020, "image generation failed", err)
	}
}

func (h *Handler) GetImageJob(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	if h.Jobs == nil {
		common.Fail(c, http.StatusNotFound, 40406, "job not found")
		return
	}
	j, err := h.Jobs.Get(c.Request.Context(), uid, c.Param("job_id"))
	if errors.Is(err, imagegen.ErrJobNotFound) {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40406, "job not found")
		return
	}
	if err != nil {
		h.internalError(c, 50021, "failed to load job", err)
		return
	}
	common.OK(c, gin.H{"job": j})
}
