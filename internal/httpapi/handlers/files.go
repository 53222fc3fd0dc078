package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/webchat/internal/blob"
	"github.com/suPer8Hu/webchat/internal/common"
)

const defaultMaxUpload = 20 << 20

func (h *Handler) UploadFile(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10007, "file is required")
		return
	}
	if fh.Size > limit {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "file too large")
		return
	}
	category := blob.Category(c.DefaultPostForm("category", string(blob.CategoryDocuments)))

	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10007, "file is unreadable")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10007, "file is unreadable")
		return
	}

	meta, err := h.Files.Save(c.Request.Context(), uid, data, fh.Filename, fh.Header.Get("Content-Type"), category, nil)
	switch {
	case errors.Is(err, blob.ErrInvalidCategory):
		common.Fail(c, http.StatusBadRequest, 10008, "invalid category")
	case errors.Is(err, blob.ErrEmptyFile):
		common.Fail(c, http.StatusBadRequest, 10007, "file is empty")
	case err != nil:
		h.internalError(c, 50010, "failed to save file", err)
	default:
		common.OK(c, gin.H{"file": meta})
	}
}

func (h *Handler) ListFiles(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	files, err := h.Files.List(c.Request.Context(), uid, blob.Category(c.Query("category")))
	if errors.Is(err, blob.ErrInvalidCategory) {
		common.Fail(c, http.StatusBadRequest, 10008, "invalid category")
		return
	}
	if err != nil {
		h.internalError(c, 50011, "failed to list files", err)
		return
	}
	common.OK(c, gin.H{"files": files})
}

func (h *Handler) DownloadFile(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	meta, data, err := h.Files.Read(c.Request.Context(), uid, c.Param("id"))
	if errors.Is(err, blob.ErrNotFound) {
		common.Fail(c, http.StatusNotFound, 40405, "file not found")
		return
	}
	if err != nil {
		h.internalError(c, 50012, "failed to read file", err)
		return
	}
	disposition := "attachment"
	if c.Query("inline") == "1" {
		disposition = "inline"
	}
	c.Header("Content-Disposition", disposition+"; filename*=UTF-8''"+url.PathEscape(meta.OriginalName))
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, meta.ContentType, data)
}

func (h *Handler) DeleteFile(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	deleted, err := h.Files.Delete(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		h.internalError(c, 50013, "failed to delete file", err)
		return
	}
	common.OK(c, gin.H{"deleted": deleted})
}
