package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/middleware"
	"github.com/lalith-99/chatline/internal/repository"
	"github.com/lalith-99/chatline/internal/storage"
	"go.uber.org/zap"
)

type AttachmentHandler struct {
	log    *chat.Log
	logger *zap.Logger
}

func NewAttachmentHandler(log *chat.Log, logger *zap.Logger) *AttachmentHandler {
	return &AttachmentHandler{log: log, logger: logger}
}

// Download handles GET /v1/attachments/:key
//
// The caller must belong to a conversation holding a message with this
// attachment.
func (h *AttachmentHandler) Download(c *gin.Context) {
	key := c.Param("key")

	data, err := h.log.Attachment(c.Request.Context(), middleware.GetUserID(c), key)
	if err != nil {
		respondError(c, h.logger, err, "download attachment")
		return
	}
	serveBlob(c, key, data, "private")
}

// MediaHandler serves blobs that are public by nature: link preview
// images fetched from public sites. They are loaded by <img> tags, which
// carry no bearer token, so the route is unauthenticated and only
// answers for keys a stored preview points at.
type MediaHandler struct {
	links  repository.LinkRepository
	blobs  storage.Store
	logger *zap.Logger
}

func NewMediaHandler(links repository.LinkRepository, blobs storage.Store, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{links: links, blobs: blobs, logger: logger}
}

// Get handles GET /v1/media/:key
func (h *MediaHandler) Get(c *gin.Context) {
	key := c.Param("key")
	if !storage.ValidKey(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	ctx := c.Request.Context()

	public, err := h.links.PreviewInUse(ctx, key)
	if err != nil {
		h.logger.Error("preview lookup failed", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load media"})
		return
	}
	if !public {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	data, err := h.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.logger.Error("media read failed", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media storage unavailable"})
		return
	}
	serveBlob(c, key, data, "public")
}

// serveBlob writes stored bytes with a sniffed type. Only media a browser
// renders without running script is served inline; everything else,
// SVG included, is forced to a download so uploaded HTML never executes
// on this origin.
func serveBlob(c *gin.Context, key string, data []byte, cacheScope string) {
	contentType := mimetype.Detect(data).String()
	if !inlineSafe(contentType) {
		contentType = "application/octet-stream"
		c.Header("Content-Disposition", "attachment")
	}
	c.Header("Cache-Control", cacheScope+", max-age=31536000, immutable")
	c.Header("ETag", `"`+key+`"`)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Content-Security-Policy", "default-src 'none'; sandbox")
	c.Data(http.StatusOK, contentType, data)
}

func inlineSafe(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	switch {
	case strings.HasPrefix(base, "image/"):
		return base != "image/svg+xml"
	case strings.HasPrefix(base, "audio/"), strings.HasPrefix(base, "video/"):
		return true
	}
	return false
}
