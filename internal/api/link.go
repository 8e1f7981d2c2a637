package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/middleware"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/repository"
	"go.uber.org/zap"
)

// PreviewScheduler queues a background preview fetch for a link URL.
type PreviewScheduler interface {
	Schedule(ctx context.Context, rawURL string) error
}

type LinkHandler struct {
	repo      repository.LinkRepository
	scheduler PreviewScheduler
	mediaURL  string
	logger    *zap.Logger
}

func NewLinkHandler(repo repository.LinkRepository, scheduler PreviewScheduler, mediaURL string, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{repo: repo, scheduler: scheduler, mediaURL: mediaURL, logger: logger}
}

type createLinkRequest struct {
	URL  string `json:"url" binding:"required,url,max=100"`
	Name string `json:"name" binding:"required,max=100"`
}

type linkResponse struct {
	*models.Link
	ImageURL string `json:"image_url"`
}

func (h *LinkHandler) present(l *models.Link) linkResponse {
	return linkResponse{Link: l, ImageURL: chat.ResolveDisplayURL(h.mediaURL, chat.LinkImage{L: l})}
}

// Create handles POST /v1/links
//
// The preview image is fetched in the background. Until it lands the
// link renders with its default tile.
func (h *LinkHandler) Create(c *gin.Context) {
	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	link, err := h.repo.Create(ctx, middleware.GetUserID(c), req.URL, req.Name)
	if err != nil {
		h.logger.Error("failed to create link", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create link"})
		return
	}

	if link.PreviewKey == "" && h.scheduler != nil {
		if err := h.scheduler.Schedule(ctx, link.URL); err != nil {
			h.logger.Warn("failed to schedule link preview", zap.String("url", link.URL), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, h.present(link))
}

// List handles GET /v1/links
func (h *LinkHandler) List(c *gin.Context) {
	links, err := h.repo.ListByUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to list links", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list links"})
		return
	}

	out := make([]linkResponse, 0, len(links))
	for i := range links {
		out = append(out, h.present(&links[i]))
	}
	c.JSON(http.StatusOK, out)
}
