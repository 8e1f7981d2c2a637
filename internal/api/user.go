package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/middleware"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	repo     repository.UserRepository
	mediaURL string
	logger   *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, mediaURL string, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, mediaURL: mediaURL, logger: logger}
}

type userResponse struct {
	*models.User
	ImageURL string `json:"image_url"`
}

// GetMe handles GET /v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := middleware.GetUserID(c)

	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}

	// A valid token for a user that no longer exists.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, userResponse{
		User:     user,
		ImageURL: chat.ResolveDisplayURL(h.mediaURL, chat.UserImage{U: user}),
	})
}
