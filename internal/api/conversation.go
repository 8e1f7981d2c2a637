package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/middleware"
	"github.com/lalith-99/chatline/internal/models"
	"go.uber.org/zap"
)

// ConversationHandler serves rooms, groups and friend pairs.
type ConversationHandler struct {
	registry *chat.Registry
	mediaURL string
	logger   *zap.Logger
}

func NewConversationHandler(registry *chat.Registry, mediaURL string, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{registry: registry, mediaURL: mediaURL, logger: logger}
}

type conversationResponse struct {
	*models.Conversation
	ImageURL string `json:"image_url"`
}

func (h *ConversationHandler) present(c *models.Conversation) conversationResponse {
	return conversationResponse{
		Conversation: c,
		ImageURL:     chat.ResolveDisplayURL(h.mediaURL, chat.ConversationImage{C: c}),
	}
}

// createRoomRequest is the body of POST /v1/rooms. Unset show_name and
// about fall back to the name and a stock greeting.
type createRoomRequest struct {
	Name     string `json:"name" binding:"required,max=128"`
	ShowName string `json:"show_name" binding:"max=128"`
	About    string `json:"about" binding:"max=1024"`
}

// CreateRoom handles POST /v1/rooms
func (h *ConversationHandler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.registry.CreateRoom(c.Request.Context(), middleware.GetUserID(c), req.Name, req.ShowName, req.About)
	if err != nil {
		respondError(c, h.logger, err, "create room")
		return
	}
	c.JSON(http.StatusCreated, h.present(room))
}

type createGroupRequest struct {
	Name      string      `json:"name" binding:"required,max=128"`
	About     string      `json:"about" binding:"max=1024"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}

// CreateGroup handles POST /v1/groups
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.registry.CreateGroup(c.Request.Context(), middleware.GetUserID(c), req.Name, req.About, req.MemberIDs)
	if err != nil {
		respondError(c, h.logger, err, "create group")
		return
	}
	c.JSON(http.StatusCreated, h.present(group))
}

// OpenFriendPair handles POST /v1/friends/:user_id
//
// Returns the existing pair if there is one, so the call is safe to
// repeat from either side.
func (h *ConversationHandler) OpenFriendPair(c *gin.Context) {
	other, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}

	pair, err := h.registry.OpenFriendPair(c.Request.Context(), middleware.GetUserID(c), other)
	if err != nil {
		respondError(c, h.logger, err, "open friend pair")
		return
	}
	c.JSON(http.StatusOK, h.present(pair))
}

// List handles GET /v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	list, err := h.registry.ListForUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err, "list conversations")
		return
	}

	out := make([]conversationResponse, 0, len(list))
	for i := range list {
		out = append(out, h.present(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetByID handles GET /v1/conversations/:id
//
// Rooms are public: anyone may look one up before joining. Groups and
// friend pairs are only visible to their members.
func (h *ConversationHandler) GetByID(c *gin.Context) {
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	conv, err := h.registry.Resolve(ctx, conversationID)
	if err != nil {
		respondError(c, h.logger, err, "get conversation")
		return
	}
	if conv.Kind != models.KindRoom {
		if _, err := h.registry.Authorize(ctx, middleware.GetUserID(c), conversationID); err != nil {
			respondError(c, h.logger, err, "get conversation")
			return
		}
	}
	c.JSON(http.StatusOK, h.present(conv))
}

// Delete handles DELETE /v1/conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.registry.Delete(c.Request.Context(), middleware.GetUserID(c), conversationID); err != nil {
		respondError(c, h.logger, err, "delete conversation")
		return
	}
	c.Status(http.StatusNoContent)
}
