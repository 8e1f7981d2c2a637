package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/middleware"
	"go.uber.org/zap"
)

// FriendRequestHandler serves friend requests and group invites. A
// request with a group_id is an invite into that group.
type FriendRequestHandler struct {
	registry *chat.Registry
	mediaURL string
	logger   *zap.Logger
}

func NewFriendRequestHandler(registry *chat.Registry, mediaURL string, logger *zap.Logger) *FriendRequestHandler {
	return &FriendRequestHandler{registry: registry, mediaURL: mediaURL, logger: logger}
}

type sendFriendRequestRequest struct {
	ToUser        uuid.UUID  `json:"to_user" binding:"required"`
	InviteMessage string     `json:"invite_message" binding:"max=50"`
	GroupID       *uuid.UUID `json:"group_id"`
}

// Send handles POST /v1/friend-requests
func (h *FriendRequestHandler) Send(c *gin.Context) {
	var req sendFriendRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fr, err := h.registry.SendFriendRequest(c.Request.Context(), middleware.GetUserID(c), req.ToUser, req.InviteMessage, req.GroupID)
	if err != nil {
		respondError(c, h.logger, err, "send friend request")
		return
	}
	c.JSON(http.StatusCreated, fr)
}

// ListIncoming handles GET /v1/friend-requests
func (h *FriendRequestHandler) ListIncoming(c *gin.Context) {
	list, err := h.registry.IncomingRequests(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err, "list friend requests")
		return
	}
	c.JSON(http.StatusOK, list)
}

// Accept handles POST /v1/friend-requests/:id/accept and returns the
// friend pair or group the request led to.
func (h *FriendRequestHandler) Accept(c *gin.Context) {
	requestID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	conv, err := h.registry.AcceptFriendRequest(c.Request.Context(), middleware.GetUserID(c), requestID)
	if err != nil {
		respondError(c, h.logger, err, "accept friend request")
		return
	}
	c.JSON(http.StatusOK, conversationResponse{
		Conversation: conv,
		ImageURL:     chat.ResolveDisplayURL(h.mediaURL, chat.ConversationImage{C: conv}),
	})
}

// Decline handles POST /v1/friend-requests/:id/decline
func (h *FriendRequestHandler) Decline(c *gin.Context) {
	requestID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.registry.DeclineFriendRequest(c.Request.Context(), middleware.GetUserID(c), requestID); err != nil {
		respondError(c, h.logger, err, "decline friend request")
		return
	}
	c.Status(http.StatusNoContent)
}
