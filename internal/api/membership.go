package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/middleware"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/realtime"
	"go.uber.org/zap"
)

// MembershipHandler serves join/leave and who is in (and online in) a
// conversation.
type MembershipHandler struct {
	registry *chat.Registry
	presence *realtime.Presence
	logger   *zap.Logger
}

func NewMembershipHandler(registry *chat.Registry, presence *realtime.Presence, logger *zap.Logger) *MembershipHandler {
	return &MembershipHandler{registry: registry, presence: presence, logger: logger}
}

// Join handles POST /v1/conversations/:id/join
//
// Only rooms can be joined this way. Groups are entered by accepting an
// invite, and friend pairs have fixed membership.
func (h *MembershipHandler) Join(c *gin.Context) {
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	conv, err := h.registry.Resolve(ctx, conversationID)
	if err != nil {
		respondError(c, h.logger, err, "join conversation")
		return
	}
	if conv.Kind == models.KindGroup {
		c.JSON(http.StatusForbidden, gin.H{"error": "groups are invitation only"})
		return
	}

	if _, err := h.registry.Join(ctx, userID, conversationID); err != nil {
		respondError(c, h.logger, err, "join conversation")
		return
	}
	h.presence.MarkOnline(userID, conversationID)

	c.Status(http.StatusNoContent)
}

// Leave handles POST /v1/conversations/:id/leave
func (h *MembershipHandler) Leave(c *gin.Context) {
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.registry.Leave(c.Request.Context(), middleware.GetUserID(c), conversationID); err != nil {
		respondError(c, h.logger, err, "leave conversation")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMembers handles GET /v1/conversations/:id/members
func (h *MembershipHandler) ListMembers(c *gin.Context) {
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	conv, err := h.registry.Authorize(ctx, middleware.GetUserID(c), conversationID)
	if err != nil {
		respondError(c, h.logger, err, "list members")
		return
	}
	members, err := h.registry.Members(ctx, conv)
	if err != nil {
		respondError(c, h.logger, err, "list members")
		return
	}
	c.JSON(http.StatusOK, members)
}

// Presence handles GET /v1/conversations/:id/presence
func (h *MembershipHandler) Presence(c *gin.Context) {
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if _, err := h.registry.Authorize(c.Request.Context(), middleware.GetUserID(c), conversationID); err != nil {
		respondError(c, h.logger, err, "get presence")
		return
	}

	online := h.presence.Online(conversationID)
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"online_count":    len(online),
		"online":          online,
	})
}
