package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/middleware"
	"github.com/lalith-99/chatline/internal/realtime"
	"github.com/lalith-99/chatline/internal/repository"
	"github.com/lalith-99/chatline/internal/storage"
	"go.uber.org/zap"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Users    repository.UserRepository
	Links    repository.LinkRepository
	Registry *chat.Registry
	Log      *chat.Log
	Hub      *realtime.Hub
	Presence *realtime.Presence
	Previews PreviewScheduler
	Blobs    storage.Store

	// Health reports whether backing services are reachable. Nil means
	// always healthy.
	Health func(ctx context.Context) error

	JWTSecret          string
	TokenTTL           time.Duration
	MediaURL           string
	PublicMediaURL     string
	MaxAttachmentBytes int64
	Logger             *zap.Logger
}

// NewRouter builds the gin engine with every /v1 route.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger

	srv := gin.New()
	srv.Use(middleware.RequestLogger(logger), gin.Recovery())

	authHandler := NewAuthHandler(d.Users, d.JWTSecret, d.TokenTTL, logger)
	userHandler := NewUserHandler(d.Users, d.MediaURL, logger)
	conversationHandler := NewConversationHandler(d.Registry, d.MediaURL, logger)
	membershipHandler := NewMembershipHandler(d.Registry, d.Presence, logger)
	messageHandler := NewMessageHandler(d.Log, d.MediaURL, d.MaxAttachmentBytes, logger)
	attachmentHandler := NewAttachmentHandler(d.Log, logger)
	friendHandler := NewFriendRequestHandler(d.Registry, d.MediaURL, logger)
	linkHandler := NewLinkHandler(d.Links, d.Previews, d.PublicMediaURL, logger)
	mediaHandler := NewMediaHandler(d.Links, d.Blobs, logger)
	socketHandler := NewSocketHandler(d.Registry, d.Log, d.Hub, d.Presence, d.MediaURL, logger)

	// Public routes. Load balancers check health without a token.
	srv.GET("/v1/health", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/login", authHandler.Login)
	srv.GET("/v1/media/:key", mediaHandler.Get)

	// Browsers cannot set headers on a websocket handshake, so this is
	// the one route that also takes the token from the query string.
	srv.GET("/v1/ws", middleware.SocketAuthMiddleware(d.JWTSecret), socketHandler.Serve)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.JWTSecret))

	v1.GET("/users/me", userHandler.GetMe)

	v1.POST("/rooms", conversationHandler.CreateRoom)
	v1.POST("/groups", conversationHandler.CreateGroup)
	v1.POST("/friends/:user_id", conversationHandler.OpenFriendPair)

	v1.GET("/conversations", conversationHandler.List)
	v1.GET("/conversations/:id", conversationHandler.GetByID)
	v1.DELETE("/conversations/:id", conversationHandler.Delete)
	v1.POST("/conversations/:id/join", membershipHandler.Join)
	v1.POST("/conversations/:id/leave", membershipHandler.Leave)
	v1.GET("/conversations/:id/members", membershipHandler.ListMembers)
	v1.GET("/conversations/:id/presence", membershipHandler.Presence)
	v1.POST("/conversations/:id/messages", messageHandler.Create)
	v1.GET("/conversations/:id/messages", messageHandler.List)

	v1.GET("/attachments/:key", attachmentHandler.Download)

	v1.POST("/friend-requests", friendHandler.Send)
	v1.GET("/friend-requests", friendHandler.ListIncoming)
	v1.POST("/friend-requests/:id/accept", friendHandler.Accept)
	v1.POST("/friend-requests/:id/decline", friendHandler.Decline)

	v1.POST("/links", linkHandler.Create)
	v1.GET("/links", linkHandler.List)

	return srv
}
