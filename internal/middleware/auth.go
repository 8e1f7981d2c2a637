package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/auth"
)

// Context keys for claims stored in gin.Context.
const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "email"
)

// AuthMiddleware validates the "Authorization: Bearer <token>" header and
// stores its claims for handlers further down the chain.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return authenticate(secret, false)
}

// SocketAuthMiddleware is AuthMiddleware for the websocket handshake. It
// also accepts an access_token query parameter, because browsers cannot
// set headers on the upgrade request. Nowhere else may a token travel in
// a URL.
func SocketAuthMiddleware(secret string) gin.HandlerFunc {
	return authenticate(secret, true)
}

func authenticate(secret string, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c, allowQuery)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed authorization, expected: Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Next()
	}
}

func bearerToken(c *gin.Context, allowQuery bool) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("access_token"); allowQuery && q != "" {
			return q, true
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetUserID returns uuid.Nil when no authenticated user is on the context.
func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetEmail(c *gin.Context) string {
	val, exists := c.Get(ContextKeyEmail)
	if !exists {
		return ""
	}
	email, ok := val.(string)
	if !ok {
		return ""
	}
	return email
}
