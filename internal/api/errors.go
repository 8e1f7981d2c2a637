package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/chat"
	"go.uber.org/zap"
)

// statusFor maps a chat error to its HTTP status. Zero means the error
// is not part of the taxonomy and is an internal failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, chat.ErrStorageUnavailable),
		errors.Is(err, chat.ErrSequencerContention):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, chat.ErrInvalidKind),
		errors.Is(err, chat.ErrInvalidInput),
		errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	}
	return 0
}

// errorMessage is the client-facing text for a taxonomy error. Wrapped
// context stays in the logs.
func errorMessage(err error) string {
	for _, sentinel := range []error{
		chat.ErrNotFound, chat.ErrUnauthorized, chat.ErrForbidden,
		chat.ErrPayloadTooLarge, chat.ErrStorageUnavailable, chat.ErrSequencerContention,
		chat.ErrConflict, chat.ErrInvalidKind, chat.ErrInvalidInput, chat.ErrEmptyMessage,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// respondError writes the mapped status for taxonomy errors and a 500
// with a generic message for anything else.
func respondError(c *gin.Context, logger *zap.Logger, err error, action string) {
	if status := statusFor(err); status != 0 {
		if status == http.StatusServiceUnavailable {
			logger.Warn(action+" unavailable", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": errorMessage(err)})
		return
	}
	logger.Error("failed to "+action, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
}

// uuidParam parses a path parameter, answering 400 itself on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
