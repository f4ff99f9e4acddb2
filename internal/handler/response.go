package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/PulseChat/internal/service"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

// UserIDKey is the gin context key the auth middleware stores the caller under.
const UserIDKey = "user_id"

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// respondServiceError maps service errors to a status and a client-safe message.
func respondServiceError(c *gin.Context, log *logger.Logger, err error) {
	var inputErr *service.InputError
	switch {
	case errors.As(err, &inputErr):
		respondError(c, http.StatusBadRequest, inputErr.Message)
	case errors.Is(err, service.ErrEmailTaken):
		respondError(c, http.StatusBadRequest, "Email already exists")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(c, http.StatusBadRequest, "Invalid credentials")
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrSelfMessage):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrForbidden):
		respondError(c, http.StatusForbidden, "Forbidden")
	case errors.Is(err, service.ErrUpload):
		log.ErrorContext(c.Request.Context(), "image upload failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Image upload failed")
	default:
		log.ErrorContext(c.Request.Context(), "request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
	}
}

// currentUserID is set by the auth middleware; an empty value means the
// route was mounted without it.
func currentUserID(c *gin.Context) (string, bool) {
	id := c.GetString(UserIDKey)
	if id == "" {
		respondError(c, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return id, true
}
