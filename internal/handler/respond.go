package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/Baaaki/heartscan/internal/service"
	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const timeLayout = time.RFC3339

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidID),
		errors.Is(err, service.ErrUnsupportedImage),
		errors.Is(err, service.ErrImageTooLarge),
		errors.Is(err, service.ErrUndecodableImage):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrUserBlocked):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrModelNotFound),
		errors.Is(err, service.ErrPredictionNotFound),
		errors.Is(err, service.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmailAlreadyExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": msg}. Internal failures are logged and
// never leak their message to the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Log.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
