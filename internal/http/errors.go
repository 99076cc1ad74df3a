package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"personas-registry/internal/service"
)

const (
	detailInternal      = "Internal server error"
	detailUnauthorized  = "Could not validate credentials"
	detailBadLogin      = "Incorrect username or password"
	detailNotFound      = "Persona not found"
	detailDuplicateRUT  = "RUT already registered"
	detailDuplicateUser = "Email already registered"
)

// respondError maps service errors to status codes. Anything unrecognised is
// logged and answered with a generic 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPersonaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
	case errors.Is(err, service.ErrRUTAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"detail": detailDuplicateRUT})
	case errors.Is(err, service.ErrUserAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"detail": detailDuplicateUser})
	case errors.Is(err, service.ErrInvalidPersona), errors.Is(err, service.ErrInvalidUser):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"detail": detailBadLogin})
	default:
		h.logger(c).WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": detailInternal})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
}
