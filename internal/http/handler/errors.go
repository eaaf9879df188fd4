package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"jobboard.app/atsbridge/internal/store"
)

// respondStoreError maps the store sentinels onto HTTP statuses.
func respondStoreError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), "failed to "+action, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
	}
}
