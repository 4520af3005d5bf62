package queue

import (
	"net/http"
	"strconv"

	"callintel/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Service *Service
}

// ForCall serves GET /api/calls/:id/queue.
func (h Handlers) ForCall(c *gin.Context) {
	entries, err := h.Service.ForCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.FromGin(c).Error("queue lookup failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// List serves GET /api/queue?status=failed&limit=50.
func (h Handlers) List(c *gin.Context) {
	status := Status(c.Query("status"))
	switch status {
	case "", StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	entries, err := h.Service.ByStatus(c.Request.Context(), status, limit)
	if err != nil {
		logger.FromGin(c).Error("queue list failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
