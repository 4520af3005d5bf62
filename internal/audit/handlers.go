package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callintel/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Service *Service
}

// List serves GET /api/audit?type&callId&since&limit.
func (h Handlers) List(c *gin.Context) {
	f := Filter{
		Type:   EventType(c.Query("type")),
		CallID: c.Query("callId"),
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		f.Since = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}

	events, err := h.Service.List(c.Request.Context(), f)
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
			return
		}
		logger.FromGin(c).Error("audit list failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
