package calls

import (
	"errors"
	"net/http"
	"strconv"

	"callintel/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Service *Service
}

// List serves GET /api/calls.
func (h Handlers) List(c *gin.Context) {
	page := atoiDefault(c.Query("page"), 1)
	limit := atoiDefault(c.Query("limit"), 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	f := ListFilter{
		Status:     Status(c.Query("status")),
		Department: c.Query("department"),
		Direction:  Direction(c.Query("direction")),
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}
	rows, total, err := h.Service.List(c.Request.Context(), f)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list calls"})
		return
	}
	if rows == nil {
		rows = []Call{}
	}
	c.JSON(http.StatusOK, gin.H{
		"calls": rows,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": (total + limit - 1) / limit,
		},
	})
}

// Get serves GET /api/calls/:id.
func (h Handlers) Get(c *gin.Context) {
	call, err := h.Service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("get call failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch call"})
		return
	}
	c.JSON(http.StatusOK, call)
}

func atoiDefault(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
