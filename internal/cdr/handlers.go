package cdr

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

// Search serves GET /api/cdr.
func (h Handlers) Search(c *gin.Context) {
	q := Query{
		Page:        atoiDefault(c.Query("page"), 1),
		Limit:       atoiDefault(c.Query("limit"), DefaultLimit),
		Src:         c.Query("src"),
		Dst:         c.Query("dst"),
		Disposition: c.Query("disposition"),
		ActionType:  c.Query("actionType"),
		DateFrom:    c.Query("dateFrom"),
		DateTo:      c.Query("dateTo"),
	}

	res, err := h.Service.Search(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, ErrInvalidQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("cdr query failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch call records"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Get serves GET /api/cdr/:uniqueId.
func (h Handlers) Get(c *gin.Context) {
	rec, err := h.Service.Get(c.Request.Context(), c.Param("uniqueId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		logger.FromGin(c).Error("cdr get failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch call record"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func atoiDefault(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
