package reporting

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"callintel/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultWindow = 30 * 24 * time.Hour

type Handlers struct {
	Service *Service
	Now     func() time.Time
}

// CallsSummary serves GET /api/calls/summary?from&to&department.
// Dates accept RFC3339 or YYYY-MM-DD; a date-only "to" includes that day.
func (h Handlers) CallsSummary(c *gin.Context) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	to := now().UTC()
	from := to.Add(-defaultWindow)

	if v := strings.TrimSpace(c.Query("to")); v != "" {
		t, dateOnly, err := parseTime(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return
		}
		if dateOnly {
			t = t.Add(24 * time.Hour)
		}
		to = t
		if c.Query("from") == "" {
			from = to.Add(-defaultWindow)
		}
	}
	if v := strings.TrimSpace(c.Query("from")); v != "" {
		t, _, err := parseTime(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return
		}
		from = t
	}

	out, err := h.Service.CallsSummary(c.Request.Context(), CallsSummaryRequest{
		Range:      TimeRange{From: from, To: to},
		Department: c.Query("department"),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build summary"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse("2006-01-02", v)
	return t.UTC(), true, err
}
