package health

import (
	"context"
	"net/http"
	"time"

	"callintel/internal/ingestion"
	"callintel/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Check is one named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Collaborator is an external provider that can report configuration health.
type Collaborator interface {
	Name() string
	Healthy() bool
}

// PipelineStats exposes the backlog of the pipeline worker pool.
type PipelineStats interface {
	Pending() int
}

type Handlers struct {
	Checks        []Check
	// Database backs the "database" field of the ingestion status.
	Database      *Check
	Gateway       *ingestion.Gateway
	Collaborators map[string]Collaborator
	Pipeline      PipelineStats
	Timeout       time.Duration
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Liveness serves GET /healthz. Any failing check reports 503.
func (h Handlers) Liveness(c *gin.Context) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	results := make(map[string]checkResult, len(h.Checks))
	for _, chk := range h.Checks {
		if err := chk.Run(ctx); err != nil {
			logger.FromGin(c).Warn("health check failed", "check", chk.Name, "err", err)
			results[chk.Name] = checkResult{Status: "down", Error: "unavailable"}
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		results[chk.Name] = checkResult{Status: "up"}
	}
	c.JSON(code, gin.H{"status": status, "checks": results})
}

// Ingestion serves GET /api/health/ingestion. A store outage is reported as
// "database": "down" rather than failing the request.
func (h Handlers) Ingestion(c *gin.Context) {
	if h.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion not configured"})
		return
	}
	ctx := c.Request.Context()
	out := gin.H{
		"database": h.databaseStatus(c),
		"socket":   h.Gateway.Supervisor().Status(),
	}
	cfg, err := h.Gateway.Current(ctx)
	if err != nil {
		logger.FromGin(c).Warn("load ingestion config failed", "err", err)
		out["database"] = "down"
		c.JSON(http.StatusOK, out)
		return
	}
	out["mode"] = cfg.Mode
	out["isActive"] = cfg.IsActive
	if cfg.Mode == ingestion.ModeHTTP {
		out["httpPath"] = cfg.HTTP.Path
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) databaseStatus(c *gin.Context) string {
	if h.Database == nil || h.Database.Run == nil {
		return "unknown"
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	if err := h.Database.Run(ctx); err != nil {
		logger.FromGin(c).Warn("health check failed", "check", h.Database.Name, "err", err)
		return "down"
	}
	return "up"
}

// CollaboratorStatus serves GET /api/health/collaborators.
func (h Handlers) CollaboratorStatus(c *gin.Context) {
	out := make(map[string]gin.H, len(h.Collaborators))
	for role, col := range h.Collaborators {
		if col == nil {
			out[role] = gin.H{"configured": false}
			continue
		}
		out[role] = gin.H{"provider": col.Name(), "configured": col.Healthy()}
	}
	body := gin.H{"collaborators": out}
	if h.Pipeline != nil {
		body["pipelinePending"] = h.Pipeline.Pending()
	}
	c.JSON(http.StatusOK, body)
}
