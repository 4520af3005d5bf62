package pipeline

import (
	"errors"
	"net/http"

	"callintel/internal/audit"
	"callintel/internal/auth"
	"callintel/internal/calls"
	"callintel/pkg/logger"

	"github.com/gin-gonic/gin"
)

// MaxBatchSize bounds POST /api/calls/batch-process.
const MaxBatchSize = 50

type Handlers struct {
	Pipeline *Pipeline
	Audit    *audit.Service
}

type reprocessRequest struct {
	Force bool `json:"force"`
}

// Reprocess serves POST /api/calls/:id/reprocess.
func (h Handlers) Reprocess(c *gin.Context) {
	var req reprocessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	id := c.Param("id")
	if err := h.Pipeline.Reprocess(c.Request.Context(), id, req.Force); err != nil {
		h.writeError(c, "reprocess", err)
		return
	}
	h.audit(c, audit.EventTypeReprocess, id, "call reprocess scheduled", req)
	c.JSON(http.StatusAccepted, gin.H{"callId": id, "status": "scheduled", "force": req.Force})
}

type regenerateRequest struct {
	Instructions string `json:"instructions" binding:"max=2000"`
}

// RegenerateReply serves POST /api/calls/:id/regenerate-reply.
func (h Handlers) RegenerateReply(c *gin.Context) {
	var req regenerateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	id := c.Param("id")
	call, err := h.Pipeline.RegenerateReply(c.Request.Context(), id, req.Instructions)
	if err != nil {
		h.writeError(c, "regenerate reply", err)
		return
	}
	h.audit(c, audit.EventTypeRegenerateReply, id, "reply regenerated", req)
	c.JSON(http.StatusOK, call)
}

type batchRequest struct {
	CallIDs []string `json:"callIds" binding:"required,min=1"`
	Force   bool     `json:"force"`
}

// Batch serves POST /api/calls/batch-process.
func (h Handlers) Batch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callIds is required"})
		return
	}
	if len(req.CallIDs) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many callIds"})
		return
	}
	res := h.Pipeline.ProcessBatch(c.Request.Context(), req.CallIDs, req.Force)
	h.audit(c, audit.EventTypeBatchProcess, "", "batch processed", gin.H{
		"requested":  len(req.CallIDs),
		"successful": len(res.Successful),
		"failed":     len(res.Failed),
		"force":      req.Force,
	})
	c.JSON(http.StatusOK, res)
}

func (h Handlers) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "call is already being processed"})
	case errors.Is(err, ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": "call already processed, use force to reprocess"})
	case errors.Is(err, ErrNoRecording), errors.Is(err, ErrNotAnalyzed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline unavailable, retry later"})
	default:
		logger.FromGin(c).Error(op+" failed", "call_id", c.Param("id"), "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": op + " failed"})
	}
}

func (h Handlers) audit(c *gin.Context, t audit.EventType, callID, msg string, details any) {
	if h.Audit == nil {
		return
	}
	id := auth.IdentityFrom(c.Request.Context())
	a := audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
	if err := h.Audit.LogPipelineTrigger(c.Request.Context(), t, a, callID, msg, details); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}
