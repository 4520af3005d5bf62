package ingestion

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"callintel/internal/audit"
	"callintel/internal/auth"
	"callintel/internal/cdr"
	"callintel/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxIntakeBody = 10 << 20

// BatchIngester normalizes and stores decoded payloads.
type BatchIngester interface {
	IngestBatch(ctx context.Context, payloads []map[string]any) (cdr.Result, error)
}

type Handlers struct {
	Gateway  *Gateway
	Ingester BatchIngester
	Audit    *audit.Service

	// TrustProxy takes the client address from gin's trusted-proxy
	// resolution. Otherwise only the TCP peer address counts.
	TrustProxy bool
}

func (h Handlers) clientIP(c *gin.Context) string {
	if h.TrustProxy {
		return c.ClientIP()
	}
	return c.RemoteIP()
}

// Intake serves CDR submissions on the configured path.
func (h Handlers) Intake(c *gin.Context) {
	log := logger.FromGin(c)

	cfg, err := h.Gateway.Current(c.Request.Context())
	if err != nil {
		log.Error("ingestion config unavailable", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion config unavailable"})
		return
	}
	if c.Request.URL.Path != cfg.HTTP.Path {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if cfg.Mode != ModeHTTP || !cfg.IsActive {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "HTTP ingestion not enabled"})
		return
	}

	ip := h.clientIP(c)
	allow, err := ParseAllowlist(cfg.HTTP.AllowedIPs)
	if err != nil || !allow.Allows(ip) {
		log.Warn("cdr intake ip rejected", "ip", ip)
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if !checkBasicAuth(c.Request, cfg.HTTP.Username, cfg.HTTP.Password) {
		c.Header("WWW-Authenticate", `Basic realm="cdr"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIntakeBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	payloads, err := decodePayloads(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a record object or an array of records"})
		return
	}

	res, err := h.Ingester.IngestBatch(c.Request.Context(), payloads)
	if err != nil {
		log.Error("cdr intake storage failure", "processed", res.Processed, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure", "processed": res.Processed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": res.Processed, "skipped": res.Skipped})
}

// NoRoute dispatches POSTs on a custom configured path to Intake.
func (h Handlers) NoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		h.Intake(c)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

// checkBasicAuth rejects every request when no credentials are configured.
func checkBasicAuth(r *http.Request, username, password string) bool {
	if username == "" || password == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username))
	passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password))
	return userMatch == 1 && passMatch == 1
}

func decodePayloads(body []byte) ([]map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '[' {
		var many []map[string]any
		if err := dec.Decode(&many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one map[string]any
	if err := dec.Decode(&one); err != nil {
		return nil, err
	}
	return []map[string]any{one}, nil
}

type configView struct {
	Config
	Listener SocketStatus `json:"listener"`
}

// GetConfig serves GET /api/ingestion/config.
func (h Handlers) GetConfig(c *gin.Context) {
	cfg, err := h.Gateway.Current(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("ingestion config unavailable", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion config unavailable"})
		return
	}
	c.JSON(http.StatusOK, configView{Config: cfg.Redacted(), Listener: h.Gateway.Supervisor().Status()})
}

type updateConfigRequest struct {
	Mode     string          `json:"mode" binding:"required,oneof=socket http"`
	IsActive *bool           `json:"isActive"`
	Socket   *SocketSettings `json:"socket"`
	HTTP     *HTTPSettings   `json:"http"`
}

// UpdateConfig serves PUT /api/ingestion/config. Omitted sections keep their
// stored values.
func (h Handlers) UpdateConfig(c *gin.Context) {
	log := logger.FromGin(c)

	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrInvalidMode.Error()})
		return
	}

	cur, err := h.Gateway.Current(c.Request.Context())
	if err != nil {
		log.Error("ingestion config unavailable", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion config unavailable"})
		return
	}

	next := cur
	next.Mode = Mode(req.Mode)
	if req.IsActive != nil {
		next.IsActive = *req.IsActive
	}
	if req.Socket != nil {
		next.Socket = *req.Socket
	}
	if req.HTTP != nil {
		next.HTTP = *req.HTTP
	}

	saved, err := h.Gateway.Update(c.Request.Context(), next)
	if err != nil {
		if errors.Is(err, ErrInvalidMode) || errors.Is(err, ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, ErrApply) {
			log.Warn("ingestion config rejected", "err", err)
			c.JSON(http.StatusConflict, gin.H{"error": "config could not be applied; previous config kept"})
			return
		}
		log.Error("ingestion config update failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply ingestion config"})
		return
	}

	if h.Audit != nil {
		if err := h.Audit.LogIngestionConfig(c.Request.Context(), actorFrom(c), saved.Redacted()); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}

	c.JSON(http.StatusOK, configView{Config: saved.Redacted(), Listener: h.Gateway.Supervisor().Status()})
}

func actorFrom(c *gin.Context) audit.Actor {
	id := auth.IdentityFrom(c.Request.Context())
	return audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}
