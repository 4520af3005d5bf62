package main

import (
	"context"
	"time"

	"callintel/internal/audit"
	"callintel/internal/auth"
	"callintel/internal/calls"
	"callintel/internal/cdr"
	"callintel/internal/health"
	"callintel/internal/ingestion"
	"callintel/internal/pipeline"
	"callintel/internal/queue"
	"callintel/internal/rbac"
	"callintel/internal/reporting"
	"callintel/internal/telephony"
	"callintel/pkg/utils"

	"github.com/gin-gonic/gin"
)

// defaultIntakePath is always routed; a custom configured path reaches the
// intake through NoRoute.
const defaultIntakePath = "/api/cdr/ingest"

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, tokens *auth.Manager) {
	pg := health.Check{Name: "postgres", Run: func(ctx context.Context) error { return utils.HealthCheck(ctx, a.db, 2*time.Second) }}
	hh := health.Handlers{
		Checks: []health.Check{
			pg,
			{Name: "redis", Run: func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }},
		},
		Database: &pg,
		Gateway:  a.gateway,
		Collaborators: map[string]health.Collaborator{
			"telephony":     a.twilio,
			"transcription": a.openai,
			"analysis":      a.openai,
			"voice":         a.elevenlabs,
		},
		Pipeline: a.pipeline,
	}

	// public
	r.GET("/healthz", hh.Liveness)

	// Provider webhooks (public, optionally signature-checked).
	{
		h := telephony.WebhookHandlers{
			Calls:         a.calls,
			Trigger:       a.pipeline,
			PublicBaseURL: a.cfg.App.PublicBaseURL,
			Forward:       a.cfg.Twilio.DepartmentForward,
		}
		wh := r.Group("/webhooks/telephony")
		if a.cfg.Twilio.ValidateSignature {
			wh.Use(telephony.RequireSignature(a.cfg.Twilio.AuthToken, a.cfg.App.PublicBaseURL))
		}
		wh.POST("/voice", h.Voice)
		wh.POST("/status", h.Status)
		wh.POST("/recording", h.Recording)
	}

	// CDR intake authenticates with its own Basic credentials and allowlist.
	ing := ingestion.Handlers{
		Gateway:    a.gateway,
		Ingester:   a.normalizer,
		Audit:      a.audit,
		TrustProxy: len(a.cfg.App.TrustedProxies) > 0,
	}
	r.POST(defaultIntakePath, ing.Intake)
	r.NoRoute(ing.NoRoute)

	if a.mediaDir != "" {
		r.Static("/media", a.mediaDir)
	}

	r.POST("/api/auth/refresh", auth.Handlers{Manager: tokens}.Refresh)

	api := r.Group("/api")
	api.Use(auth.RequireAccessToken(tokens))

	viewer := api.Group("")
	viewer.Use(rbac.RequireRole(rbac.RoleViewer))
	{
		ch := cdr.Handlers{Service: a.cdr}
		viewer.GET("/cdr", ch.Search)
		viewer.GET("/cdr/:uniqueId", ch.Get)

		calh := calls.Handlers{Service: a.calls}
		qh := queue.Handlers{Service: a.queue}
		rh := reporting.Handlers{Service: a.reporting}
		viewer.GET("/calls", calh.List)
		viewer.GET("/calls/summary", rh.CallsSummary)
		viewer.GET("/calls/:id", calh.Get)
		viewer.GET("/calls/:id/queue", qh.ForCall)
		viewer.GET("/queue", qh.List)

		viewer.GET("/health/ingestion", hh.Ingestion)
		viewer.GET("/health/collaborators", hh.CollaboratorStatus)
		viewer.GET("/ingestion/config", ing.GetConfig)
	}

	operator := api.Group("")
	operator.Use(rbac.RequireRole(rbac.RoleOperator))
	{
		ph := pipeline.Handlers{Pipeline: a.pipeline, Audit: a.audit}
		operator.POST("/calls/:id/reprocess", ph.Reprocess)
		operator.POST("/calls/:id/regenerate-reply", ph.RegenerateReply)
		operator.POST("/calls/batch-process", ph.Batch)
	}

	admin := api.Group("")
	admin.Use(rbac.RequireRole(rbac.RoleAdmin))
	{
		admin.PUT("/ingestion/config", ing.UpdateConfig)
		admin.GET("/audit", audit.Handlers{Service: a.audit}.List)
	}
}
