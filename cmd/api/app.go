package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"callintel/internal/audit"
	"callintel/internal/calls"
	"callintel/internal/cdr"
	"callintel/internal/config"
	"callintel/internal/ingestion"
	"callintel/internal/media"
	"callintel/internal/pipeline"
	"callintel/internal/providers/elevenlabs"
	"callintel/internal/providers/openai"
	"callintel/internal/queue"
	"callintel/internal/reporting"
	"callintel/internal/telephony"
	"callintel/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// app holds the wired services shared by routes and lifecycle code.
type app struct {
	cfg config.Config
	db  *sql.DB
	rdb *redis.Client

	audit      *audit.Service
	normalizer *cdr.Normalizer
	cdr        *cdr.Service
	gateway    *ingestion.Gateway
	calls      *calls.Service
	queue      *queue.Service
	pipeline   *pipeline.Pipeline
	reporting  *reporting.Service

	twilio     *telephony.TwilioProvider
	openai     *openai.Client
	elevenlabs *elevenlabs.Client

	// mediaDir is served at /media when voice audio is stored locally.
	mediaDir string
}

type schemaOwner interface {
	EnsureSchema(ctx context.Context) error
}

func buildApp(ctx context.Context, cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) (*app, error) {
	cdrRepo := cdr.NewPostgresRepo(db)
	callsRepo := calls.NewPostgresRepo(db)
	queueRepo := queue.NewPostgresRepo(db)
	auditRepo := audit.NewPostgresRepo(db)
	ingestStore := ingestion.NewPostgresStore(db)

	for _, s := range []schemaOwner{cdrRepo, callsRepo, queueRepo, auditRepo, ingestStore} {
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	a := &app{cfg: cfg, db: db, rdb: rdb}
	a.audit = audit.NewService(auditRepo)

	a.normalizer = cdr.NewNormalizer(cdrRepo, logger.Component(log, "cdr_normalizer"))
	a.cdr = cdr.NewService(cdrRepo)

	sup := ingestion.NewSupervisor("", a.normalizer, logger.Component(log, "cdr_socket"))
	a.gateway = ingestion.NewGateway(
		ingestStore,
		ingestion.NewRedisSnapshot(rdb),
		ingestion.DefaultsFrom(cfg.Ingestion),
		sup,
		logger.Component(log, "ingestion"),
	)

	a.calls = calls.NewService(callsRepo, cfg.Twilio.DefaultDepartment, cfg.Twilio.DepartmentNumbers)
	a.queue = queue.NewService(queueRepo)
	a.reporting = reporting.NewService(reporting.NewCallsRepo(callsRepo))

	a.twilio = telephony.NewTwilioProvider(cfg.Twilio, cfg.OpenAI.Timeout)
	a.openai = openai.New(cfg.OpenAI)
	a.elevenlabs = elevenlabs.New(cfg.ElevenLabs)

	store, err := a.mediaStore(ctx)
	if err != nil {
		return nil, err
	}

	prompts, err := pipeline.LoadPrompts(cfg.Pipeline.PromptsFile)
	if err != nil {
		return nil, err
	}

	a.pipeline = pipeline.New(pipeline.Deps{
		Calls:       a.calls,
		Queue:       a.queue,
		Recordings:  a.twilio,
		Transcriber: a.openai,
		Model:       a.openai,
		Synthesizer: a.elevenlabs,
		Voice:       a.elevenlabs.DefaultVoice(),
		Media:       store,
		Locker:      pipeline.NewRedisLocker(rdb),
		Prompts:     prompts,
	}, pipeline.OptionsFrom(cfg.Pipeline), logger.Component(log, "pipeline"))

	return a, nil
}

func (a *app) mediaStore(ctx context.Context) (media.Store, error) {
	if a.cfg.Media.Bucket != "" {
		client, err := media.NewGCSClient(ctx, a.cfg.Media.GCSCredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return media.NewGCSStore(client, a.cfg.Media.Bucket), nil
	}
	store, err := media.NewLocalStore(a.cfg.Media.Dir, a.cfg.App.PublicBaseURL)
	if err != nil {
		return nil, err
	}
	a.mediaDir = a.cfg.Media.Dir
	return store, nil
}
