package queue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestLifecycle_PendingProcessingCompleted(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, "c1", StageTranscription, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := svc.Start(ctx, "c1", StageTranscription); err != nil {
		t.Fatalf("start: %v", err)
	}
	if e, _ := svc.Attempt(ctx, "c1", StageTranscription); e.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", e.Attempts)
	}
	e, err := svc.Complete(ctx, "c1", StageTranscription)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if e.Status != StatusCompleted || e.ProcessedAt == nil {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestTerminalEntriesRefuseTransitions(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()

	_, _ = svc.Enqueue(ctx, "c1", StageAnalysis, 0)
	_, _ = svc.Start(ctx, "c1", StageAnalysis)
	e, err := svc.Fail(ctx, "c1", StageAnalysis, errors.New("model down"))
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if e.Error != "model down" {
		t.Fatalf("expected error text recorded, got %q", e.Error)
	}

	if _, err := svc.Complete(ctx, "c1", StageAnalysis); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	if _, err := svc.Start(ctx, "c1", StageAnalysis); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}

	// A fresh enqueue is the explicit retry path and overwrites the entry.
	e, err = svc.Enqueue(ctx, "c1", StageAnalysis, 2)
	if err != nil || e.Status != StatusPending || e.Error != "" {
		t.Fatalf("expected reset entry, got %+v err=%v", e, err)
	}
	entries, _ := svc.ForCall(ctx, "c1")
	if len(entries) != 1 {
		t.Fatalf("expected one entry per stage, got %d", len(entries))
	}
}

func TestInvalidTransitions(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, "c1", Stage("bogus"), 0); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
	if _, err := svc.Complete(ctx, "c1", StageTranscription); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, _ = svc.Enqueue(ctx, "c1", StageTranscription, 0)
	if _, err := svc.Complete(ctx, "c1", StageTranscription); !errors.Is(err, ErrTransition) {
		t.Fatalf("expected ErrTransition pending->completed, got %v", err)
	}
	if _, err := svc.Attempt(ctx, "c1", StageTranscription); !errors.Is(err, ErrTransition) {
		t.Fatalf("expected ErrTransition for attempt on pending, got %v", err)
	}
}

func TestHandlers_ListRejectsUnknownStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(NewMemoryRepo())
	_, _ = svc.Enqueue(context.Background(), "c1", StageVoiceGeneration, 1)

	h := Handlers{Service: svc}
	r := gin.New()
	r.GET("/api/queue", h.List)
	r.GET("/api/calls/:id/queue", h.ForCall)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/queue?status=weird", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/c1/queue", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

var (
	_ Repository = (*PostgresRepo)(nil)
	_ Repository = (*MemoryRepo)(nil)
)
