package calls

import (
	"context"
	"errors"
	"testing"
)

func newService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	return NewService(repo, "support", map[string]string{"+15550001": "hr"}), repo
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]Status{
		"queued":      StatusOngoing,
		"ringing":     StatusOngoing,
		"in-progress": StatusOngoing,
		"completed":   StatusCompleted,
		"busy":        StatusMissed,
		"no-answer":   StatusMissed,
		"canceled":    StatusMissed,
		"failed":      StatusFailed,
	}
	for in, want := range cases {
		got, ok := MapProviderStatus(in)
		if !ok || got != want {
			t.Fatalf("MapProviderStatus(%q)=%q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := MapProviderStatus("exploded"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestApplyEvent_CreatesThenUpdates(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	c, err := svc.ApplyEvent(ctx, Event{ExternalID: "CA1", From: "+1999", To: "+15550001", Direction: "inbound", ProviderStatus: "ringing"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c.Status != StatusOngoing || c.Department != "hr" || c.ID == "" {
		t.Fatalf("unexpected call: %+v", c)
	}

	c2, err := svc.ApplyEvent(ctx, Event{ExternalID: "CA1", ProviderStatus: "completed", Duration: 42,
		Recording: &Recording{URL: "https://rec/1", Duration: 40}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c2.ID != c.ID || c2.Status != StatusCompleted || c2.Duration != 42 || c2.Recording == nil {
		t.Fatalf("unexpected update: %+v", c2)
	}
	if c2.From != "+1999" {
		t.Fatalf("expected empty fields to keep stored values")
	}

	// A late ringing event does not reopen the call.
	c3, _ := svc.ApplyEvent(ctx, Event{ExternalID: "CA1", ProviderStatus: "ringing"})
	if c3.Status != StatusCompleted {
		t.Fatalf("expected terminal status to stick, got %s", c3.Status)
	}
}

func TestApplyEvent_RejectsBadInput(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.ApplyEvent(context.Background(), Event{}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if _, err := svc.ApplyEvent(context.Background(), Event{ExternalID: "x", ProviderStatus: "bogus"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestStageOrderGuard(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	c, _ := svc.ApplyEvent(ctx, Event{ExternalID: "CA2", ProviderStatus: "completed"})

	if _, err := svc.SetAnalysis(ctx, c.ID, Analysis{Summary: "x"}); !errors.Is(err, ErrStageOrder) {
		t.Fatalf("expected ErrStageOrder before transcription, got %v", err)
	}
	if _, err := svc.SetReply(ctx, c.ID, Reply{Text: "x"}); !errors.Is(err, ErrStageOrder) {
		t.Fatalf("expected ErrStageOrder before analysis, got %v", err)
	}

	if _, err := svc.SetTranscription(ctx, c.ID, Transcription{Text: "hello", Status: StageFailed}); err != nil {
		t.Fatalf("set transcription: %v", err)
	}
	if _, err := svc.SetAnalysis(ctx, c.ID, Analysis{Summary: "x"}); !errors.Is(err, ErrStageOrder) {
		t.Fatalf("expected ErrStageOrder after failed transcription, got %v", err)
	}

	if _, err := svc.SetTranscription(ctx, c.ID, Transcription{Text: "hello", Status: StageCompleted}); err != nil {
		t.Fatalf("set transcription: %v", err)
	}
	if _, err := svc.SetAnalysis(ctx, c.ID, Analysis{Summary: "x"}); err != nil {
		t.Fatalf("set analysis: %v", err)
	}
	got, err := svc.SetReply(ctx, c.ID, Reply{Text: "thanks", Tone: "warm"})
	if err != nil {
		t.Fatalf("set reply: %v", err)
	}
	if got.Reply.Text != "thanks" {
		t.Fatalf("unexpected reply: %+v", got.Reply)
	}

	if err := svc.ResetStages(ctx, c.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	cleared, _ := svc.Get(ctx, c.ID)
	if cleared.Transcription != nil || cleared.Analysis != nil || cleared.Reply != nil {
		t.Fatalf("expected stages cleared, got %+v", cleared)
	}
}

func TestDepartmentFallsBackToDefault(t *testing.T) {
	svc, _ := newService()
	if d := svc.Department(DirectionOutbound, "+15550001", "+1777"); d != "hr" {
		t.Fatalf("expected outbound to use from number, got %s", d)
	}
	if d := svc.Department(DirectionInbound, "+1", "+2"); d != "support" {
		t.Fatalf("expected default department, got %s", d)
	}
}

var (
	_ Repository = (*PostgresRepo)(nil)
	_ Repository = (*MemoryRepo)(nil)
)
