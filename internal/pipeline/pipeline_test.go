package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"callintel/internal/calls"
	"callintel/internal/media"
	"callintel/internal/providers"
	"callintel/internal/queue"
	"callintel/pkg/logger"
)

type fakeFetcher struct{ err error }

func (f fakeFetcher) Fetch(ctx context.Context, url string) (providers.Audio, error) {
	if f.err != nil {
		return providers.Audio{}, f.err
	}
	return providers.Audio{Data: []byte("RIFF"), Filename: "rec.wav", ContentType: "audio/wav"}, nil
}

type fakeSTT struct {
	mu        sync.Mutex
	failN     int
	failErr   error
	calls     int
	detect    string
	detectErr error
	gotLang   []string
}

func (f *fakeSTT) Name() string  { return "fake-stt" }
func (f *fakeSTT) Healthy() bool { return true }

func (f *fakeSTT) DetectLanguage(ctx context.Context, a providers.Audio) (string, error) {
	return f.detect, f.detectErr
}

func (f *fakeSTT) Transcribe(ctx context.Context, a providers.Audio, lang string) (providers.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotLang = append(f.gotLang, lang)
	if f.calls <= f.failN {
		if f.failErr != nil {
			return providers.Transcript{}, f.failErr
		}
		return providers.Transcript{}, errors.New("stt unavailable")
	}
	return providers.Transcript{Text: "Hi, my order 42 arrived broken.", Confidence: 0.9}, nil
}

type fakeModel struct {
	mu       sync.Mutex
	analysis string
	reply    string
	err      error
	calls    int
	lastUser string
}

func (f *fakeModel) Name() string  { return "fake-llm" }
func (f *fakeModel) Healthy() bool { return true }

func (f *fakeModel) Complete(ctx context.Context, system, user string, jsonOutput bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastUser = user
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(system, "analyze transcribed") {
		return f.analysis, nil
	}
	return f.reply, nil
}

type fakeTTS struct{ err error }

func (f fakeTTS) Name() string  { return "fake-tts" }
func (f fakeTTS) Healthy() bool { return true }
func (f fakeTTS) Synthesize(ctx context.Context, text string, v providers.Voice) (providers.Audio, error) {
	if f.err != nil {
		return providers.Audio{}, f.err
	}
	return providers.Audio{Data: []byte("ID3"), ContentType: "audio/mpeg"}, nil
}

const goodAnalysis = "```json\n{\"summary\":\"Customer reports a damaged order.\",\"sentiment\":\"negative\",\"intent\":\"complaint\",\"category\":\"order\",\"priority\":\"high\",\"suggestedActions\":[\"Send replacement\"],\"keywords\":[\"order\",\"broken\"]}\n```"

type harness struct {
	p      *Pipeline
	calls  *calls.Service
	queue  *queue.Service
	stt    *fakeSTT
	llm    *fakeModel
	media  *media.MemoryStore
	delays []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		calls: calls.NewService(calls.NewMemoryRepo(), "support", nil),
		queue: queue.NewService(queue.NewMemoryRepo()),
		stt:   &fakeSTT{detect: "en"},
		llm:   &fakeModel{analysis: goodAnalysis, reply: `{"text":"Sorry about that, a replacement is on its way.","tone":"empathetic"}`},
		media: media.NewMemoryStore(),
	}
	h.p = New(Deps{
		Calls:       h.calls,
		Queue:       h.queue,
		Recordings:  fakeFetcher{},
		Transcriber: h.stt,
		Model:       h.llm,
		Synthesizer: fakeTTS{},
		Media:       h.media,
	}, Options{Workers: 2, QueueSize: 4, MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}, logger.Discard())
	h.p.sleep = func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return nil
	}
	return h
}

func (h *harness) completedCall(t *testing.T, externalID string) calls.Call {
	t.Helper()
	c, err := h.calls.ApplyEvent(context.Background(), calls.Event{
		ExternalID:     externalID,
		From:           "+15551230000",
		To:             "+15559870000",
		Direction:      "inbound",
		ProviderStatus: "completed",
		Duration:       61,
		Recording:      &calls.Recording{URL: "https://api.example/rec/" + externalID, Duration: 60},
	})
	if err != nil {
		t.Fatalf("apply event: %v", err)
	}
	return c
}

func TestRunNow_FullPipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.completedCall(t, "CA1")

	if err := h.p.RunNow(ctx, c.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := h.calls.Get(ctx, c.ID)
	if got.Transcription == nil || got.Transcription.Status != calls.StageCompleted || got.Transcription.Language != "en" {
		t.Fatalf("unexpected transcription: %+v", got.Transcription)
	}
	if got.Analysis == nil || got.Analysis.Sentiment != calls.SentimentNegative || got.Analysis.Priority != calls.PriorityHigh || got.Analysis.Degraded {
		t.Fatalf("unexpected analysis: %+v", got.Analysis)
	}
	if got.Reply == nil || got.Reply.Tone != "empathetic" || !strings.HasPrefix(got.Reply.VoiceURL, "mem://replies/") {
		t.Fatalf("unexpected reply: %+v", got.Reply)
	}
	entries, _ := h.queue.ForCall(ctx, c.ID)
	if len(entries) != 3 {
		t.Fatalf("expected 3 queue entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Status != queue.StatusCompleted || e.Attempts != 1 {
			t.Fatalf("unexpected entry: %+v", e)
		}
	}
	if len(h.media.Objects) != 1 {
		t.Fatalf("expected one stored voice object")
	}
}

func TestRunNow_TranscriptionExhaustsAttempts(t *testing.T) {
	h := newHarness(t)
	h.stt.failN = 100
	ctx := context.Background()
	c := h.completedCall(t, "CA2")

	if err := h.p.RunNow(ctx, c.ID, false); err == nil {
		t.Fatalf("expected failure")
	}
	if h.stt.calls != 3 {
		t.Fatalf("expected exactly 3 transcription attempts, got %d", h.stt.calls)
	}
	if len(h.delays) != 2 || h.delays[0] != 10*time.Millisecond || h.delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected backoff: %v", h.delays)
	}
	e, _ := h.queue.Get(ctx, c.ID, queue.StageTranscription)
	if e.Status != queue.StatusFailed || e.Attempts != 3 || e.Error == "" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	got, _ := h.calls.Get(ctx, c.ID)
	if got.Analysis != nil || got.Reply != nil {
		t.Fatalf("downstream stages must not run after transcription failure")
	}
	if got.Transcription == nil || got.Transcription.Status != calls.StageFailed {
		t.Fatalf("expected failed transcription, got %+v", got.Transcription)
	}
	if h.llm.calls != 0 {
		t.Fatalf("language model must not be called")
	}
}

func TestRunNow_TransientFailureRecovers(t *testing.T) {
	h := newHarness(t)
	h.stt.failN = 2
	ctx := context.Background()
	c := h.completedCall(t, "CA3")

	if err := h.p.RunNow(ctx, c.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	e, _ := h.queue.Get(ctx, c.ID, queue.StageTranscription)
	if e.Status != queue.StatusCompleted || e.Attempts != 3 {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestRunNow_ClientErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.stt.failN = 100
	h.stt.failErr = &providers.APIError{Provider: "openai", Status: 400, Body: "bad audio"}
	c := h.completedCall(t, "CA4")

	if err := h.p.RunNow(context.Background(), c.ID, false); err == nil {
		t.Fatalf("expected failure")
	}
	if h.stt.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", h.stt.calls)
	}
}

func TestRunNow_UnparseableAnalysisFallsBack(t *testing.T) {
	h := newHarness(t)
	h.llm.analysis = "I am not sure what to say."
	ctx := context.Background()
	c := h.completedCall(t, "CA5")

	if err := h.p.RunNow(ctx, c.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := h.calls.Get(ctx, c.ID)
	a := got.Analysis
	if a == nil || !a.Degraded || a.Sentiment != calls.SentimentNeutral || a.Priority != calls.PriorityMedium || a.Intent != "unknown" {
		t.Fatalf("expected neutral fallback, got %+v", a)
	}
	if len(a.SuggestedActions) != 1 || a.SuggestedActions[0] != "Review call manually" {
		t.Fatalf("unexpected actions: %v", a.SuggestedActions)
	}
	if got.Reply == nil {
		t.Fatalf("reply should still be generated")
	}
}

func TestRunNow_VoiceFailureKeepsReply(t *testing.T) {
	h := newHarness(t)
	h.p.Synthesizer = fakeTTS{err: errors.New("tts down")}
	ctx := context.Background()
	c := h.completedCall(t, "CA6")

	if err := h.p.RunNow(ctx, c.ID, false); err != nil {
		t.Fatalf("voice failure must not fail the run: %v", err)
	}
	got, _ := h.calls.Get(ctx, c.ID)
	if got.Reply == nil || got.Reply.Text == "" || got.Reply.VoiceURL != "" {
		t.Fatalf("unexpected reply: %+v", got.Reply)
	}
	e, _ := h.queue.Get(ctx, c.ID, queue.StageVoiceGeneration)
	if e.Status != queue.StatusFailed {
		t.Fatalf("expected failed voice entry, got %+v", e)
	}
}

func TestRunNow_AutoLanguageFallback(t *testing.T) {
	h := newHarness(t)
	h.stt.detectErr = errors.New("no speech")
	h.p.opts.FallbackLanguage = "es"
	c := h.completedCall(t, "CA7")

	if err := h.p.RunNow(context.Background(), c.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.stt.gotLang) != 1 || h.stt.gotLang[0] != "es" {
		t.Fatalf("expected fallback language, got %v", h.stt.gotLang)
	}
}

func TestRunNow_FixedLanguageSkipsDetection(t *testing.T) {
	h := newHarness(t)
	h.stt.detectErr = errors.New("must not be called")
	h.p.opts.DefaultLanguage = "de"
	c := h.completedCall(t, "CA8")

	if err := h.p.RunNow(context.Background(), c.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.stt.gotLang[0] != "de" {
		t.Fatalf("expected configured language, got %v", h.stt.gotLang)
	}
}

func TestReprocess_RequiresForceAfterSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.completedCall(t, "CA9")
	if err := h.p.RunNow(ctx, c.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := h.p.Reprocess(ctx, c.ID, false); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if err := h.p.RunNow(ctx, c.ID, true); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if h.stt.calls != 2 {
		t.Fatalf("expected a second transcription, got %d", h.stt.calls)
	}
}

func TestReprocess_NoRecording(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c, _ := h.calls.ApplyEvent(ctx, calls.Event{ExternalID: "CA10", ProviderStatus: "completed"})
	if err := h.p.Reprocess(ctx, c.ID, false); !errors.Is(err, ErrNoRecording) {
		t.Fatalf("expected ErrNoRecording, got %v", err)
	}
}

func TestRunNow_SecondRunIsBusy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.completedCall(t, "CA11")

	lock, err := h.p.Locker.Obtain(ctx, c.ID, time.Minute)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if err := h.p.RunNow(ctx, c.ID, false); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	_ = lock.Release(ctx)
	if err := h.p.RunNow(ctx, c.ID, false); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

func TestRegenerateReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.completedCall(t, "CA12")

	if _, err := h.p.RegenerateReply(ctx, c.ID, ""); !errors.Is(err, ErrNotAnalyzed) {
		t.Fatalf("expected ErrNotAnalyzed, got %v", err)
	}
	if err := h.p.RunNow(ctx, c.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	h.llm.reply = "Plain text reply without JSON."
	got, err := h.p.RegenerateReply(ctx, c.ID, "mention free shipping")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if got.Reply == nil || got.Reply.Text != "Plain text reply without JSON." || got.Reply.Tone != "professional" {
		t.Fatalf("unexpected reply: %+v", got.Reply)
	}
	if !strings.Contains(h.llm.lastUser, "mention free shipping") {
		t.Fatalf("instructions missing from prompt: %q", h.llm.lastUser)
	}
	if h.stt.calls != 1 {
		t.Fatalf("regenerate must not transcribe again")
	}
}

func TestSubmit_QueueFullReleasesLock(t *testing.T) {
	h := newHarness(t)
	h.p = New(h.p.Deps, Options{Workers: 1, QueueSize: 1}, logger.Discard())
	ctx := context.Background()
	a := h.completedCall(t, "CA13")
	b := h.completedCall(t, "CA14")

	if err := h.p.Reprocess(ctx, a.ID, false); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := h.p.Reprocess(ctx, a.ID, false); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for queued call, got %v", err)
	}
	if err := h.p.Reprocess(ctx, b.ID, false); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	lock, err := h.p.Locker.Obtain(ctx, b.ID, time.Minute)
	if err != nil {
		t.Fatalf("lock should be released after a full queue: %v", err)
	}
	_ = lock.Release(ctx)
}

func TestWorkers_ProcessAndStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.completedCall(t, "CA15")

	h.p.Start(ctx)
	h.p.Trigger(ctx, c)
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.p.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got, _ := h.calls.Get(ctx, c.ID)
	if !calls.TranscriptionDone(got) || got.Reply == nil {
		t.Fatalf("expected completed run, got %+v", got)
	}
	if err := h.p.Reprocess(ctx, c.ID, true); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestTrigger_SkipsIncompleteCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c, _ := h.calls.ApplyEvent(ctx, calls.Event{ExternalID: "CA16", ProviderStatus: "ringing"})
	h.p.Trigger(ctx, c)
	if h.p.Pending() != 0 {
		t.Fatalf("ongoing call must not be scheduled")
	}
}

func TestProcessBatch_IndependentResults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	good := h.completedCall(t, "CA17")
	bare, _ := h.calls.ApplyEvent(ctx, calls.Event{ExternalID: "CA18", ProviderStatus: "completed"})

	res := h.p.ProcessBatch(ctx, []string{good.ID, "missing", bare.ID, good.ID}, false)
	if len(res.Successful) != 1 || res.Successful[0] != good.ID {
		t.Fatalf("unexpected successes: %v", res.Successful)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("unexpected failures: %+v", res.Failed)
	}
	for _, f := range res.Failed {
		if f.Error == "" {
			t.Fatalf("failure without reason: %+v", f)
		}
	}
}
