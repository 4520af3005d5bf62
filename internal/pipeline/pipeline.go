package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callintel/internal/calls"
	"callintel/internal/config"
	"callintel/internal/media"
	"callintel/internal/providers"
	"callintel/internal/queue"
	"callintel/pkg/logger"
)

var (
	ErrBusy             = errors.New("pipeline: call is already being processed")
	ErrQueueFull        = errors.New("pipeline: work queue is full")
	ErrStopped          = errors.New("pipeline: stopped")
	ErrAlreadyProcessed = errors.New("pipeline: call already transcribed")
	ErrNoRecording      = errors.New("pipeline: call has no recording")
	ErrNotAnalyzed      = errors.New("pipeline: call has no analysis")
	ErrEmptyTranscript  = errors.New("pipeline: empty transcription")
)

// RecordingFetcher downloads call audio from the telephony provider.
type RecordingFetcher interface {
	Fetch(ctx context.Context, url string) (providers.Audio, error)
}

type Options struct {
	Workers          int
	QueueSize        int
	MaxAttempts      int
	BaseDelay        time.Duration
	LockTTL          time.Duration
	DefaultLanguage  string
	FallbackLanguage string
	CompanyContext   string
}

func OptionsFrom(c config.PipelineConfig) Options {
	return Options{
		Workers:          c.Workers,
		QueueSize:        c.QueueSize,
		MaxAttempts:      c.MaxAttempts,
		BaseDelay:        c.BaseDelay,
		LockTTL:          c.LockTTL,
		DefaultLanguage:  c.DefaultLanguage,
		FallbackLanguage: c.FallbackLanguage,
		CompanyContext:   c.CompanyContext,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 15 * time.Minute
	}
	if o.DefaultLanguage == "" {
		o.DefaultLanguage = "auto"
	}
	if o.FallbackLanguage == "" {
		o.FallbackLanguage = "en"
	}
	return o
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Calls       *calls.Service
	Queue       *queue.Service
	Recordings  RecordingFetcher
	Transcriber providers.Transcriber
	Model       providers.LanguageModel
	Synthesizer providers.Synthesizer
	Voice       providers.Voice
	Media       media.Store
	Locker      Locker
	Prompts     Prompts
}

// Pipeline runs transcription, analysis, reply and voice stages per call.
// At most one run per call is active at a time.
type Pipeline struct {
	Deps
	opts  Options
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
	clock func() time.Time

	mu      sync.RWMutex
	jobs    chan job
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type jobKind int

const (
	jobFull jobKind = iota
	jobReply
)

type job struct {
	callID       string
	kind         jobKind
	force        bool
	instructions string
	trigger      string
	requestID    string
	lock         Lock
}

func New(d Deps, opts Options, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.Prompts.Default == "" {
		d.Prompts = DefaultPrompts()
	}
	opts = opts.withDefaults()
	return &Pipeline{
		Deps:  d,
		opts:  opts,
		log:   log,
		sleep: sleepCtx,
		clock: time.Now,
		jobs:  make(chan job, opts.QueueSize),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Trigger schedules a full run for a call that just finished with a recording.
// Calls that are locked, already transcribed or not yet recorded are skipped.
func (p *Pipeline) Trigger(ctx context.Context, c calls.Call) {
	if c.Status != calls.StatusCompleted || c.Recording == nil || calls.TranscriptionDone(c) {
		return
	}
	err := p.submit(ctx, job{callID: c.ID, kind: jobFull, trigger: "webhook", requestID: logger.RequestID(ctx)})
	switch {
	case err == nil:
		p.log.Info("pipeline scheduled", "call_id", c.ID)
	case errors.Is(err, ErrBusy):
		p.log.Info("pipeline already running, trigger dropped", "call_id", c.ID)
	default:
		p.log.Warn("pipeline trigger dropped", "call_id", c.ID, "err", err)
	}
}

// Reprocess validates and schedules a full run. Without force a call whose
// transcription already succeeded is rejected.
func (p *Pipeline) Reprocess(ctx context.Context, callID string, force bool) error {
	c, err := p.Calls.Get(ctx, callID)
	if err != nil {
		return err
	}
	if err := p.checkRunnable(c, force); err != nil {
		return err
	}
	return p.submit(ctx, job{callID: callID, kind: jobFull, force: force, trigger: "manual", requestID: logger.RequestID(ctx)})
}

func (p *Pipeline) checkRunnable(c calls.Call, force bool) error {
	if c.Recording == nil || strings.TrimSpace(c.Recording.URL) == "" {
		return ErrNoRecording
	}
	if !force && calls.TranscriptionDone(c) {
		return ErrAlreadyProcessed
	}
	return nil
}

// RegenerateReply rebuilds the reply from the stored analysis and waits for it.
func (p *Pipeline) RegenerateReply(ctx context.Context, callID, instructions string) (calls.Call, error) {
	c, err := p.Calls.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if c.Analysis == nil || !calls.TranscriptionDone(c) {
		return calls.Call{}, ErrNotAnalyzed
	}
	lock, err := p.Locker.Obtain(ctx, callID, p.opts.LockTTL)
	if err != nil {
		return calls.Call{}, err
	}
	defer p.release(lock, callID)

	if err := p.execute(ctx, job{callID: callID, kind: jobReply, instructions: instructions, trigger: "manual", requestID: logger.RequestID(ctx)}); err != nil {
		return calls.Call{}, err
	}
	return p.Calls.Get(ctx, callID)
}

// RunNow executes a full run synchronously under the per-call lock.
func (p *Pipeline) RunNow(ctx context.Context, callID string, force bool) error {
	c, err := p.Calls.Get(ctx, callID)
	if err != nil {
		return err
	}
	if err := p.checkRunnable(c, force); err != nil {
		return err
	}
	lock, err := p.Locker.Obtain(ctx, callID, p.opts.LockTTL)
	if err != nil {
		return err
	}
	defer p.release(lock, callID)
	return p.execute(ctx, job{callID: callID, kind: jobFull, force: force, trigger: "batch", requestID: logger.RequestID(ctx)})
}

func (p *Pipeline) release(lock Lock, callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		p.log.Warn("pipeline lock release failed", "call_id", callID, "err", err)
	}
}

func (p *Pipeline) execute(ctx context.Context, j job) error {
	log := p.log.With("call_id", j.callID, "trigger", j.trigger)
	if j.requestID != "" {
		log = log.With("request_id", j.requestID)
	}
	if j.kind == jobReply {
		r := newRun(j.callID)
		_ = r.advance(StateReplying)
		c, err := p.Calls.Get(ctx, j.callID)
		if err != nil {
			return err
		}
		if _, err := p.reply(ctx, log, c, j.instructions); err != nil {
			_ = r.advance(StateFailed)
			return err
		}
		_ = r.advance(StateSynthesizing)
		p.voice(ctx, log, j.callID)
		return r.advance(StateDone)
	}
	return p.runFull(ctx, log, j)
}

func (p *Pipeline) runFull(ctx context.Context, log *slog.Logger, j job) error {
	c, err := p.Calls.Get(ctx, j.callID)
	if err != nil {
		return err
	}
	if err := p.checkRunnable(c, j.force); err != nil {
		return err
	}
	if j.force {
		if err := p.Calls.ResetStages(ctx, j.callID); err != nil {
			return err
		}
	}

	started := p.clock()
	r := newRun(j.callID)
	fail := func(err error) error {
		_ = r.advance(StateFailed)
		log.Error("pipeline run failed", "state", r.trace[len(r.trace)-2], "err", err)
		return err
	}

	if err := r.advance(StateTranscribing); err != nil {
		return err
	}
	c, err = p.transcribe(ctx, log, c)
	if err != nil {
		return fail(err)
	}

	if err := r.advance(StateAnalyzing); err != nil {
		return err
	}
	c, err = p.analyze(ctx, log, c)
	if err != nil {
		return fail(err)
	}

	if err := r.advance(StateReplying); err != nil {
		return err
	}
	if _, err = p.reply(ctx, log, c, ""); err != nil {
		return fail(err)
	}

	if err := r.advance(StateSynthesizing); err != nil {
		return err
	}
	p.voice(ctx, log, c.ID)

	log.Info("pipeline run completed", "elapsed", p.clock().Sub(started).String())
	return r.advance(StateDone)
}

func (p *Pipeline) transcribe(ctx context.Context, log *slog.Logger, c calls.Call) (calls.Call, error) {
	if err := p.startStage(ctx, c.ID, queue.StageTranscription, 0); err != nil {
		return c, err
	}
	if _, err := p.Calls.SetTranscription(ctx, c.ID, calls.Transcription{Status: calls.StageProcessing}); err != nil {
		return c, err
	}

	var (
		audio    *providers.Audio
		language string
		result   providers.Transcript
	)
	err := p.retry(ctx, log, c.ID, queue.StageTranscription, func() error {
		if p.Transcriber == nil {
			return permanent(errors.New("transcriber not configured"))
		}
		if audio == nil {
			a, err := p.Recordings.Fetch(ctx, c.Recording.URL)
			if err != nil {
				return fmt.Errorf("fetch recording: %w", err)
			}
			audio = &a
		}
		if language == "" {
			language = p.resolveLanguage(ctx, log, *audio)
		}
		t, err := p.Transcriber.Transcribe(ctx, *audio, language)
		if err != nil {
			return err
		}
		if strings.TrimSpace(t.Text) == "" {
			return permanent(ErrEmptyTranscript)
		}
		result = t
		return nil
	})
	if err != nil {
		p.failStage(ctx, log, c.ID, queue.StageTranscription, err)
		if _, serr := p.Calls.SetTranscription(ctx, c.ID, calls.Transcription{Status: calls.StageFailed}); serr != nil {
			log.Error("store failed transcription", "err", serr)
		}
		return c, err
	}

	if result.Language == "" {
		result.Language = language
	}
	updated, err := p.Calls.SetTranscription(ctx, c.ID, calls.Transcription{
		Text:       strings.TrimSpace(result.Text),
		Language:   result.Language,
		Confidence: result.Confidence,
		Status:     calls.StageCompleted,
	})
	if err != nil {
		return c, err
	}
	p.completeStage(ctx, log, c.ID, queue.StageTranscription)
	return updated, nil
}

// resolveLanguage applies DefaultLanguage. "auto" detects once and falls back
// to FallbackLanguage when detection fails.
func (p *Pipeline) resolveLanguage(ctx context.Context, log *slog.Logger, audio providers.Audio) string {
	if !strings.EqualFold(p.opts.DefaultLanguage, "auto") {
		return p.opts.DefaultLanguage
	}
	lang, err := p.Transcriber.DetectLanguage(ctx, audio)
	if err != nil || strings.TrimSpace(lang) == "" {
		log.Debug("language detection failed, using fallback", "fallback", p.opts.FallbackLanguage, "err", err)
		return p.opts.FallbackLanguage
	}
	return lang
}

func (p *Pipeline) analyze(ctx context.Context, log *slog.Logger, c calls.Call) (calls.Call, error) {
	if err := p.startStage(ctx, c.ID, queue.StageAnalysis, 0); err != nil {
		return c, err
	}
	system, user := analysisPrompts(p.Prompts, c)

	var out string
	err := p.retry(ctx, log, c.ID, queue.StageAnalysis, func() error {
		if p.Model == nil {
			return permanent(errors.New("language model not configured"))
		}
		var err error
		out, err = p.Model.Complete(ctx, system, user, true)
		return err
	})
	if err != nil {
		p.failStage(ctx, log, c.ID, queue.StageAnalysis, err)
		return c, err
	}

	a, ok := parseAnalysis(out)
	if !ok {
		log.Warn("analysis output unusable, storing fallback")
		a = fallbackAnalysis(c.Transcription.Text)
	}
	updated, err := p.Calls.SetAnalysis(ctx, c.ID, a)
	if err != nil {
		p.failStage(ctx, log, c.ID, queue.StageAnalysis, err)
		return c, err
	}
	p.completeStage(ctx, log, c.ID, queue.StageAnalysis)
	return updated, nil
}

func (p *Pipeline) reply(ctx context.Context, log *slog.Logger, c calls.Call, instructions string) (calls.Call, error) {
	system, user := replyPrompts(p.opts.CompanyContext, c, instructions)

	var r calls.Reply
	err := p.retry(ctx, log, c.ID, "", func() error {
		if p.Model == nil {
			return permanent(errors.New("language model not configured"))
		}
		out, err := p.Model.Complete(ctx, system, user, true)
		if err != nil {
			return err
		}
		parsed, ok := parseReply(out)
		if !ok {
			return errors.New("reply output unusable")
		}
		r = parsed
		return nil
	})
	if err != nil {
		return c, fmt.Errorf("generate reply: %w", err)
	}
	return p.Calls.SetReply(ctx, c.ID, r)
}

// voice synthesizes the stored reply. Failures are recorded on the queue entry
// and never fail the run.
func (p *Pipeline) voice(ctx context.Context, log *slog.Logger, callID string) {
	c, err := p.Calls.Get(ctx, callID)
	if err != nil || c.Reply == nil {
		log.Warn("voice generation skipped", "err", err)
		return
	}
	if err := p.startStage(ctx, callID, queue.StageVoiceGeneration, priorityWeight(c)); err != nil {
		log.Warn("voice queue entry failed", "err", err)
		return
	}

	var audio providers.Audio
	err = p.retry(ctx, log, callID, queue.StageVoiceGeneration, func() error {
		if p.Synthesizer == nil || !p.Synthesizer.Healthy() {
			return permanent(errors.New("synthesizer not configured"))
		}
		var err error
		audio, err = p.Synthesizer.Synthesize(ctx, c.Reply.Text, p.Voice)
		return err
	})
	if err == nil && p.Media == nil {
		err = errors.New("media store not configured")
	}
	var url string
	if err == nil {
		key := fmt.Sprintf("replies/%s-%d.mp3", callID, p.clock().Unix())
		ct := audio.ContentType
		if ct == "" {
			ct = "audio/mpeg"
		}
		url, err = p.Media.Put(ctx, key, audio.Data, ct)
	}
	if err == nil {
		_, err = p.Calls.SetReplyVoice(ctx, callID, url)
	}
	if err != nil {
		log.Warn("voice generation failed", "err", err)
		p.failStage(ctx, log, callID, queue.StageVoiceGeneration, err)
		return
	}
	p.completeStage(ctx, log, callID, queue.StageVoiceGeneration)
}

func priorityWeight(c calls.Call) int {
	if c.Analysis == nil {
		return 0
	}
	switch c.Analysis.Priority {
	case calls.PriorityUrgent:
		return 3
	case calls.PriorityHigh:
		return 2
	case calls.PriorityMedium:
		return 1
	default:
		return 0
	}
}

func (p *Pipeline) startStage(ctx context.Context, callID string, stage queue.Stage, priority int) error {
	if _, err := p.Queue.Enqueue(ctx, callID, stage, priority); err != nil {
		return err
	}
	_, err := p.Queue.Start(ctx, callID, stage)
	return err
}

func (p *Pipeline) completeStage(ctx context.Context, log *slog.Logger, callID string, stage queue.Stage) {
	if _, err := p.Queue.Complete(ctx, callID, stage); err != nil {
		log.Warn("queue complete failed", "stage", stage, "err", err)
	}
}

func (p *Pipeline) failStage(ctx context.Context, log *slog.Logger, callID string, stage queue.Stage, reason error) {
	if _, err := p.Queue.Fail(ctx, callID, stage, reason); err != nil {
		log.Warn("queue fail failed", "stage", stage, "err", err)
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return permanentError{err: err} }

func retryable(err error) bool {
	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// retry runs fn up to MaxAttempts times with doubling delay. A non-empty stage
// counts each attempt on the queue entry.
func (p *Pipeline) retry(ctx context.Context, log *slog.Logger, callID string, stage queue.Stage, fn func() error) error {
	delay := p.opts.BaseDelay
	var err error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if stage != "" {
			if _, qerr := p.Queue.Attempt(ctx, callID, stage); qerr != nil {
				log.Warn("queue attempt failed", "stage", stage, "err", qerr)
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == p.opts.MaxAttempts {
			break
		}
		log.Warn("stage attempt failed, retrying", "stage", stage, "attempt", attempt, "delay", delay.String(), "err", err)
		if serr := p.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
	}
	return err
}
