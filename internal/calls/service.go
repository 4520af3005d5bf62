package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a normalized telephony lifecycle update.
type Event struct {
	ExternalID     string
	From           string
	To             string
	Direction      string
	ProviderStatus string
	Duration       int
	Recording      *Recording
}

// Service owns call lifecycle writes and the stage-order guard.
type Service struct {
	repo              Repository
	defaultDepartment string
	departments       map[string]string
	clock             func() time.Time
}

func NewService(repo Repository, defaultDepartment string, departmentNumbers map[string]string) *Service {
	if defaultDepartment == "" {
		defaultDepartment = "support"
	}
	return &Service{
		repo:              repo,
		defaultDepartment: defaultDepartment,
		departments:       departmentNumbers,
		clock:             time.Now,
	}
}

// MapProviderStatus folds telephony statuses onto the call lifecycle.
func MapProviderStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "initiated", "ringing", "in-progress", "in_progress":
		return StatusOngoing, true
	case "completed":
		return StatusCompleted, true
	case "busy", "no-answer", "no_answer", "canceled", "cancelled":
		return StatusMissed, true
	case "failed":
		return StatusFailed, true
	default:
		return "", false
	}
}

func normalizeDirection(d string) Direction {
	if strings.HasPrefix(strings.ToLower(d), "outbound") {
		return DirectionOutbound
	}
	return DirectionInbound
}

// Department resolves the owning department from the company-side number.
func (s *Service) Department(dir Direction, from, to string) string {
	number := to
	if dir == DirectionOutbound {
		number = from
	}
	if d, ok := s.departments[number]; ok {
		return d
	}
	return s.defaultDepartment
}

func (s *Service) isTerminal(st Status) bool {
	return st == StatusCompleted || st == StatusMissed || st == StatusFailed
}

// ApplyEvent creates or updates the call identified by e.ExternalID.
// A terminal status is never moved back to ongoing by a late event.
func (s *Service) ApplyEvent(ctx context.Context, e Event) (Call, error) {
	if strings.TrimSpace(e.ExternalID) == "" {
		return Call{}, fmt.Errorf("%w: missing call id", ErrInvalidEvent)
	}
	status, ok := MapProviderStatus(e.ProviderStatus)
	if !ok {
		if e.ProviderStatus != "" {
			return Call{}, fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, e.ProviderStatus)
		}
		status = StatusOngoing
	}

	existing, err := s.repo.GetByExternalID(ctx, e.ExternalID)
	switch {
	case err == nil:
		if s.isTerminal(existing.Status) && !s.isTerminal(status) {
			status = existing.Status
		}
	case errors.Is(err, ErrNotFound):
	default:
		return Call{}, err
	}

	now := s.clock().UTC()
	dir := normalizeDirection(e.Direction)
	c := Call{
		ID:         uuid.NewString(),
		ExternalID: e.ExternalID,
		From:       e.From,
		To:         e.To,
		Direction:  dir,
		Department: s.Department(dir, e.From, e.To),
		Status:     status,
		Duration:   e.Duration,
		Recording:  e.Recording,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.repo.UpsertLifecycle(ctx, c)
}

// AttachRecording records that a recording is available for the call.
func (s *Service) AttachRecording(ctx context.Context, externalID string, rec Recording) (Call, error) {
	if rec.URL == "" {
		return Call{}, fmt.Errorf("%w: missing recording url", ErrInvalidEvent)
	}
	existing, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return Call{}, err
	}
	existing.Recording = &rec
	existing.UpdatedAt = s.clock().UTC()
	return s.repo.UpsertLifecycle(ctx, existing)
}

func (s *Service) Get(ctx context.Context, id string) (Call, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Call, int, error) {
	return s.repo.List(ctx, f)
}

// SetTranscription stores the transcription stage result.
func (s *Service) SetTranscription(ctx context.Context, id string, t Transcription) (Call, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Call{}, err
	}
	c.Transcription = &t
	return c, s.repo.SaveStages(ctx, id, c.Transcription, c.Analysis, c.Reply)
}

// SetAnalysis requires a completed transcription.
func (s *Service) SetAnalysis(ctx context.Context, id string, a Analysis) (Call, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Call{}, err
	}
	if !TranscriptionDone(c) {
		return Call{}, ErrStageOrder
	}
	c.Analysis = &a
	return c, s.repo.SaveStages(ctx, id, c.Transcription, c.Analysis, c.Reply)
}

// SetReply requires an analysis.
func (s *Service) SetReply(ctx context.Context, id string, r Reply) (Call, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Call{}, err
	}
	if c.Analysis == nil || !TranscriptionDone(c) {
		return Call{}, ErrStageOrder
	}
	c.Reply = &r
	return c, s.repo.SaveStages(ctx, id, c.Transcription, c.Analysis, c.Reply)
}

// SetReplyVoice attaches a synthesized voice reference to the stored reply.
func (s *Service) SetReplyVoice(ctx context.Context, id, voiceURL string) (Call, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Call{}, err
	}
	if c.Reply == nil {
		return Call{}, ErrStageOrder
	}
	c.Reply.VoiceURL = voiceURL
	return c, s.repo.SaveStages(ctx, id, c.Transcription, c.Analysis, c.Reply)
}

// ResetStages clears every stage result ahead of a forced reprocess.
func (s *Service) ResetStages(ctx context.Context, id string) error {
	return s.repo.SaveStages(ctx, id, nil, nil, nil)
}

// TranscriptionDone reports whether the transcription stage has succeeded.
func TranscriptionDone(c Call) bool {
	return c.Transcription != nil && c.Transcription.Status == StageCompleted
}
