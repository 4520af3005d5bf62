package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
}

// Filter narrows an audit listing. Empty fields match everything.
type Filter struct {
	Type   EventType
	CallID string
	Since  time.Time
	Limit  int
}

func (f Filter) matches(e Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.CallID != "" && e.CallID != f.CallID {
		return false
	}
	return f.Since.IsZero() || !e.CreatedAt.Before(f.Since)
}

// Service logs internal audit information.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Actor identifies who triggered an audited action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogIngestionConfig records an administrative change of the ingestion configuration.
// details is marshalled into Metadata; secrets must be redacted by the caller.
func (s *Service) LogIngestionConfig(ctx context.Context, a Actor, details any) error {
	return s.Append(ctx, Event{
		Type:        EventTypeIngestionConfig,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		Message:     "ingestion config updated",
		Metadata:    marshal(details),
	})
}

// LogPipelineTrigger records a manual pipeline run (reprocess, regenerate, batch).
func (s *Service) LogPipelineTrigger(ctx context.Context, t EventType, a Actor, callID, message string, details any) error {
	return s.Append(ctx, Event{
		Type:        t,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		CallID:      callID,
		Message:     message,
		Metadata:    marshal(details),
	})
}

// List returns recent events, newest first. Limit defaults to 100 and is capped at 500.
func (s *Service) List(ctx context.Context, f Filter) ([]Event, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, ErrInvalidEvent
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.repo.List(ctx, f)
}

func marshal(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
