package reporting

import (
	"context"
	"errors"
	"time"

	"callintel/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time, department string) ([]calls.Call, error)
}

// MaxRange bounds a single summary window.
const MaxRange = 366 * 24 * time.Hour

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > MaxRange {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To, req.Department)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		Range:        req.Range,
		Department:   req.Department,
		BySentiment:  map[string]int{},
		ByPriority:   map[string]int{},
		ByDepartment: map[string]int{},
	}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.Duration
		out.ByDepartment[c.Department]++

		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusOngoing:
			out.OngoingCalls++
		}

		if c.Recording != nil {
			out.Stages.Recorded++
		}
		if calls.TranscriptionDone(c) {
			out.Stages.Transcribed++
		}
		if c.Analysis != nil {
			out.Stages.Analyzed++
			out.BySentiment[string(c.Analysis.Sentiment)]++
			out.ByPriority[string(c.Analysis.Priority)]++
			if c.Analysis.Degraded {
				out.Stages.Degraded++
			}
		}
		if c.Reply != nil {
			out.Stages.Replied++
			if c.Reply.VoiceURL != "" {
				out.Stages.Voiced++
			}
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}
