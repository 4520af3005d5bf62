package queue

import (
	"context"
	"fmt"
	"time"
)

// Service applies the entry state machine on top of a Repository.
// Writes are last-write-wins; the pipeline holds a per-call lock while it
// drives a call's entries.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Enqueue creates the entry or resets it to pending, whatever its state.
func (s *Service) Enqueue(ctx context.Context, callID string, stage Stage, priority int) (Entry, error) {
	if !stage.Valid() {
		return Entry{}, ErrInvalidStage
	}
	now := s.clock().UTC()
	e := Entry{
		CallID:    callID,
		Stage:     stage,
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return e, s.repo.Put(ctx, e)
}

// Start moves a pending entry to processing.
func (s *Service) Start(ctx context.Context, callID string, stage Stage) (Entry, error) {
	return s.move(ctx, callID, stage, StatusProcessing, "")
}

// Attempt counts one try of a processing entry.
func (s *Service) Attempt(ctx context.Context, callID string, stage Stage) (Entry, error) {
	e, err := s.repo.Get(ctx, callID, stage)
	if err != nil {
		return Entry{}, err
	}
	if e.Status != StatusProcessing {
		return Entry{}, fmt.Errorf("%w: attempt on %s entry", ErrTransition, e.Status)
	}
	e.Attempts++
	e.UpdatedAt = s.clock().UTC()
	return e, s.repo.Put(ctx, e)
}

func (s *Service) Complete(ctx context.Context, callID string, stage Stage) (Entry, error) {
	return s.move(ctx, callID, stage, StatusCompleted, "")
}

func (s *Service) Fail(ctx context.Context, callID string, stage Stage, reason error) (Entry, error) {
	msg := "unknown error"
	if reason != nil {
		msg = reason.Error()
	}
	return s.move(ctx, callID, stage, StatusFailed, msg)
}

func (s *Service) move(ctx context.Context, callID string, stage Stage, to Status, errMsg string) (Entry, error) {
	if !stage.Valid() {
		return Entry{}, ErrInvalidStage
	}
	e, err := s.repo.Get(ctx, callID, stage)
	if err != nil {
		return Entry{}, err
	}
	if e.Status.Terminal() {
		return Entry{}, ErrTerminal
	}
	if !canTransition(e.Status, to) {
		return Entry{}, fmt.Errorf("%w: %s -> %s", ErrTransition, e.Status, to)
	}

	now := s.clock().UTC()
	e.Status = to
	e.Error = errMsg
	e.UpdatedAt = now
	if to.Terminal() {
		e.ProcessedAt = &now
	}
	return e, s.repo.Put(ctx, e)
}

func (s *Service) Get(ctx context.Context, callID string, stage Stage) (Entry, error) {
	return s.repo.Get(ctx, callID, stage)
}

func (s *Service) ForCall(ctx context.Context, callID string) ([]Entry, error) {
	return s.repo.ListByCall(ctx, callID)
}

func (s *Service) ByStatus(ctx context.Context, status Status, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByStatus(ctx, status, limit)
}
