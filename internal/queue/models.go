package queue

import (
	"errors"
	"time"
)

type Stage string

const (
	StageTranscription   Stage = "transcription"
	StageAnalysis        Stage = "analysis"
	StageVoiceGeneration Stage = "voice_generation"
)

func (s Stage) Valid() bool {
	switch s {
	case StageTranscription, StageAnalysis, StageVoiceGeneration:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Entry tracks one stage of one call. (CallID, Stage) is unique; a retry
// overwrites the entry.
type Entry struct {
	CallID   string `json:"callId" db:"call_id"`
	Stage    Stage  `json:"stageType" db:"stage"`
	Status   Status `json:"status" db:"status"`
	Priority int    `json:"priority" db:"priority"`
	Attempts int    `json:"attempts" db:"attempts"`
	Error    string `json:"error,omitempty" db:"error"`

	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
	ProcessedAt *time.Time `json:"processedAt,omitempty" db:"processed_at"`
}

var (
	ErrNotFound     = errors.New("queue: entry not found")
	ErrInvalidStage = errors.New("queue: invalid stage")
	ErrTerminal     = errors.New("queue: entry is in a terminal state")
	ErrTransition   = errors.New("queue: invalid transition")
)

// transitions lists the allowed moves. Enqueue is the only way out of a
// terminal state and is handled separately.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
