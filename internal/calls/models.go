package calls

import (
	"errors"
	"time"
)

// Call is one telephony session tracked through its lifecycle and the
// intelligence stages.
//
// Stage invariant: Transcription, Analysis and Reply are populated strictly
// in that order. Service enforces this with ErrStageOrder.
type Call struct {
	ID         string `json:"id" db:"id"`
	ExternalID string `json:"externalId" db:"external_id"`

	From       string    `json:"from" db:"from_number"`
	To         string    `json:"to" db:"to_number"`
	Direction  Direction `json:"direction" db:"direction"`
	Department string    `json:"department" db:"department"`

	Status Status `json:"status" db:"status"`

	// Duration is the call duration in seconds.
	Duration int `json:"duration" db:"duration"`

	Recording     *Recording     `json:"recording,omitempty" db:"recording"`
	Transcription *Transcription `json:"transcription,omitempty" db:"transcription"`
	Analysis      *Analysis      `json:"aiAnalysis,omitempty" db:"analysis"`
	Reply         *Reply         `json:"aiReply,omitempty" db:"reply"`

	Notes string   `json:"notes,omitempty" db:"notes"`
	Tags  []string `json:"tags,omitempty" db:"tags"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusFailed    Status = "failed"
)

type Recording struct {
	URL      string `json:"url"`
	SID      string `json:"sid,omitempty"`
	Duration int    `json:"duration"`
	Format   string `json:"format,omitempty"`
}

// StageStatus mirrors the processing queue status of a stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

type Transcription struct {
	Text       string      `json:"text"`
	Language   string      `json:"language"`
	Confidence float64     `json:"confidence"`
	Status     StageStatus `json:"status"`
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type Analysis struct {
	Summary          string    `json:"summary"`
	Sentiment        Sentiment `json:"sentiment"`
	Intent           string    `json:"intent"`
	Category         string    `json:"category"`
	Priority         Priority  `json:"priority"`
	SuggestedActions []string  `json:"suggestedActions"`
	Keywords         []string  `json:"keywords"`

	// Degraded is set when the model output could not be parsed and the
	// neutral fallback was stored instead.
	Degraded bool `json:"degraded,omitempty"`
}

type Reply struct {
	Text     string `json:"text"`
	Tone     string `json:"tone"`
	VoiceURL string `json:"voiceUrl,omitempty"`
}

var (
	ErrNotFound     = errors.New("calls: not found")
	ErrStageOrder   = errors.New("calls: predecessor stage incomplete")
	ErrInvalidEvent = errors.New("calls: invalid event")
)
