package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID string `json:"call_id,omitempty" db:"call_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeIngestionConfig EventType = "ingestion_config"
	EventTypeReprocess       EventType = "call_reprocess"
	EventTypeRegenerateReply EventType = "reply_regenerate"
	EventTypeBatchProcess    EventType = "batch_process"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeIngestionConfig, EventTypeReprocess, EventTypeRegenerateReply, EventTypeBatchProcess:
		return true
	}
	return false
}
