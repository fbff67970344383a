package audit

import "time"

// Event is an immutable, append-only audit log record of a call lifecycle step.
//
// Invariants:
// - Events are never updated or deleted.
// - deal_id is required; every event belongs to one call attempt.
// - actor and ip capture are best-effort; do not block call flows on audit failures.
type Event struct {
	ID     string `json:"id" db:"id"`
	DealID string `json:"deal_id" db:"deal_id"`

	// Type indicates the lifecycle category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUID is the authenticated user causing the event, empty for
	// unauthenticated terminate calls and the watcher.
	ActorUID string `json:"actor_uid,omitempty" db:"actor_uid"`

	// IPAddress is the resolved client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Status is the call status after the event, if it changed one.
	Status string `json:"status,omitempty" db:"status"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallInitiated  EventType = "call_initiated"
	EventTypeCallTerminated EventType = "call_terminated"
	EventTypeStatusChanged  EventType = "status_changed"
	EventTypePushFailed     EventType = "push_failed"
)
