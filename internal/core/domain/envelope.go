package domain

import "time"

const CurrentEventSchemaVersion = 1

const EventTypeAttendanceRecorded = "attendance.recorded"

// EventEnvelope is the outbound representation of an accepted attendance
// event, written to the outbox in the same transaction as the event itself.
type EventEnvelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	SchemaVersion int       `json:"schema_version"`
	UserID        string    `json:"user_id"`
	Seq           int64     `json:"seq"`
	Status        Status    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
	RecordedAt    time.Time `json:"recorded_at"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	UserID        string
	Topic         string
	PayloadJSON   []byte
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
