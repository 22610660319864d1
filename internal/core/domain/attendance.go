package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidUserID      = errors.New("invalid user id")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrStaleEvent         = errors.New("event timestamp too far behind user timeline")
	ErrFutureTimestamp    = errors.New("event timestamp exceeds future skew tolerance")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNoEvents is returned by stores when a user has no accepted events.
	ErrNoEvents = errors.New("no events")
)

type Status string

const (
	StatusIn   Status = "IN"
	StatusOut  Status = "OUT"
	StatusNone Status = "NONE"
)

// ParseStatus accepts the two recordable statuses. StatusNone is a query
// result, never an input.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusIn:
		return StatusIn, nil
	case StatusOut:
		return StatusOut, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// AttendanceEvent is a single accepted presence transition for a user.
// Events are immutable once accepted; corrections are compensating events.
type AttendanceEvent struct {
	// Seq is assigned by the store on append and breaks ties between
	// events sharing an identical timestamp.
	Seq        int64
	EventID    string
	UserID     string
	Status     Status
	Timestamp  time.Time
	RecordedAt time.Time
}

func ValidateUserID(userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	return nil
}

// Before reports whether e sorts before other in a user's timeline,
// ordering by (timestamp, seq).
func (e AttendanceEvent) Before(other AttendanceEvent) bool {
	if e.Timestamp.Equal(other.Timestamp) {
		return e.Seq < other.Seq
	}
	return e.Timestamp.Before(other.Timestamp)
}

// RangeQuery selects an ascending (timestamp, seq) slice of a user's
// timeline. Zero From/To mean unbounded; AfterTime/AfterSeq form a paging
// cursor excluding everything at or before that position.
type RangeQuery struct {
	From      time.Time
	To        time.Time
	AfterTime time.Time
	AfterSeq  int64
	Limit     int
}
