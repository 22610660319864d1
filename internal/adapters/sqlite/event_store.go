package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/attlog/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
	"gorm.io/gorm"
)

// occurred_at is stored as UTC unix nanoseconds so that range scans and the
// (occurred_at, seq) ordering compare as plain integers.
type attendanceEventModel struct {
	Seq        int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	EventID    string    `gorm:"column:event_id;not null"`
	UserID     string    `gorm:"column:user_id;not null"`
	Status     string    `gorm:"column:status;not null"`
	OccurredAt int64     `gorm:"column:occurred_at;not null"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null"`
}

func (attendanceEventModel) TableName() string {
	return "attendance_events"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	UserID        string     `gorm:"column:user_id;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

// EventStore persists attendance events in SQLite. Append writes the event
// row and its outbox envelope in one transaction on the single writer
// connection, so a failed append leaves nothing behind.
type EventStore struct {
	db *gormsqlite.DB
}

func NewEventStore(db *gormsqlite.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) LoadLatest(ctx context.Context, userID string) (domain.AttendanceEvent, error) {
	var model attendanceEventModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("user_id = ?", userID).
			Order("occurred_at DESC, seq DESC").
			First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AttendanceEvent{}, domain.ErrNoEvents
		}
		return domain.AttendanceEvent{}, storageError("load latest event", err)
	}
	return toDomain(model), nil
}

func (s *EventStore) LoadRange(ctx context.Context, userID string, q domain.RangeQuery) ([]domain.AttendanceEvent, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	var models []attendanceEventModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&attendanceEventModel{}).Where("user_id = ?", userID)
		if !q.From.IsZero() {
			query = query.Where("occurred_at >= ?", q.From.UTC().UnixNano())
		}
		if !q.To.IsZero() {
			query = query.Where("occurred_at <= ?", q.To.UTC().UnixNano())
		}
		if q.AfterSeq > 0 {
			at := q.AfterTime.UTC().UnixNano()
			query = query.Where("occurred_at > ? OR (occurred_at = ? AND seq > ?)", at, at, q.AfterSeq)
		}
		return query.Order("occurred_at ASC, seq ASC").Limit(q.Limit).Find(&models).Error
	})
	if err != nil {
		return nil, storageError("load event range", err)
	}

	events := make([]domain.AttendanceEvent, 0, len(models))
	for _, model := range models {
		events = append(events, toDomain(model))
	}
	return events, nil
}

func (s *EventStore) LoadNeighbors(ctx context.Context, userID string, ts time.Time) (*domain.AttendanceEvent, *domain.AttendanceEvent, error) {
	nanos := ts.UTC().UnixNano()

	var pred, succ *domain.AttendanceEvent
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		var before attendanceEventModel
		err := tx.Where("user_id = ? AND occurred_at <= ?", userID, nanos).
			Order("occurred_at DESC, seq DESC").
			First(&before).Error
		switch {
		case err == nil:
			event := toDomain(before)
			pred = &event
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		var after attendanceEventModel
		err = tx.Where("user_id = ? AND occurred_at > ?", userID, nanos).
			Order("occurred_at ASC, seq ASC").
			First(&after).Error
		switch {
		case err == nil:
			event := toDomain(after)
			succ = &event
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, storageError("load neighbor events", err)
	}
	return pred, succ, nil
}

func (s *EventStore) Append(ctx context.Context, event domain.AttendanceEvent) (domain.AttendanceEvent, error) {
	var stored domain.AttendanceEvent
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		model := attendanceEventModel{
			EventID:    event.EventID,
			UserID:     event.UserID,
			Status:     string(event.Status),
			OccurredAt: event.Timestamp.UTC().UnixNano(),
			RecordedAt: event.RecordedAt.UTC(),
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		stored = toDomain(model)

		envelope := domain.EventEnvelope{
			EventID:       stored.EventID,
			EventType:     domain.EventTypeAttendanceRecorded,
			SchemaVersion: domain.CurrentEventSchemaVersion,
			UserID:        stored.UserID,
			Seq:           stored.Seq,
			Status:        stored.Status,
			OccurredAt:    stored.Timestamp,
			RecordedAt:    stored.RecordedAt,
		}
		payload, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("marshal outbox payload: %w", err)
		}

		outbox := outboxEventModel{
			EventID:       stored.EventID,
			UserID:        stored.UserID,
			Topic:         "attendance." + stored.UserID + ".recorded",
			PayloadJSON:   string(payload),
			Status:        "pending",
			Attempts:      0,
			NextAttemptAt: stored.RecordedAt,
			LastError:     "",
			CreatedAt:     stored.RecordedAt,
		}
		if err := tx.Create(&outbox).Error; err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AttendanceEvent{}, storageError("append event", err)
	}
	return stored, nil
}

func toDomain(model attendanceEventModel) domain.AttendanceEvent {
	return domain.AttendanceEvent{
		Seq:        model.Seq,
		EventID:    model.EventID,
		UserID:     model.UserID,
		Status:     domain.Status(model.Status),
		Timestamp:  time.Unix(0, model.OccurredAt).UTC(),
		RecordedAt: model.RecordedAt.UTC(),
	}
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
