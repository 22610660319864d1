package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
)

type outboxRepoStub struct {
	events []domain.OutboxEvent

	fetchLimits []int
	failed      []failedMark
	dead        []deadMark
	dispatched  []int64
}

type failedMark struct {
	id           int64
	attempts     int
	nextAttempt  string
	errorMessage string
}

type deadMark struct {
	id           int64
	attempts     int
	errorMessage string
}

func (r *outboxRepoStub) FetchPending(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	r.fetchLimits = append(r.fetchLimits, limit)
	out := make([]domain.OutboxEvent, 0, limit)
	now := time.Now().UTC()
	for _, e := range r.events {
		if e.Status != "pending" {
			continue
		}
		if e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepoStub) MarkDispatched(_ context.Context, id int64) error {
	r.dispatched = append(r.dispatched, id)
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = "dispatched"
			now := time.Now().UTC()
			r.events[i].DispatchedAt = &now
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) MarkFailed(_ context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	r.failed = append(r.failed, failedMark{id: id, attempts: attempts, nextAttempt: nextAttemptAt, errorMessage: errMsg})
	parsed, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return err
	}
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Attempts = attempts
			r.events[i].NextAttemptAt = parsed
			r.events[i].LastError = errMsg
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) MarkDead(_ context.Context, id int64, attempts int, errMsg string) error {
	r.dead = append(r.dead, deadMark{id: id, attempts: attempts, errorMessage: errMsg})
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = "dead"
			r.events[i].Attempts = attempts
			r.events[i].LastError = errMsg
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

type capturingPublisher struct {
	topics []string
	events []domain.EventEnvelope
	err    error
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func pendingOutboxEvent(id int64, userID string) domain.OutboxEvent {
	payload, _ := json.Marshal(domain.EventEnvelope{
		EventID:       "evt-1",
		EventType:     domain.EventTypeAttendanceRecorded,
		SchemaVersion: domain.CurrentEventSchemaVersion,
		UserID:        userID,
		Seq:           1,
		Status:        domain.StatusIn,
	})
	return domain.OutboxEvent{
		ID:            id,
		EventID:       "evt-1",
		UserID:        userID,
		Topic:         "attendance." + userID + ".recorded",
		PayloadJSON:   payload,
		Status:        "pending",
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
		CreatedAt:     time.Now().UTC(),
	}
}

func TestDispatchBatchPublishesAndMarks(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{pendingOutboxEvent(1, "u1")}}
	pub := &capturingPublisher{}
	d := NewOutboxDispatcher(repo, pub, time.Second, 10)

	if err := d.dispatchBatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(pub.events) != 1 || pub.events[0].UserID != "u1" {
		t.Fatalf("unexpected published events: %+v", pub.events)
	}
	if len(repo.dispatched) != 1 || repo.dispatched[0] != 1 {
		t.Fatalf("unexpected dispatched marks: %+v", repo.dispatched)
	}
	if got := d.Metrics().DispatchSuccessTotal; got != 1 {
		t.Fatalf("expected 1 success, got %d", got)
	}
}

func TestDispatchBatchRetriesWithBackoff(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{pendingOutboxEvent(1, "u1")}}
	pub := &capturingPublisher{err: errors.New("receiver down")}
	d := NewOutboxDispatcher(repo, pub, time.Second, 10)

	if err := d.dispatchBatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(repo.failed) != 1 {
		t.Fatalf("expected 1 failed mark, got %+v", repo.failed)
	}
	if repo.failed[0].attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", repo.failed[0].attempts)
	}
	if repo.events[0].NextAttemptAt.Before(time.Now().UTC()) {
		t.Fatal("expected next attempt in the future")
	}
}

func TestDispatchBatchDeadLettersAfterMaxRetries(t *testing.T) {
	event := pendingOutboxEvent(1, "u1")
	event.Attempts = 4
	repo := &outboxRepoStub{events: []domain.OutboxEvent{event}}
	pub := &capturingPublisher{err: errors.New("receiver down")}
	d := NewOutboxDispatcher(repo, pub, time.Second, 10)

	if err := d.dispatchBatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(repo.dead) != 1 || repo.dead[0].attempts != 5 {
		t.Fatalf("expected dead letter at attempt 5, got %+v", repo.dead)
	}
	if got := d.Metrics().DispatchDeadTotal; got != 1 {
		t.Fatalf("expected 1 dead, got %d", got)
	}
}

func TestDispatchBatchMarksUndecodablePayloadFailed(t *testing.T) {
	event := pendingOutboxEvent(1, "u1")
	event.PayloadJSON = []byte("not json")
	repo := &outboxRepoStub{events: []domain.OutboxEvent{event}}
	pub := &capturingPublisher{}
	d := NewOutboxDispatcher(repo, pub, time.Second, 10)

	if err := d.dispatchBatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(pub.events) != 0 {
		t.Fatalf("expected nothing published, got %+v", pub.events)
	}
	if len(repo.failed) != 1 {
		t.Fatalf("expected failed mark, got %+v", repo.failed)
	}
}

func TestBackoffDurationGrowsAndCaps(t *testing.T) {
	if backoffDuration(1) != time.Second {
		t.Fatalf("unexpected first backoff: %s", backoffDuration(1))
	}
	if backoffDuration(3) != 9*time.Second {
		t.Fatalf("unexpected third backoff: %s", backoffDuration(3))
	}
	if backoffDuration(100) != 5*time.Minute {
		t.Fatalf("expected cap at 5m, got %s", backoffDuration(100))
	}
}
