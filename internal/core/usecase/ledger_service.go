package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
	"github.com/atvirokodosprendimai/attlog/internal/core/ports"
	"github.com/google/uuid"
)

const defaultHistoryPageSize = 200

// LedgerConfig carries the timestamp tolerances recognized by the ledger.
// Both default to zero: strict ordering, no future timestamps.
type LedgerConfig struct {
	// OutOfOrderTolerance bounds how far behind the user's latest event a
	// new timestamp may fall and still be inserted into the timeline.
	OutOfOrderTolerance time.Duration

	// FutureSkewTolerance bounds how far ahead of the ingestion clock a
	// caller-supplied timestamp may run.
	FutureSkewTolerance time.Duration
}

// LedgerService owns all attendance events. It validates and appends new
// events, answers history and current-status queries, and enforces the
// per-user IN/OUT alternation invariant under concurrent callers.
type LedgerService struct {
	store ports.EventStore
	cfg   LedgerConfig
	locks *userLocks
	now   func() time.Time
}

func NewLedgerService(store ports.EventStore, cfg LedgerConfig) *LedgerService {
	return &LedgerService{
		store: store,
		cfg:   cfg,
		locks: newUserLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Record validates and durably appends one attendance event. A zero `at`
// means "ingestion time". Exactly one durable write happens on success and
// none on any failure path.
func (s *LedgerService) Record(ctx context.Context, userID string, status domain.Status, at time.Time) (domain.AttendanceEvent, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return domain.AttendanceEvent{}, err
	}
	if status != domain.StatusIn && status != domain.StatusOut {
		return domain.AttendanceEvent{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	now := s.now()
	ts := at
	if ts.IsZero() {
		ts = now
	}
	ts = ts.UTC()
	if ts.Sub(now) > s.cfg.FutureSkewTolerance {
		return domain.AttendanceEvent{}, fmt.Errorf("%w: %s ahead of ingestion time",
			domain.ErrFutureTimestamp, ts.Sub(now))
	}

	// The alternation check and the append must be atomic per user: two
	// concurrent writers for the same user must not both observe the same
	// latest event and both succeed.
	s.locks.acquire(userID)
	defer s.locks.release(userID)

	if err := s.validateTransition(ctx, userID, status, ts); err != nil {
		return domain.AttendanceEvent{}, err
	}

	stored, err := s.store.Append(ctx, domain.AttendanceEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		Status:     status,
		Timestamp:  ts,
		RecordedAt: now,
	})
	if err != nil {
		return domain.AttendanceEvent{}, err
	}
	return stored, nil
}

// validateTransition checks the new event against its logical neighbors in
// the user's timeline. Events landing at or after the latest timestamp are
// tail appends validated against the latest event only. Earlier timestamps
// are insertions: first bounded by the out-of-order tolerance, then
// re-validated for alternation against both adjacent events.
func (s *LedgerService) validateTransition(ctx context.Context, userID string, status domain.Status, ts time.Time) error {
	latest, err := s.store.LoadLatest(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNoEvents) {
			if status != domain.StatusIn {
				return fmt.Errorf("%w: first event for user must be %s", domain.ErrInvalidTransition, domain.StatusIn)
			}
			return nil
		}
		return err
	}

	// Equal timestamps sort after existing events (seq tie-break), so only
	// a strictly earlier timestamp is an insertion.
	if !ts.Before(latest.Timestamp) {
		if latest.Status == status {
			return fmt.Errorf("%w: consecutive %s events", domain.ErrInvalidTransition, status)
		}
		return nil
	}

	if behind := latest.Timestamp.Sub(ts); behind > s.cfg.OutOfOrderTolerance {
		return fmt.Errorf("%w: %s behind latest event", domain.ErrStaleEvent, behind)
	}

	pred, succ, err := s.store.LoadNeighbors(ctx, userID, ts)
	if err != nil {
		return err
	}
	if pred == nil {
		if status != domain.StatusIn {
			return fmt.Errorf("%w: first event for user must be %s", domain.ErrInvalidTransition, domain.StatusIn)
		}
	} else if pred.Status == status {
		return fmt.Errorf("%w: consecutive %s events", domain.ErrInvalidTransition, status)
	}
	if succ != nil && succ.Status == status {
		return fmt.Errorf("%w: consecutive %s events", domain.ErrInvalidTransition, status)
	}
	return nil
}

// CurrentStatus returns the status of the user's most recent event by
// effective timestamp, or StatusNone for users with no events.
func (s *LedgerService) CurrentStatus(ctx context.Context, userID string) (domain.Status, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return "", err
	}
	latest, err := s.store.LoadLatest(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNoEvents) {
			return domain.StatusNone, nil
		}
		return "", err
	}
	return latest.Status, nil
}

// History returns the user's events within [from, to] ascending by
// (timestamp, seq). Zero bounds are unbounded. The sequence is lazy, pages
// through the store, and restarts from the beginning on re-iteration.
func (s *LedgerService) History(ctx context.Context, userID string, from, to time.Time) iter.Seq2[domain.AttendanceEvent, error] {
	return func(yield func(domain.AttendanceEvent, error) bool) {
		if err := domain.ValidateUserID(userID); err != nil {
			yield(domain.AttendanceEvent{}, err)
			return
		}

		q := domain.RangeQuery{From: from, To: to, Limit: defaultHistoryPageSize}
		for {
			page, err := s.store.LoadRange(ctx, userID, q)
			if err != nil {
				yield(domain.AttendanceEvent{}, err)
				return
			}
			for _, event := range page {
				if !yield(event, nil) {
					return
				}
			}
			if len(page) < q.Limit {
				return
			}
			last := page[len(page)-1]
			q.AfterTime = last.Timestamp
			q.AfterSeq = last.Seq
		}
	}
}
