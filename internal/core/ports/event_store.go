package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
)

// EventStore is the persistence adapter consumed by the ledger. Implementations
// must make Append atomic: either the event and its outbox envelope are both
// durably stored, or neither is observable to subsequent reads.
type EventStore interface {
	// LoadLatest returns the user's most recent event by (timestamp, seq),
	// or domain.ErrNoEvents.
	LoadLatest(ctx context.Context, userID string) (domain.AttendanceEvent, error)

	// LoadRange returns events ascending by (timestamp, seq) within the query
	// bounds. Unknown users yield an empty slice, not an error.
	LoadRange(ctx context.Context, userID string, q domain.RangeQuery) ([]domain.AttendanceEvent, error)

	// LoadNeighbors returns the logical predecessor (last event at or before
	// ts) and successor (first event after ts) of a prospective insertion
	// point. Either may be nil.
	LoadNeighbors(ctx context.Context, userID string, ts time.Time) (pred, succ *domain.AttendanceEvent, err error)

	// Append durably stores the event together with its outbox envelope and
	// returns it with the store-assigned Seq.
	Append(ctx context.Context, event domain.AttendanceEvent) (domain.AttendanceEvent, error)
}
