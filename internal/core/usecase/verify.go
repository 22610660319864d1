package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
)

// TimelineReport summarizes an end-to-end integrity check of one user's
// stored timeline.
type TimelineReport struct {
	UserID   string   `json:"user_id"`
	Events   int      `json:"events"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// VerifyTimeline replays a user's full history and re-checks the invariants
// the ledger enforces on write: strict IN/OUT alternation starting with IN,
// and non-decreasing (timestamp, seq) ordering. A valid store always yields
// a clean report; problems indicate external tampering or a store defect.
func VerifyTimeline(ctx context.Context, ledger *LedgerService, userID string) (TimelineReport, error) {
	report := TimelineReport{UserID: userID}

	var prev domain.AttendanceEvent
	for event, err := range ledger.History(ctx, userID, time.Time{}, time.Time{}) {
		if err != nil {
			return TimelineReport{}, err
		}
		if report.Events == 0 {
			if event.Status != domain.StatusIn {
				report.Problems = append(report.Problems,
					fmt.Sprintf("first event seq=%d has status %s", event.Seq, event.Status))
			}
		} else {
			if event.Status == prev.Status {
				report.Problems = append(report.Problems,
					fmt.Sprintf("consecutive %s events at seq=%d and seq=%d", event.Status, prev.Seq, event.Seq))
			}
			if event.Before(prev) {
				report.Problems = append(report.Problems,
					fmt.Sprintf("event seq=%d out of order after seq=%d", event.Seq, prev.Seq))
			}
		}
		prev = event
		report.Events++
	}

	report.Valid = len(report.Problems) == 0
	return report, nil
}
