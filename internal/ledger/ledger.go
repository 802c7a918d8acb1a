// package ledger tracks autopilot consumption per workspace: actions per ISO
// week and spend per UTC day. Reservations are atomic compare-and-increment
// operations; callers never read-then-write the counters directly.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reservation is the outcome of a reservation attempt. Remaining is the
// budget left after the attempt (informational; do not use it to decide a
// follow-up reservation).
type Reservation struct {
	Granted   bool  `json:"granted"`
	Remaining int64 `json:"remaining"`
}

// Ledger is the budget consumption store. Reserve methods must be atomic
// across concurrent callers for the same (workspace, bucket) key: when one
// unit of budget remains, exactly one of two simultaneous callers wins.
// Release methods undo a speculative reservation whose governance operation
// did not commit; they are the only way a counter decreases within a bucket.
type Ledger interface {
	// ReserveAction consumes one weekly action slot if fewer than cap are
	// used in the bucket.
	ReserveAction(ctx context.Context, workspaceID uuid.UUID, weekBucket string, cap int) (Reservation, error)

	// ReleaseAction returns one weekly action slot.
	ReleaseAction(ctx context.Context, workspaceID uuid.UUID, weekBucket string) error

	// ReserveSpend consumes amountCents of the daily budget if the bucket
	// total would not exceed capCents.
	ReserveSpend(ctx context.Context, workspaceID uuid.UUID, dayBucket string, amountCents, capCents int64) (Reservation, error)

	// ReleaseSpend returns amountCents to the daily budget.
	ReleaseSpend(ctx context.Context, workspaceID uuid.UUID, dayBucket string, amountCents int64) error
}

// WeekBucket returns the ISO-week bucket key for t, e.g. "2026-W35".
func WeekBucket(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// DayBucket returns the UTC calendar-day bucket key for t, e.g. "2026-08-30".
func DayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
