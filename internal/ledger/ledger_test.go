package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWeekBucket(t *testing.T) {
	// Jan 1 2027 falls in ISO week 53 of 2026.
	require.Equal(t, "2026-W53", WeekBucket(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "2026-W35", WeekBucket(time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)))
	// Bucket keys are UTC regardless of the input location.
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	require.Equal(t,
		WeekBucket(time.Date(2026, 8, 30, 22, 0, 0, 0, ny).UTC()),
		WeekBucket(time.Date(2026, 8, 30, 22, 0, 0, 0, ny)))
}

func TestDayBucket(t *testing.T) {
	require.Equal(t, "2026-08-30", DayBucket(time.Date(2026, 8, 30, 23, 59, 59, 0, time.UTC)))
	require.Equal(t, "2026-08-31", DayBucket(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)))
}

func TestMemoryLedgerActions(t *testing.T) {
	m := NewMemoryLedger()
	ctx := context.Background()
	ws := uuid.New()

	for i := 0; i < 3; i++ {
		r, err := m.ReserveAction(ctx, ws, "2026-W35", 3)
		require.NoError(t, err)
		require.True(t, r.Granted)
		require.Equal(t, int64(2-i), r.Remaining)
	}

	r, err := m.ReserveAction(ctx, ws, "2026-W35", 3)
	require.NoError(t, err)
	require.False(t, r.Granted)
	require.Zero(t, r.Remaining)

	// A different bucket or workspace has its own counter.
	r, err = m.ReserveAction(ctx, ws, "2026-W36", 3)
	require.NoError(t, err)
	require.True(t, r.Granted)
	r, err = m.ReserveAction(ctx, uuid.New(), "2026-W35", 3)
	require.NoError(t, err)
	require.True(t, r.Granted)

	// Release frees exactly one slot.
	require.NoError(t, m.ReleaseAction(ctx, ws, "2026-W35"))
	r, err = m.ReserveAction(ctx, ws, "2026-W35", 3)
	require.NoError(t, err)
	require.True(t, r.Granted)
}

func TestMemoryLedgerZeroCapDeniesEverything(t *testing.T) {
	m := NewMemoryLedger()
	r, err := m.ReserveAction(context.Background(), uuid.New(), "2026-W35", 0)
	require.NoError(t, err)
	require.False(t, r.Granted)
}

func TestMemoryLedgerSpend(t *testing.T) {
	m := NewMemoryLedger()
	ctx := context.Background()
	ws := uuid.New()

	r, err := m.ReserveSpend(ctx, ws, "2026-08-30", 700, 1000)
	require.NoError(t, err)
	require.True(t, r.Granted)
	require.Equal(t, int64(300), r.Remaining)

	r, err = m.ReserveSpend(ctx, ws, "2026-08-30", 400, 1000)
	require.NoError(t, err)
	require.False(t, r.Granted)
	require.Equal(t, int64(300), r.Remaining)

	r, err = m.ReserveSpend(ctx, ws, "2026-08-30", 300, 1000)
	require.NoError(t, err)
	require.True(t, r.Granted)
	require.Zero(t, r.Remaining)

	require.NoError(t, m.ReleaseSpend(ctx, ws, "2026-08-30", 300))
	r, err = m.ReserveSpend(ctx, ws, "2026-08-30", 300, 1000)
	require.NoError(t, err)
	require.True(t, r.Granted)
}

func TestMemoryLedgerConcurrentReservations(t *testing.T) {
	m := NewMemoryLedger()
	ctx := context.Background()
	ws := uuid.New()
	const slots = 10
	const callers = 50

	var wg sync.WaitGroup
	granted := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, _ := m.ReserveAction(ctx, ws, "2026-W35", slots)
			granted <- r.Granted
		}()
	}
	wg.Wait()
	close(granted)

	wins := 0
	for g := range granted {
		if g {
			wins++
		}
	}
	require.Equal(t, slots, wins)
}
