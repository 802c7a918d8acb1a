package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type bucketKey struct {
	workspaceID uuid.UUID
	bucket      string
}

// MemoryLedger keeps consumption counters in process memory. The single
// mutex makes every reservation a compare-and-increment; buckets for
// different workspaces share the lock but the critical section is a map
// lookup, so contention is negligible at governance rates.
type MemoryLedger struct {
	mu      sync.Mutex
	actions map[bucketKey]int64
	spend   map[bucketKey]int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		actions: map[bucketKey]int64{},
		spend:   map[bucketKey]int64{},
	}
}

func (m *MemoryLedger) ReserveAction(ctx context.Context, workspaceID uuid.UUID, weekBucket string, cap int) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucketKey{workspaceID, weekBucket}
	used := m.actions[key]
	if used+1 > int64(cap) {
		return Reservation{Granted: false, Remaining: remaining(int64(cap), used)}, nil
	}
	m.actions[key] = used + 1
	return Reservation{Granted: true, Remaining: int64(cap) - used - 1}, nil
}

func (m *MemoryLedger) ReleaseAction(ctx context.Context, workspaceID uuid.UUID, weekBucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucketKey{workspaceID, weekBucket}
	if m.actions[key] > 0 {
		m.actions[key]--
	}
	return nil
}

func (m *MemoryLedger) ReserveSpend(ctx context.Context, workspaceID uuid.UUID, dayBucket string, amountCents, capCents int64) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucketKey{workspaceID, dayBucket}
	spent := m.spend[key]
	if spent+amountCents > capCents {
		return Reservation{Granted: false, Remaining: remaining(capCents, spent)}, nil
	}
	m.spend[key] = spent + amountCents
	return Reservation{Granted: true, Remaining: capCents - spent - amountCents}, nil
}

func (m *MemoryLedger) ReleaseSpend(ctx context.Context, workspaceID uuid.UUID, dayBucket string, amountCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucketKey{workspaceID, dayBucket}
	m.spend[key] -= amountCents
	if m.spend[key] < 0 {
		m.spend[key] = 0
	}
	return nil
}

func remaining(cap, used int64) int64 {
	if used >= cap {
		return 0
	}
	return cap - used
}
