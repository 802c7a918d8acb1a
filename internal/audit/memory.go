package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySink keeps the audit log in process memory, preserving append order.
type MemorySink struct {
	mu       sync.RWMutex
	entries  []Entry
	lastHash map[uuid.UUID]string
}

func NewMemorySink() *MemorySink {
	return &MemorySink{lastHash: map[uuid.UUID]string{}}
}

func (m *MemorySink) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}
	prev := m.lastHash[e.ProposalID]
	hash, err := chainHash(e, prev)
	if err != nil {
		return err
	}
	e.PrevHash = prev
	e.Hash = hash

	stored := *e
	stored.Detail = append(json.RawMessage(nil), e.Detail...)
	m.entries = append(m.entries, stored)
	m.lastHash[e.ProposalID] = hash
	return nil
}

func (m *MemorySink) Query(ctx context.Context, proposalID string) ([]Entry, error) {
	id, err := uuid.Parse(proposalID)
	if err != nil {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.ProposalID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemorySink) Ping(ctx context.Context) error { return nil }
