package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilotdesk/governance/internal/models"
)

type MemoryStore struct {
	mu         sync.RWMutex
	proposals  map[uuid.UUID]models.Proposal
	components map[uuid.UUID][]models.ComponentDecision
	decisions  map[uuid.UUID]models.Decision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals:  map[uuid.UUID]models.Proposal{},
		components: map[uuid.UUID][]models.ComponentDecision{},
		decisions:  map[uuid.UUID]models.Decision{},
	}
}

func cloneProposal(p models.Proposal) models.Proposal {
	out := p
	out.Payload = append(json.RawMessage(nil), p.Payload...)
	out.Components = append([]string(nil), p.Components...)
	if p.SupersedesID != nil {
		id := *p.SupersedesID
		out.SupersedesID = &id
	}
	return out
}

func (m *MemoryStore) CreateProposal(ctx context.Context, p models.Proposal) (models.Proposal, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.ID] = cloneProposal(p)
	return p, nil
}

func (m *MemoryStore) GetProposal(ctx context.Context, id uuid.UUID) (models.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return models.Proposal{}, ErrNotFound
	}
	return cloneProposal(p), nil
}

func (m *MemoryStore) ListProposals(ctx context.Context, filter ListFilter) ([]models.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Proposal
	for _, p := range m.proposals {
		if filter.WorkspaceID != nil && p.WorkspaceID != *filter.WorkspaceID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, cloneProposal(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		start = len(out)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (m *MemoryStore) TransitionStatus(ctx context.Context, id uuid.UUID, to models.ProposalStatus) (models.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return models.Proposal{}, ErrNotFound
	}
	if p.Status != models.StatusPending {
		return models.Proposal{}, ErrNotPending
	}
	p.Status = to
	m.proposals[id] = p
	return cloneProposal(p), nil
}

func (m *MemoryStore) PutComponentDecisions(ctx context.Context, proposalID uuid.UUID, decisions []models.ComponentDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[proposalID]; !ok {
		return ErrNotFound
	}
	stored := m.components[proposalID]
	index := map[string]int{}
	for i, d := range stored {
		index[d.ComponentKey] = i
	}
	for _, d := range decisions {
		i, ok := index[d.ComponentKey]
		if !ok {
			stored = append(stored, d)
			index[d.ComponentKey] = len(stored) - 1
			continue
		}
		// A decision is immutable once it leaves pending.
		if stored[i].Decision != models.ComponentPending {
			continue
		}
		stored[i] = d
	}
	m.components[proposalID] = stored
	return nil
}

func (m *MemoryStore) ListComponentDecisions(ctx context.Context, proposalID uuid.UUID) ([]models.ComponentDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ComponentDecision, len(m.components[proposalID]))
	copy(out, m.components[proposalID])
	return out, nil
}

func (m *MemoryStore) CreateDecision(ctx context.Context, d models.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[d.ProposalID]; !ok {
		return ErrNotFound
	}
	m.decisions[d.ProposalID] = d
	return nil
}

func (m *MemoryStore) GetDecision(ctx context.Context, proposalID uuid.UUID) (models.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[proposalID]
	if !ok {
		return models.Decision{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Proposal
	for _, p := range m.proposals {
		if p.Status == models.StatusPending && now.After(p.ExpiresAt) {
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
