package policy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilotdesk/governance/internal/models"
)

type MemoryStore struct {
	mu       sync.RWMutex
	policies map[uuid.UUID]models.AutopilotPolicy
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: map[uuid.UUID]models.AutopilotPolicy{}}
}

func (m *MemoryStore) Get(ctx context.Context, workspaceID uuid.UUID) (models.AutopilotPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.policies[workspaceID]; ok {
		return clonePolicy(p), nil
	}
	return models.DefaultPolicy(workspaceID), nil
}

func (m *MemoryStore) Put(ctx context.Context, p models.AutopilotPolicy) (models.AutopilotPolicy, error) {
	p.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.WorkspaceID] = clonePolicy(p)
	return p, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func clonePolicy(p models.AutopilotPolicy) models.AutopilotPolicy {
	out := p
	out.AllowedActionTypes = append([]string(nil), p.AllowedActionTypes...)
	return out
}
