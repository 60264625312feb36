package policy

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory Repository used in tests. It mirrors the
// SQLite implementation's semantics, returning deep copies so callers never
// share state with the store.
type MemoryRepository struct {
	mu       sync.Mutex
	policies map[string]*Policy
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{policies: make(map[string]*Policy)}
}

func (m *MemoryRepository) GetPolicy(_ context.Context, id string) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return p.DeepCopy(), nil
}

func (m *MemoryRepository) ListPolicies(_ context.Context) ([]*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Policy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) CreatePolicy(_ context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; ok {
		return ErrPolicyExists
	}
	m.policies[p.ID] = p.DeepCopy()
	return nil
}

func (m *MemoryRepository) UpdatePolicy(_ context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; !ok {
		return ErrPolicyNotFound
	}
	m.policies[p.ID] = p.DeepCopy()
	return nil
}

func (m *MemoryRepository) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[id]; !ok {
		return ErrPolicyNotFound
	}
	delete(m.policies, id)
	return nil
}
