package correlation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository used by tests.
// MarkTerminal mirrors the SQLite guarded update (only pending rows move) and
// Create mirrors the unique partial index on outstanding pairs.
type MemoryRepository struct {
	mu       sync.Mutex
	requests map[string]*PendingRequest
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{requests: make(map[string]*PendingRequest)}
}

func (m *MemoryRepository) Get(_ context.Context, correlationID string) (*PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.requests[correlationID]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *pr
	return &cpy, nil
}

func (m *MemoryRepository) HasPending(_ context.Context, deviceID, requestType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pr := range m.requests {
		if pr.DeviceID == deviceID && pr.RequestType == requestType && pr.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) Create(_ context.Context, pr *PendingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.DeviceID == pr.DeviceID && existing.RequestType == pr.RequestType &&
			existing.Status == StatusPending {
			return fmt.Errorf("%w: %s/%s", ErrRequestPending, pr.DeviceID, pr.RequestType)
		}
	}
	cpy := *pr
	m.requests[pr.CorrelationID] = &cpy
	return nil
}

func (m *MemoryRepository) MarkTerminal(_ context.Context, correlationID string, to RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.requests[correlationID]
	if !ok || pr.Status != StatusPending {
		return ErrNotFound
	}
	pr.Status = to
	return nil
}

func (m *MemoryRepository) ListExpired(_ context.Context, now time.Time) ([]PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingRequest
	for _, pr := range m.requests {
		if pr.Status == StatusPending && pr.Expired(now) {
			out = append(out, *pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeoutAt.Before(out[j].TimeoutAt) })
	return out, nil
}

func (m *MemoryRepository) ListByDevice(_ context.Context, deviceID string) ([]PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingRequest
	for _, pr := range m.requests {
		if pr.DeviceID == deviceID {
			out = append(out, *pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (m *MemoryRepository) ListPending(_ context.Context) ([]PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingRequest
	for _, pr := range m.requests {
		if pr.Status == StatusPending {
			out = append(out, *pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}
