package alert

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository used in tests. It mirrors the
// SQLite implementation's semantics, including the guarded one-way
// acknowledgement write.
type MemoryRepository struct {
	mu     sync.Mutex
	alerts map[string]*Alert
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{alerts: make(map[string]*Alert)}
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cpy := *a
	return &cpy, nil
}

func (r *MemoryRepository) Create(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cpy := *a
	r.alerts[a.ID] = &cpy
	return nil
}

func (r *MemoryRepository) Merge(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.alerts[a.ID]
	if !ok {
		return ErrAlertNotFound
	}
	stored.Severity = a.Severity
	stored.Message = a.Message
	stored.CreatedAt = a.CreatedAt
	return nil
}

func (r *MemoryRepository) Acknowledge(_ context.Context, id, actor string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.alerts[id]
	if !ok || stored.Acknowledged {
		return false, nil
	}
	stored.Acknowledged = true
	stored.AcknowledgedBy = actor
	ackAt := at
	stored.AcknowledgedAt = &ackAt
	return true, nil
}

func (r *MemoryRepository) FindOpen(_ context.Context, sourceType, sourceID, alertType string, since time.Time) (*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *Alert
	for _, a := range r.alerts {
		if a.Acknowledged || a.SourceType != sourceType || a.SourceID != sourceID || a.AlertType != alertType {
			continue
		}
		if a.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	if newest == nil {
		return nil, nil
	}
	cpy := *newest
	return &cpy, nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var alerts []Alert
	for _, a := range r.alerts {
		if filter.Acknowledged != nil && a.Acknowledged != *filter.Acknowledged {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.SourceType != "" && a.SourceType != filter.SourceType {
			continue
		}
		if filter.SourceID != "" && a.SourceID != filter.SourceID {
			continue
		}
		alerts = append(alerts, *a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	if limit := normalizeLimit(filter.Limit); len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}
