package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface the registry depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides cached access to policies with resolution against events.
//
// All reads are served from an in-memory cache guarded by cacheMu; writes go
// through the repository first and update the cache on success.
type Registry struct {
	repo     Repository
	policies map[string]*Policy
	cacheMu  sync.RWMutex
	logger   Logger
}

// NewRegistry creates a policy registry backed by the given repository.
func NewRegistry(repo Repository, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		repo:     repo,
		policies: make(map[string]*Policy),
		logger:   logger,
	}
}

// RefreshCache reloads all policies from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	policies, err := r.repo.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("loading policies: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.policies = make(map[string]*Policy, len(policies))
	for _, p := range policies {
		r.policies[p.ID] = p
	}
	r.logger.Info("policy cache refreshed", "policies", len(policies))
	return nil
}

// PolicyCount returns the number of cached policies.
func (r *Registry) PolicyCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.policies)
}

// GetPolicy returns a copy of the policy with the given ID.
func (r *Registry) GetPolicy(id string) (*Policy, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	p, ok := r.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return p.DeepCopy(), nil
}

// ListPolicies returns copies of all policies sorted by ID.
func (r *Registry) ListPolicies() []*Policy {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]*Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreatePolicy validates and persists a new policy, then caches it.
func (r *Registry) CreatePolicy(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := r.repo.CreatePolicy(ctx, p); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.policies[p.ID] = p.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("policy created", "policy_id", p.ID, "name", p.Name)
	return nil
}

// UpdatePolicy validates and persists changes to an existing policy.
// The system flag is immutable; updates preserve the stored value.
func (r *Registry) UpdatePolicy(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.cacheMu.RLock()
	existing, ok := r.policies[p.ID]
	if ok {
		p.System = existing.System
	}
	r.cacheMu.RUnlock()
	if !ok {
		return ErrPolicyNotFound
	}

	if err := r.repo.UpdatePolicy(ctx, p); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.policies[p.ID] = p.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("policy updated", "policy_id", p.ID)
	return nil
}

// DeletePolicy removes a policy. System policies are refused with
// ErrSystemPolicy; deactivate them instead.
func (r *Registry) DeletePolicy(ctx context.Context, id string) error {
	r.cacheMu.RLock()
	existing, ok := r.policies[id]
	system := ok && existing.System
	r.cacheMu.RUnlock()

	if !ok {
		return ErrPolicyNotFound
	}
	if system {
		return ErrSystemPolicy
	}

	if err := r.repo.DeletePolicy(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.policies, id)
	r.cacheMu.Unlock()

	r.logger.Info("policy deleted", "policy_id", id)
	return nil
}

// SetActive toggles a policy's active flag without touching its definition.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) error {
	r.cacheMu.RLock()
	existing, ok := r.policies[id]
	var updated *Policy
	if ok {
		updated = existing.DeepCopy()
	}
	r.cacheMu.RUnlock()

	if !ok {
		return ErrPolicyNotFound
	}

	updated.Active = active
	if err := r.repo.UpdatePolicy(ctx, updated); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.policies[id] = updated
	r.cacheMu.Unlock()

	r.logger.Info("policy active flag changed", "policy_id", id, "active", active)
	return nil
}
