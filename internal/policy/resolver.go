package policy

import (
	"sort"

	"github.com/cthz/cthz-core/internal/fleet"
	"github.com/cthz/cthz-core/internal/rules"
)

// Resolve returns the active policies whose scope covers the event source and
// whose conditions match the evaluation context, in dispatch order.
//
// Ordering is deterministic: priority descending, then narrower scope first
// (device before station before group before all), then ID ascending.
//
// A scoped policy whose target does not appear in the event's ancestry does
// not match; a scoped policy with an empty target is treated as inactive
// rather than widened to everything. Malformed condition trees evaluate to
// false and are reported once through diag.
func (r *Registry) Resolve(evalCtx map[string]any, ancestry fleet.Ancestry, diag rules.Diagnostic) []*Policy {
	r.cacheMu.RLock()
	candidates := make([]*Policy, 0, len(r.policies))
	for _, p := range r.policies {
		if !p.Active {
			continue
		}
		if !scopeCovers(p.Scope, ancestry) {
			continue
		}
		candidates = append(candidates, p)
	}
	r.cacheMu.RUnlock()

	matched := candidates[:0]
	for _, p := range candidates {
		named := policyDiag(p.ID, diag)
		if rules.Evaluate(p.Conditions, evalCtx, named) {
			matched = append(matched, p)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if narrowness[a.Scope.Kind] != narrowness[b.Scope.Kind] {
			return narrowness[a.Scope.Kind] < narrowness[b.Scope.Kind]
		}
		return a.ID < b.ID
	})

	out := make([]*Policy, len(matched))
	for i, p := range matched {
		out[i] = p.DeepCopy()
	}
	return out
}

// scopeCovers reports whether the scope's target lies on the event source's
// ancestry chain. All-scoped policies cover everything.
func scopeCovers(s Scope, a fleet.Ancestry) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeDevice:
		return s.TargetID != "" && s.TargetID == a.DeviceID
	case ScopeStation:
		return s.TargetID != "" && s.TargetID == a.StationID
	case ScopeGroup:
		return s.TargetID != "" && s.TargetID == a.GroupID
	default:
		return false
	}
}

func policyDiag(id string, diag rules.Diagnostic) rules.Diagnostic {
	if diag == nil {
		return nil
	}
	return func(msg string) {
		diag("policy " + id + ": " + msg)
	}
}
