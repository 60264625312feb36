package policy

import (
	"fmt"
	"time"

	"github.com/cthz/cthz-core/internal/rules"
)

// ActionType enumerates the action kinds a policy may dispatch.
type ActionType string

// Action types.
const (
	ActionUIAlert       ActionType = "ui_alert"
	ActionExternalEvent ActionType = "external_event"
	ActionNotify        ActionType = "notify"
	ActionTriggerScan   ActionType = "trigger_scan"
)

// ParamUseScanCorrelation marks an action as dependent on the correlation id
// of a preceding trigger_scan in the same policy. If the scan fails to issue,
// dependent actions are skipped instead of executing against a missing id.
const ParamUseScanCorrelation = "use_scan_correlation"

// ActionSpec is one step of a policy's ordered action list.
type ActionSpec struct {
	Type       ActionType     `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ScopeKind selects which hierarchy level a policy applies to.
type ScopeKind string

// Scope kinds, narrowest first.
const (
	ScopeDevice  ScopeKind = "device"
	ScopeStation ScopeKind = "station"
	ScopeGroup   ScopeKind = "group"
	ScopeAll     ScopeKind = "all"
)

// narrowness orders scope kinds for deterministic tie-breaking:
// device beats station beats group beats all.
var narrowness = map[ScopeKind]int{
	ScopeDevice:  0,
	ScopeStation: 1,
	ScopeGroup:   2,
	ScopeAll:     3,
}

// Scope binds a policy to an entity (or to everything, for kind all).
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	TargetID string    `json:"target_id,omitempty"`
}

// Policy is a declarative rule: when its conditions match an event within its
// scope, its actions are dispatched in order.
//
// Policies are immutable after creation except for active toggling and
// priority edits. System policies ship with the deployment and cannot be
// deleted through the API.
type Policy struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Conditions  rules.Node   `json:"conditions"`
	Actions     []ActionSpec `json:"actions"`
	Priority    int          `json:"priority"`
	Scope       Scope        `json:"scope"`
	Active      bool         `json:"active"`
	System      bool         `json:"system"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Policy for cache isolation.
func (p *Policy) DeepCopy() *Policy {
	if p == nil {
		return nil
	}

	cpy := *p
	cpy.Conditions = deepCopyNode(p.Conditions)
	if p.Actions != nil {
		cpy.Actions = make([]ActionSpec, len(p.Actions))
		for i, a := range p.Actions {
			cpy.Actions[i] = ActionSpec{Type: a.Type, Parameters: deepCopyMap(a.Parameters)}
		}
	}
	return &cpy
}

func deepCopyNode(n rules.Node) rules.Node {
	cpy := n
	if n.Args != nil {
		cpy.Args = make([]rules.Node, len(n.Args))
		for i, a := range n.Args {
			cpy.Args[i] = deepCopyNode(a)
		}
	}
	if n.Left != nil {
		l := deepCopyNode(*n.Left)
		cpy.Left = &l
	}
	if n.Right != nil {
		r := deepCopyNode(*n.Right)
		cpy.Right = &r
	}
	return cpy
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			cpy[k] = deepCopyMap(val)
		default:
			cpy[k] = v
		}
	}
	return cpy
}

// Validate checks a policy for structural validity: conditions tree, scope,
// and per-action-type parameter schemas.
func (p *Policy) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil policy", ErrInvalidPolicy)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPolicy)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if err := rules.Validate(p.Conditions); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if len(p.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidPolicy)
	}
	for i, a := range p.Actions {
		if err := validateAction(a); err != nil {
			return fmt.Errorf("%w: action %d: %w", ErrInvalidPolicy, i, err)
		}
	}

	switch p.Scope.Kind {
	case ScopeDevice, ScopeStation, ScopeGroup:
		if p.Scope.TargetID == "" {
			return fmt.Errorf("%w: scope %s requires target_id", ErrInvalidPolicy, p.Scope.Kind)
		}
	case ScopeAll:
		if p.Scope.TargetID != "" {
			return fmt.Errorf("%w: scope all cannot carry target_id", ErrInvalidPolicy)
		}
	default:
		return fmt.Errorf("%w: unknown scope kind %q", ErrInvalidPolicy, p.Scope.Kind)
	}
	return nil
}

// validSeverities for ui_alert parameters.
var validSeverities = map[string]bool{"critical": true, "warning": true, "info": true}

// validateAction checks an ActionSpec's parameters against its per-type schema.
func validateAction(a ActionSpec) error {
	switch a.Type {
	case ActionUIAlert:
		for _, key := range []string{"alert_type", "severity", "title", "message"} {
			s, ok := a.Parameters[key].(string)
			if !ok || s == "" {
				return fmt.Errorf("ui_alert requires string parameter %q", key)
			}
		}
		if !validSeverities[a.Parameters["severity"].(string)] {
			return fmt.Errorf("ui_alert severity must be critical, warning or info")
		}
		return nil

	case ActionExternalEvent:
		if s, ok := a.Parameters["event_name"].(string); !ok || s == "" {
			return fmt.Errorf("external_event requires string parameter %q", "event_name")
		}
		return nil

	case ActionNotify:
		if s, ok := a.Parameters["message"].(string); !ok || s == "" {
			return fmt.Errorf("notify requires string parameter %q", "message")
		}
		return nil

	case ActionTriggerScan:
		if raw, ok := a.Parameters["scan_type"]; ok {
			s, isStr := raw.(string)
			if !isStr || (s != "quick" && s != "full") {
				return fmt.Errorf("trigger_scan scan_type must be quick or full")
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// UsesScanCorrelation reports whether this action declared a dependency on a
// preceding trigger_scan's correlation id.
func (a ActionSpec) UsesScanCorrelation() bool {
	b, ok := a.Parameters[ParamUseScanCorrelation].(bool)
	return ok && b
}
