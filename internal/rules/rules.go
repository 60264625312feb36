package rules

import (
	"fmt"
	"strings"
)

// Op discriminates expression tree node kinds.
type Op string

// Node operators.
const (
	// Logical operators take Args, short-circuit left-to-right.
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"

	// Comparison operators take Left and Right leaves.
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpGt Op = "gt"
	OpGe Op = "ge"
	OpLt Op = "lt"
	OpLe Op = "le"

	// Leaves.
	OpVar   Op = "var"   // dotted-path lookup against the event context
	OpConst Op = "const" // literal scalar
)

// Node is one vertex of a policy condition tree. The Op field selects which
// of the remaining fields are meaningful:
//
//	and/or/not     → Args
//	eq..le         → Left, Right (each a var or const leaf)
//	var            → Path
//	const          → Value
//
// Trees are stored as JSON in the policies table and decoded straight into
// this type.
type Node struct {
	Op    Op     `json:"op"`
	Args  []Node `json:"args,omitempty"`
	Left  *Node  `json:"left,omitempty"`
	Right *Node  `json:"right,omitempty"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Diagnostic receives a single message when a malformed tree degrades to
// false. May be nil.
type Diagnostic func(msg string)

// Evaluate runs a condition tree against an event context.
//
// It is total: malformed trees never panic or return an error, they evaluate
// to false and report one diagnostic. It is side-effect-free and reentrant,
// so many policies can be evaluated concurrently against the same context.
//
// Semantics:
//   - and/or short-circuit left-to-right; not takes exactly one argument
//   - a missing var path resolves to null; null compares false under every
//     operator except eq/ne against another null
//   - integers and floats coerce for numeric comparison
//   - string/number comparisons never coerce and always evaluate false
func Evaluate(n Node, ctx map[string]any, diag Diagnostic) bool {
	e := &evaluator{ctx: ctx, diag: diag}
	return e.evalBool(n)
}

// evaluator carries the context and one-shot diagnostic state for a single
// Evaluate call.
type evaluator struct {
	ctx      map[string]any
	diag     Diagnostic
	reported bool
}

// fail records a malformed-tree diagnostic (first one only) and returns false.
func (e *evaluator) fail(format string, args ...any) bool {
	if !e.reported {
		e.reported = true
		if e.diag != nil {
			e.diag(fmt.Sprintf(format, args...))
		}
	}
	return false
}

func (e *evaluator) evalBool(n Node) bool {
	switch n.Op {
	case OpAnd:
		if len(n.Args) == 0 {
			return e.fail("and: no arguments")
		}
		for _, arg := range n.Args {
			if !e.evalBool(arg) {
				return false
			}
		}
		return true

	case OpOr:
		if len(n.Args) == 0 {
			return e.fail("or: no arguments")
		}
		for _, arg := range n.Args {
			if e.evalBool(arg) {
				return true
			}
		}
		return false

	case OpNot:
		if len(n.Args) != 1 {
			return e.fail("not: expected exactly 1 argument, got %d", len(n.Args))
		}
		return !e.evalBool(n.Args[0])

	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		return e.compare(n)

	default:
		return e.fail("unknown operator %q in boolean position", n.Op)
	}
}

// compare evaluates a comparison node over its two scalar leaves.
func (e *evaluator) compare(n Node) bool {
	if n.Left == nil || n.Right == nil {
		return e.fail("%s: missing operand", n.Op)
	}

	lv, ok := e.resolve(*n.Left)
	if !ok {
		return false
	}
	rv, ok := e.resolve(*n.Right)
	if !ok {
		return false
	}

	// Null semantics: only eq/ne can see null, and only null == null holds.
	if lv == nil || rv == nil {
		switch n.Op {
		case OpEq:
			return lv == nil && rv == nil
		case OpNe:
			return (lv == nil) != (rv == nil)
		default:
			return false
		}
	}

	lf, lNum := toFloat(lv)
	rf, rNum := toFloat(rv)
	if lNum && rNum {
		return compareFloats(n.Op, lf, rf)
	}
	if lNum != rNum {
		// Mixed string/number (or bool/number) comparisons never coerce.
		return false
	}

	ls, lStr := lv.(string)
	rs, rStr := rv.(string)
	if lStr && rStr {
		return compareStrings(n.Op, ls, rs)
	}

	lb, lBool := lv.(bool)
	rb, rBool := rv.(bool)
	if lBool && rBool {
		switch n.Op {
		case OpEq:
			return lb == rb
		case OpNe:
			return lb != rb
		default:
			return false
		}
	}

	// Remaining type mismatches (string vs bool, non-scalar values).
	return false
}

// resolve produces the scalar value of a leaf node. A missing var path is
// null (nil, true); a non-leaf operand is malformed (false).
func (e *evaluator) resolve(n Node) (any, bool) {
	switch n.Op {
	case OpConst:
		return n.Value, true
	case OpVar:
		if n.Path == "" {
			return nil, e.failValue("var: empty path")
		}
		return lookupPath(e.ctx, n.Path), true
	default:
		return nil, e.failValue("%s: operand must be var or const", n.Op)
	}
}

func (e *evaluator) failValue(format string, args ...any) bool {
	e.fail(format, args...)
	return false
}

// lookupPath resolves a dotted path against nested map[string]any contexts.
// Any missing segment yields null.
func lookupPath(ctx map[string]any, path string) any {
	segments := strings.Split(path, ".")
	var current any = ctx
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}

func compareFloats(op Op, l, r float64) bool {
	switch op {
	case OpEq:
		return l == r
	case OpNe:
		return l != r
	case OpGt:
		return l > r
	case OpGe:
		return l >= r
	case OpLt:
		return l < r
	case OpLe:
		return l <= r
	}
	return false
}

func compareStrings(op Op, l, r string) bool {
	switch op {
	case OpEq:
		return l == r
	case OpNe:
		return l != r
	case OpGt:
		return l > r
	case OpGe:
		return l >= r
	case OpLt:
		return l < r
	case OpLe:
		return l <= r
	}
	return false
}

// toFloat coerces integer and float values to float64 for numeric comparison.
// JSON-decoded numbers arrive as float64; Go-constructed trees may carry ints.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
