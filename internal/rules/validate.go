package rules

import (
	"errors"
	"fmt"
)

// ErrMalformedRule is returned when a condition tree fails structural
// validation at policy admission time. Evaluation itself never returns
// errors; admission validation exists so obviously broken trees are
// rejected before they are stored.
var ErrMalformedRule = errors.New("rules: malformed expression tree")

const maxTreeDepth = 32

// Validate checks the structure of a condition tree: operator arities,
// leaf placement, scalar const values and bounded depth.
func Validate(n Node) error {
	return validateBool(n, 0)
}

func validateBool(n Node, depth int) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("%w: exceeds maximum depth %d", ErrMalformedRule, maxTreeDepth)
	}

	switch n.Op {
	case OpAnd, OpOr:
		if len(n.Args) == 0 {
			return fmt.Errorf("%w: %s requires at least one argument", ErrMalformedRule, n.Op)
		}
		for _, arg := range n.Args {
			if err := validateBool(arg, depth+1); err != nil {
				return err
			}
		}
		return nil

	case OpNot:
		if len(n.Args) != 1 {
			return fmt.Errorf("%w: not requires exactly one argument", ErrMalformedRule)
		}
		return validateBool(n.Args[0], depth+1)

	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		if n.Left == nil || n.Right == nil {
			return fmt.Errorf("%w: %s requires left and right operands", ErrMalformedRule, n.Op)
		}
		if err := validateLeaf(*n.Left); err != nil {
			return err
		}
		return validateLeaf(*n.Right)

	case OpVar, OpConst:
		return fmt.Errorf("%w: %s cannot appear in boolean position", ErrMalformedRule, n.Op)

	default:
		return fmt.Errorf("%w: unknown operator %q", ErrMalformedRule, n.Op)
	}
}

func validateLeaf(n Node) error {
	switch n.Op {
	case OpVar:
		if n.Path == "" {
			return fmt.Errorf("%w: var requires a path", ErrMalformedRule)
		}
		return nil
	case OpConst:
		switch n.Value.(type) {
		case nil, string, bool, float64, float32, int, int32, int64, uint, uint64:
			return nil
		default:
			return fmt.Errorf("%w: const value must be a scalar", ErrMalformedRule)
		}
	default:
		return fmt.Errorf("%w: comparison operand must be var or const, got %q", ErrMalformedRule, n.Op)
	}
}
