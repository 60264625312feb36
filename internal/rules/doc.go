// Package rules implements the boolean expression trees that policy
// conditions are written in, and their evaluator.
//
// Evaluation is a pure function over (tree, context): no I/O, no side
// effects, safe for concurrent use across policies and events. Malformed
// trees degrade to false with a single diagnostic instead of failing the
// caller, so one bad rule can never block evaluation of the rest of the
// fleet's policies.
package rules
