package policy

import "errors"

// Sentinel errors for policy operations.
var (
	ErrPolicyNotFound = errors.New("policy: policy not found")
	ErrPolicyExists   = errors.New("policy: policy already exists")
	ErrInvalidPolicy  = errors.New("policy: invalid policy")
	ErrSystemPolicy   = errors.New("policy: system policies cannot be deleted")
)
