package security

import "errors"

// Kernel-level error kinds not already covered by pkg/capability.
var (
	ErrPolicyDenied      = errors.New("policy_denied")
	ErrRateLimitExceeded = errors.New("rate_limit_exceeded")
	ErrInvalidConstraint = errors.New("invalid_constraint")
)
