package token

import "errors"

// Token error kinds.
var (
	ErrInvalidFormat       = errors.New("invalid_token_format")
	ErrExpired             = errors.New("token_expired")
	ErrUsedBeforeIssued    = errors.New("token_used_before_issued")
	ErrRevoked             = errors.New("token_revoked")
	ErrMissingClaims       = errors.New("missing_required_claims")
	ErrNoVerificationKeys  = errors.New("no_verification_keys")
	ErrOperationNotAllowed = errors.New("operation_not_permitted")
	ErrResourceNotAllowed  = errors.New("resource_not_permitted")
	ErrDepthExceeded       = errors.New("delegation_depth_exceeded")
)
