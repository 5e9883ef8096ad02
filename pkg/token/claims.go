// Package token wraps the capability model for remote authorization: a
// JWT-style, RS256-signed wire envelope self-describing enough that remote
// validators need only the issuer's JWKS and the revocation cache, never a
// round trip to the Security Kernel.
package token

import (
	"github.com/agentforge/core/pkg/capability"
	"github.com/golang-jwt/jwt/v5"
)

// Delegation carries the parent/depth bookkeeping for a delegated token.
type Delegation struct {
	ParentID string `json:"parent_id,omitempty"`
	Depth    int    `json:"depth"`
	MaxDepth int    `json:"max_depth"`
}

// Claims is the JWT payload: standard registered claims plus the
// capability-specific resource/operations/constraints/delegation.
type Claims struct {
	jwt.RegisteredClaims

	Resource    string                  `json:"resource"`
	Operations  []string                `json:"operations"`
	Constraints capability.Constraints  `json:"constraints"`
	Delegation  Delegation              `json:"delegation"`
}

// ResourceType returns the token's audience, which doubles as the
// capability resource type.
func (c *Claims) ResourceType() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}
