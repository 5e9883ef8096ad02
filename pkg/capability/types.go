// Package capability implements the unforgeable, HMAC-signed permission
// tokens that gate every action in the agentforge core: creation, constraint
// intersection on delegation, signature/expiry validation, and revocation.
//
// This package holds no storage of its own — capabilities are pure values.
// The Security Kernel (pkg/security) is the single-writer authority that
// indexes and mutates them.
package capability

import "time"

// ResourceType enumerates the classes of resource a capability can govern.
type ResourceType string

const (
	ResourceFilesystem ResourceType = "filesystem"
	ResourceMCPTool    ResourceType = "mcp_tool"
	ResourceNetwork    ResourceType = "network"
)

// MaxDelegations represents the max_delegations constraint value, which is
// either a non-negative count or the sentinel "unlimited".
type MaxDelegations struct {
	Unlimited bool
	Count     int
}

// Unlimited is the identity element for max_delegations intersection.
var Unlimited = MaxDelegations{Unlimited: true}

// Limited returns a bounded max_delegations value.
func Limited(n int) MaxDelegations {
	return MaxDelegations{Count: n}
}

// Constraints holds the recognised constraint keys, plus an overflow map
// for forward-compatible unknown keys (child overrides parent on
// intersection).
type Constraints struct {
	Operations        []string          `json:"operations,omitempty"`
	Paths             []string          `json:"paths,omitempty"`
	AllowedTools      []string          `json:"allowed_tools,omitempty"`
	MaxDelegations    *MaxDelegations   `json:"max_delegations,omitempty"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	MaxFileSize       int64             `json:"max_file_size,omitempty"`
	AllowedExtensions []string          `json:"allowed_extensions,omitempty"`
	RateLimit         int               `json:"rate_limit,omitempty"`
	TimeWindow        string            `json:"time_window,omitempty"`
	Unknown           map[string]string `json:"unknown,omitempty"`
}

// Clone returns a deep copy of the constraint set so mutation of a delegated
// child never reaches back into the parent's stored capability.
func (c Constraints) Clone() Constraints {
	out := Constraints{
		MaxFileSize: c.MaxFileSize,
		RateLimit:   c.RateLimit,
		TimeWindow:  c.TimeWindow,
	}
	out.Operations = append([]string(nil), c.Operations...)
	out.Paths = append([]string(nil), c.Paths...)
	out.AllowedTools = append([]string(nil), c.AllowedTools...)
	out.AllowedExtensions = append([]string(nil), c.AllowedExtensions...)
	if c.MaxDelegations != nil {
		md := *c.MaxDelegations
		out.MaxDelegations = &md
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	if c.Unknown != nil {
		out.Unknown = make(map[string]string, len(c.Unknown))
		for k, v := range c.Unknown {
			out.Unknown[k] = v
		}
	}
	return out
}

// Capability is an unforgeable permission token, signed with an HMAC over a
// deterministic serialization of every other field.
type Capability struct {
	ID              string       `json:"id"`
	ResourceType    ResourceType `json:"resource_type"`
	Constraints     Constraints  `json:"constraints"`
	PrincipalID     string       `json:"principal_id"`
	ParentID        string       `json:"parent_id,omitempty"`
	IssuedAt        time.Time    `json:"issued_at"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	DelegationDepth int          `json:"delegation_depth"`
	Revoked         bool         `json:"revoked"`
	Signature       string       `json:"signature"`
}

// IsExpired reports whether the capability's expires_at has passed.
func (c *Capability) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
