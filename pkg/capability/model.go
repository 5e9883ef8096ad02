package capability

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Model implements the stateless capability operations: creation,
// validation, permission checks, delegation, and revocation marking. It
// holds only the signer; capability storage and policy enforcement belong
// to the Security Kernel (pkg/security), which calls through to this
// package for every lifecycle operation.
type Model struct {
	signer *Signer
	now    func() time.Time
}

// NewModel constructs a Model bound to the given signer. now defaults to
// time.Now; tests may override it via WithClock.
func NewModel(signer *Signer) *Model {
	return &Model{signer: signer, now: time.Now}
}

// WithClock overrides the model's time source (for deterministic tests).
func (m *Model) WithClock(now func() time.Time) *Model {
	m.now = now
	return m
}

// Create builds and signs a new root capability for principal. Policy
// checks (whitelists, rate limits) are the Security Kernel's job; Create
// only enforces structural well-formedness.
func (m *Model) Create(resourceType ResourceType, constraints Constraints, principal string, ttl *time.Duration) (*Capability, error) {
	if principal == "" {
		return nil, fmt.Errorf("%w: principal_id is required", ErrInvalidStructure)
	}
	if resourceType == "" {
		return nil, fmt.Errorf("%w: resource_type is required", ErrInvalidStructure)
	}

	now := m.now()
	c := &Capability{
		ID:              uuid.New().String(),
		ResourceType:    resourceType,
		Constraints:     constraints.Clone(),
		PrincipalID:     principal,
		IssuedAt:        now,
		DelegationDepth: 0,
	}
	if ttl != nil {
		exp := now.Add(*ttl)
		c.ExpiresAt = &exp
	}
	// ttl and constraints.ExpiresAt are two ways of saying the same thing;
	// keep them in sync at the tighter of the two so a later delegation
	// intersecting on Constraints.ExpiresAt alone can't see a looser value
	// than the capability's own top-level ExpiresAt implies.
	c.ExpiresAt = earlierOf(c.ExpiresAt, c.Constraints.ExpiresAt)
	c.Constraints.ExpiresAt = c.ExpiresAt
	c.Signature = m.signer.Sign(c)
	return c, nil
}

// Validate checks structural well-formedness, signature, and expiry. It
// does not consult storage — callers needing "does this still exist in the
// kernel" use Kernel.ValidateCapability instead.
func (m *Model) Validate(c *Capability) error {
	if c == nil {
		return fmt.Errorf("%w: nil capability", ErrInvalidStructure)
	}
	if c.ID == "" || c.PrincipalID == "" || c.ResourceType == "" {
		return fmt.Errorf("%w: missing required field", ErrInvalidStructure)
	}
	if c.Signature == "" {
		return ErrMissingSignature
	}
	if !m.signer.Verify(c) {
		return ErrInvalidSignature
	}
	if c.Revoked {
		return fmt.Errorf("%w: capability revoked", ErrPermissionDenied)
	}
	if c.IsExpired(m.now()) {
		return ErrExpired
	}
	return nil
}

// Permits reports whether c authorizes operation on resource, returning a
// typed DenialReason identifying exactly why not.
func (m *Model) Permits(c *Capability, operation, resource string) error {
	if err := m.Validate(c); err != nil {
		return err
	}

	if len(c.Constraints.Operations) > 0 && !contains(c.Constraints.Operations, operation) {
		return denied(ErrOperationNotPermitted, operation)
	}

	if c.ResourceType == ResourceMCPTool {
		if len(c.Constraints.AllowedTools) > 0 && !contains(c.Constraints.AllowedTools, resource) {
			return denied(ErrToolNotAllowed, resource)
		}
	}

	if c.ResourceType == ResourceFilesystem && len(c.Constraints.Paths) > 0 {
		if !anyPrefixMatch(resource, c.Constraints.Paths) {
			return denied(ErrPathNotAllowed, resource)
		}
		if len(c.Constraints.AllowedExtensions) > 0 && !hasAllowedExtension(resource, c.Constraints.AllowedExtensions) {
			return denied(ErrResourceNotPermitted, resource)
		}
	}

	return nil
}

// Delegate produces a child capability for targetPrincipal whose constraints
// are the intersection of parent's and added, and whose
// delegation_depth is parent+1. Fails with ErrDelegationNotAllowed if parent
// is revoked/expired, or ErrDelegationDepthExceeded if max_delegations would
// be exceeded.
func (m *Model) Delegate(parent *Capability, targetPrincipal string, added Constraints) (*Capability, error) {
	if err := m.Validate(parent); err != nil {
		return nil, fmt.Errorf("%w: parent invalid: %v", ErrDelegationNotAllowed, err)
	}
	if targetPrincipal == "" {
		return nil, fmt.Errorf("%w: target principal required", ErrInvalidStructure)
	}

	if parent.Constraints.MaxDelegations != nil && !parent.Constraints.MaxDelegations.Unlimited {
		if parent.Constraints.MaxDelegations.Count <= 0 {
			return nil, ErrDelegationDepthExceeded
		}
	}

	child := &Capability{
		ID:              uuid.New().String(),
		ResourceType:    parent.ResourceType,
		Constraints:     IntersectConstraints(parent.Constraints, added),
		PrincipalID:     targetPrincipal,
		ParentID:        parent.ID,
		IssuedAt:        m.now(),
		DelegationDepth: parent.DelegationDepth + 1,
	}
	// A child can never outlive its parent even if added omits ExpiresAt
	// entirely: take the earlier of the parent's real expiry and whatever
	// the intersected constraints produced.
	child.ExpiresAt = earlierOf(parent.ExpiresAt, child.Constraints.ExpiresAt)
	child.Constraints.ExpiresAt = child.ExpiresAt
	child.Signature = m.signer.Sign(child)
	return child, nil
}

// Revoke flips the revoked flag and re-signs. Cascading through the
// delegation tree is the Security Kernel's responsibility (it owns the
// tree); this is the single-capability mutation primitive.
func (m *Model) Revoke(c *Capability) {
	if c.Revoked {
		return
	}
	c.Revoked = true
	c.Signature = m.signer.Sign(c)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyPrefixMatch(resource string, prefixes []string) bool {
	for _, p := range prefixes {
		if hasPathPrefix(resource, p) {
			return true
		}
	}
	return false
}

func hasAllowedExtension(resource string, extensions []string) bool {
	for _, ext := range extensions {
		if len(resource) >= len(ext) && resource[len(resource)-len(ext):] == ext {
			return true
		}
	}
	return false
}
