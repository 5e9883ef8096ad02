package token

import (
	"fmt"
	"time"

	"github.com/agentforge/core/pkg/capability"
	"github.com/agentforge/core/pkg/keymanager"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RevocationRecorder is the subset of pkg/revocation's Cache the issuer
// needs to record a jti as revoked, injected to avoid an import cycle
// (revocation lives above token in the dependency order).
type RevocationRecorder interface {
	Revoke(jti string, expiresAt time.Time)
}

// Issuer issues and revokes wire-format capability tokens, signing with the
// Key Manager's current RSA key.
type Issuer struct {
	keys       *keymanager.Manager
	revocation RevocationRecorder
	issuerName string
	defaultTTL time.Duration
}

// NewIssuer constructs an Issuer.
func NewIssuer(keys *keymanager.Manager, revocation RevocationRecorder, issuerName string, defaultTTL time.Duration) *Issuer {
	return &Issuer{keys: keys, revocation: revocation, issuerName: issuerName, defaultTTL: defaultTTL}
}

// Issue signs a new root token for principal, scoped to resourceType/operations/resource.
func (i *Issuer) Issue(resourceType string, operations []string, resource, principal string, constraints capability.Constraints, ttl time.Duration) (string, string, error) {
	if ttl <= 0 {
		ttl = i.defaultTTL
	}
	now := time.Now()
	jti := uuid.New().String()

	// The wire exp claim must never be looser than a caller-supplied
	// constraints.ExpiresAt: take the earlier of the ttl-derived expiry and
	// whatever the constraints already promise.
	exp := now.Add(ttl)
	if constraints.ExpiresAt != nil && constraints.ExpiresAt.Before(exp) {
		exp = *constraints.ExpiresAt
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuerName,
			Subject:   principal,
			Audience:  jwt.ClaimStrings{resourceType},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		Resource:    resource,
		Operations:  operations,
		Constraints: constraints,
		Delegation:  Delegation{Depth: 0, MaxDepth: maxDepthOf(constraints)},
	}
	claims.Constraints.ExpiresAt = &exp

	signed, err := i.sign(claims)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// IssueDelegated decodes parentToken, enforces delegation_depth < max_depth,
// computes intersected claims, and signs a child token with the current key.
func (i *Issuer) IssueDelegated(parentToken, targetPrincipal string, added capability.Constraints, validator *Validator) (string, string, error) {
	parent, err := validator.decodeUnverifiedOrVerified(parentToken)
	if err != nil {
		return "", "", err
	}

	if parent.Delegation.MaxDepth > 0 && parent.Delegation.Depth+1 >= parent.Delegation.MaxDepth {
		return "", "", ErrDepthExceeded
	}

	merged := capability.IntersectConstraints(parent.Constraints, added)
	now := time.Now()
	jti := uuid.New().String()

	// merged.Constraints.ExpiresAt is already the intersection of the
	// parent's and added's expiry; a child can never outlive the parent's
	// own exp claim either, so fall back to that when merged leaves it nil.
	exp := parent.ExpiresAt
	if merged.ExpiresAt != nil {
		exp = jwt.NewNumericDate(*merged.ExpiresAt)
	}

	child := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuerName,
			Subject:   targetPrincipal,
			Audience:  parent.Audience,
			ExpiresAt: exp,
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		Resource:    parent.Resource,
		Operations:  intersectOperations(parent.Operations, added.Operations),
		Constraints: merged,
		Delegation: Delegation{
			ParentID: parent.ID,
			Depth:    parent.Delegation.Depth + 1,
			MaxDepth: parent.Delegation.MaxDepth,
		},
	}
	if exp != nil {
		expTime := exp.Time
		child.Constraints.ExpiresAt = &expTime
	}

	signed, err := i.sign(child)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// Revoke adds jti to the revocation cache.
func (i *Issuer) Revoke(jti string, expiresAt time.Time) {
	i.revocation.Revoke(jti, expiresAt)
}

func (i *Issuer) sign(claims *Claims) (string, error) {
	kid, priv := i.keys.Current()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func maxDepthOf(c capability.Constraints) int {
	if c.MaxDelegations == nil || c.MaxDelegations.Unlimited {
		return 0
	}
	return c.MaxDelegations.Count
}

func intersectOperations(parent, added []string) []string {
	if len(added) == 0 {
		return append([]string(nil), parent...)
	}
	if len(parent) == 0 {
		return append([]string(nil), added...)
	}
	set := make(map[string]struct{}, len(parent))
	for _, p := range parent {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(added))
	for _, a := range added {
		if _, ok := set[a]; ok {
			out = append(out, a)
		}
	}
	return out
}
