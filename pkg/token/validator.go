package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/keymanager"
	"github.com/golang-jwt/jwt/v5"
)

// RevocationChecker is the subset of pkg/revocation's Cache the validator
// needs, injected to avoid an import cycle.
type RevocationChecker interface {
	IsRevoked(jti string) bool
}

// ViolationReporter lets the validator emit a typed violation on every
// authorization failure, injected to avoid pkg/token depending on
// pkg/violation.
type ViolationReporter interface {
	Report(violationType, principalID, resource, operation string, details map[string]any)
}

type cachedVerdict struct {
	err       error
	claims    *Claims
	expiresAt time.Time
}

// Validator performs stateless authorization without round-tripping to the
// Security Kernel.
type Validator struct {
	keys       *keymanager.Manager
	revocation RevocationChecker
	violations ViolationReporter
	clockSkew  time.Duration

	cacheTTL time.Duration
	mu       sync.Mutex
	cache    map[[32]byte]cachedVerdict
}

// NewValidator constructs a Validator. violations may be nil to disable
// violation reporting (e.g. in unit tests).
func NewValidator(keys *keymanager.Manager, revocation RevocationChecker, violations ViolationReporter, clockSkew, cacheTTL time.Duration) *Validator {
	return &Validator{
		keys:       keys,
		revocation: revocation,
		violations: violations,
		clockSkew:  clockSkew,
		cacheTTL:   cacheTTL,
		cache:      make(map[[32]byte]cachedVerdict),
	}
}

// Validate performs signature verification, expiry/clock-skew checks,
// revocation lookup, operation and resource authorization, and returns the
// decoded claims on success.
func (v *Validator) Validate(tokenString, operation, resource string) (*Claims, error) {
	key := sha256.Sum256([]byte(tokenString + "|" + operation + "|" + resource))

	if v.cacheTTL > 0 {
		if verdict, ok := v.lookupCache(key); ok {
			return verdict.claims, verdict.err
		}
	}

	claims, err := v.verifyAndParse(tokenString)
	if err == nil {
		err = v.authorize(claims, operation, resource)
	}
	if err != nil {
		v.reportViolation(claims, operation, resource, err)
	}

	if v.cacheTTL > 0 {
		v.storeCache(key, cachedVerdict{err: err, claims: claims, expiresAt: time.Now().Add(v.cacheTTL)})
	}
	return claims, err
}

// decodeUnverifiedOrVerified decodes a token with full signature
// verification and the expiry/iat bounds checks, but without the
// revocation/operation/resource checks, for
// pkg/token's own use when building a delegated child from a parent token.
func (v *Validator) decodeUnverifiedOrVerified(tokenString string) (*Claims, error) {
	return v.verifyAndParse(tokenString)
}

// verifyAndParse implements step 1 (verify against every published key) and
// step 2 (expiry/iat bounds with clock skew).
func (v *Validator) verifyAndParse(tokenString string) (*Claims, error) {
	keys := v.keys.AllPublicKeys()
	if len(keys) == 0 {
		return nil, ErrNoVerificationKeys
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			if pub, ok := keys[kid]; ok {
				return pub, nil
			}
			return nil, fmt.Errorf("%w: unknown kid %q", ErrNoVerificationKeys, kid)
		}
		// No kid: try every published key (overlap-safe fallback).
		for _, pub := range keys {
			return pub, nil
		}
		return nil, ErrNoVerificationKeys
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithLeeway(v.clockSkew))
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	if claims.ID == "" || claims.Subject == "" || len(claims.Audience) == 0 {
		return nil, ErrMissingClaims
	}

	now := time.Now()
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Add(v.clockSkew).Before(now) {
		return claims, ErrExpired
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(v.clockSkew)) {
		return claims, ErrUsedBeforeIssued
	}

	return claims, nil
}

// authorize implements steps 3-6: revocation, operation match, resource/path
// match with wildcards, and additional constraint checks.
func (v *Validator) authorize(claims *Claims, operation, resource string) error {
	if v.revocation != nil && v.revocation.IsRevoked(claims.ID) {
		return ErrRevoked
	}

	if !containsString(claims.Operations, operation) {
		return ErrOperationNotAllowed
	}

	if !matchesResource(claims, resource) {
		return ErrResourceNotAllowed
	}

	if len(claims.Constraints.AllowedExtensions) > 0 && !hasAllowedExtension(resource, claims.Constraints.AllowedExtensions) {
		return ErrResourceNotAllowed
	}

	// The issuer keeps the top-level exp claim and Constraints.ExpiresAt in
	// sync, but this is checked independently as defense in depth against a
	// token that reaches here without having gone through Issuer.
	if claims.Constraints.ExpiresAt != nil && claims.Constraints.ExpiresAt.Add(v.clockSkew).Before(time.Now()) {
		return ErrExpired
	}

	return nil
}

func (v *Validator) reportViolation(claims *Claims, operation, resource string, err error) {
	if v.violations == nil {
		return
	}
	principal := ""
	if claims != nil {
		principal = claims.Subject
	}
	v.violations.Report("invalid_capability", principal, resource, operation, map[string]any{
		"reason": err.Error(),
	})
}

func (v *Validator) lookupCache(key [32]byte) (cachedVerdict, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	verdict, ok := v.cache[key]
	if !ok || time.Now().After(verdict.expiresAt) {
		return cachedVerdict{}, false
	}
	return verdict, true
}

func (v *Validator) storeCache(key [32]byte, verdict cachedVerdict) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[key] = verdict
}

// SweepCache drops expired verdicts; intended for periodic scheduling.
func (v *Validator) SweepCache(now time.Time) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	removed := 0
	for k, verdict := range v.cache {
		if now.After(verdict.expiresAt) {
			delete(v.cache, k)
			removed++
		}
	}
	return removed
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
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
