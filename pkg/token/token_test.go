package token

import (
	"testing"
	"time"

	"github.com/agentforge/core/pkg/capability"
	"github.com/agentforge/core/pkg/keymanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRevocation struct {
	revoked map[string]bool
}

func newFakeRevocation() *fakeRevocation { return &fakeRevocation{revoked: map[string]bool{}} }

func (f *fakeRevocation) Revoke(jti string, _ time.Time) { f.revoked[jti] = true }
func (f *fakeRevocation) IsRevoked(jti string) bool      { return f.revoked[jti] }

func newTestIssuerValidator(t *testing.T) (*Issuer, *Validator, *fakeRevocation) {
	t.Helper()
	keys, err := keymanager.New(keymanager.KeySize, 30*24*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	rev := newFakeRevocation()
	issuer := NewIssuer(keys, rev, "agentforge-test", time.Hour)
	validator := NewValidator(keys, rev, nil, 300*time.Second, 0)
	return issuer, validator, rev
}

func TestIssueAndValidate(t *testing.T) {
	issuer, validator, _ := newTestIssuerValidator(t)

	signed, jti, err := issuer.Issue("filesystem", []string{"read"}, "/tmp/*", "A", capability.Constraints{}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := validator.Validate(signed, "read", "/tmp/file.log")
	require.NoError(t, err)
	assert.Equal(t, "A", claims.Subject)
}

func TestValidateRejectsWrongOperation(t *testing.T) {
	issuer, validator, _ := newTestIssuerValidator(t)
	signed, _, err := issuer.Issue("filesystem", []string{"read"}, "/tmp/*", "A", capability.Constraints{}, time.Hour)
	require.NoError(t, err)

	_, err = validator.Validate(signed, "write", "/tmp/file.log")
	assert.ErrorIs(t, err, ErrOperationNotAllowed)
}

func TestValidateRejectsRevoked(t *testing.T) {
	issuer, validator, rev := newTestIssuerValidator(t)
	signed, jti, err := issuer.Issue("filesystem", []string{"read"}, "/tmp/*", "A", capability.Constraints{}, time.Hour)
	require.NoError(t, err)

	rev.Revoke(jti, time.Now().Add(time.Hour))

	_, err = validator.Validate(signed, "read", "/tmp/file.log")
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer, validator, _ := newTestIssuerValidator(t)
	expired := time.Now().Add(-10 * time.Minute)
	signed, _, err := issuer.Issue("filesystem", []string{"read"}, "/tmp/*", "A", capability.Constraints{ExpiresAt: &expired}, time.Hour)
	require.NoError(t, err)

	_, err = validator.Validate(signed, "read", "/tmp/file.log")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestIssueDelegated(t *testing.T) {
	issuer, validator, _ := newTestIssuerValidator(t)
	parent, _, err := issuer.Issue("filesystem", []string{"read", "write"}, "/tmp/**", "A",
		capability.Constraints{MaxDelegations: &capability.MaxDelegations{Count: 2}}, time.Hour)
	require.NoError(t, err)

	child, _, err := issuer.IssueDelegated(parent, "B", capability.Constraints{Operations: []string{"read"}}, validator)
	require.NoError(t, err)

	claims, err := validator.Validate(child, "read", "/tmp/logs/app.log")
	require.NoError(t, err)
	assert.Equal(t, "B", claims.Subject)
	assert.Equal(t, 1, claims.Delegation.Depth)

	_, err = validator.Validate(child, "write", "/tmp/logs/app.log")
	assert.ErrorIs(t, err, ErrOperationNotAllowed)
}

func TestIssueTightensExpiryToConstraints(t *testing.T) {
	issuer, validator, _ := newTestIssuerValidator(t)
	tight := time.Now().Add(time.Minute)

	signed, _, err := issuer.Issue("filesystem", []string{"read"}, "/tmp/*", "A",
		capability.Constraints{ExpiresAt: &tight}, time.Hour)
	require.NoError(t, err)

	claims, err := validator.Validate(signed, "read", "/tmp/file.log")
	require.NoError(t, err)
	require.NotNil(t, claims.ExpiresAt)
	assert.True(t, !claims.ExpiresAt.Time.After(tight.Add(time.Second)))
	require.NotNil(t, claims.Constraints.ExpiresAt)
	assert.Equal(t, claims.ExpiresAt.Time, *claims.Constraints.ExpiresAt)
}

func TestIssueDelegatedNeverOutlivesParentExpiry(t *testing.T) {
	issuer, validator, _ := newTestIssuerValidator(t)

	// Parent issued with only a ttl, no explicit constraints.ExpiresAt.
	parent, _, err := issuer.Issue("filesystem", []string{"read", "write"}, "/tmp/**", "A",
		capability.Constraints{}, time.Minute)
	require.NoError(t, err)

	child, _, err := issuer.IssueDelegated(parent, "B", capability.Constraints{}, validator)
	require.NoError(t, err)

	claims, err := validator.Validate(child, "read", "/tmp/logs/app.log")
	require.NoError(t, err)
	require.NotNil(t, claims.ExpiresAt)
	assert.True(t, claims.ExpiresAt.Time.Before(time.Now().Add(2*time.Minute)),
		"delegated child must not outlive the ttl-only parent's real expiry")
	require.NotNil(t, claims.Constraints.ExpiresAt)
	assert.Equal(t, claims.ExpiresAt.Time, *claims.Constraints.ExpiresAt)
}

func TestWildcardMatching(t *testing.T) {
	cases := []struct {
		pattern, resource string
		want              bool
	}{
		{"/tmp/*", "/tmp/file.log", true},
		{"/tmp/*", "/tmp/nested/file.log", false},
		{"/tmp/**", "/tmp/nested/deep/file.log", true},
		{"/tmp/**", "/var/file.log", false},
		{"mcp_tool:*", "mcp_tool:grep", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, matchPattern(c.pattern, c.resource), "pattern=%s resource=%s", c.pattern, c.resource)
	}
}

func TestKeyRotationOverlap(t *testing.T) {
	keys, err := keymanager.New(keymanager.KeySize, 30*24*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	rev := newFakeRevocation()
	issuer := NewIssuer(keys, rev, "agentforge-test", time.Hour)
	validator := NewValidator(keys, rev, nil, 300*time.Second, 0)

	signed, _, err := issuer.Issue("filesystem", []string{"read"}, "/tmp/*", "A", capability.Constraints{}, 48*time.Hour)
	require.NoError(t, err)

	require.NoError(t, keys.Rotate())

	_, err = validator.Validate(signed, "read", "/tmp/file.log")
	assert.NoError(t, err, "token signed before rotation should still verify during overlap")

	keys.Sweep(time.Now().Add(25 * time.Hour))

	_, err = validator.Validate(signed, "read", "/tmp/file.log")
	assert.ErrorIs(t, err, ErrInvalidFormat, "old key should be evicted after overlap window")
}
