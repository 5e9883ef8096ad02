package capability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel() *Model {
	return NewModel(NewSigner([]byte("test-secret")))
}

func TestModel_CreateAndValidate(t *testing.T) {
	m := newTestModel()

	c, err := m.Create(ResourceFilesystem, Constraints{
		Operations: []string{"read", "write"},
		Paths:      []string{"/tmp"},
	}, "A", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Signature)
	assert.Equal(t, 0, c.DelegationDepth)

	require.NoError(t, m.Validate(c))
}

func TestModel_ValidateDetectsTampering(t *testing.T) {
	m := newTestModel()
	c, err := m.Create(ResourceFilesystem, Constraints{}, "A", nil)
	require.NoError(t, err)

	c.PrincipalID = "B" // tamper after signing
	err = m.Validate(c)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestModel_DelegateIntersection(t *testing.T) {
	m := newTestModel()

	parent, err := m.Create(ResourceFilesystem, Constraints{
		Operations:     []string{"read", "write"},
		Paths:          []string{"/tmp"},
		MaxDelegations: &MaxDelegations{Count: 3},
	}, "A", nil)
	require.NoError(t, err)

	child, err := m.Delegate(parent, "B", Constraints{
		Operations:     []string{"read"},
		Paths:          []string{"/tmp/logs"},
		MaxDelegations: &MaxDelegations{Count: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "B", child.PrincipalID)
	assert.Equal(t, []string{"read"}, child.Constraints.Operations)
	assert.Equal(t, []string{"/tmp/logs"}, child.Constraints.Paths)
	assert.Equal(t, 1, child.Constraints.MaxDelegations.Count)
	assert.Equal(t, parent.DelegationDepth+1, child.DelegationDepth)
	assert.Equal(t, parent.ID, child.ParentID)
	require.NoError(t, m.Validate(child))
}

func TestModel_DelegateMonotonicity(t *testing.T) {
	// Child constraints must never exceed what the parent granted.
	m := newTestModel()
	parent, err := m.Create(ResourceFilesystem, Constraints{
		Operations: []string{"read", "write", "delete"},
		Paths:      []string{"/data"},
	}, "A", nil)
	require.NoError(t, err)

	child, err := m.Delegate(parent, "B", Constraints{
		Operations: []string{"read", "write", "exec"}, // exec not in parent
	})
	require.NoError(t, err)

	for _, op := range child.Constraints.Operations {
		assert.Contains(t, parent.Constraints.Operations, op)
	}
}

func TestModel_DelegateEmptyAddedIsIdentity(t *testing.T) {
	m := newTestModel()
	parent, err := m.Create(ResourceFilesystem, Constraints{
		Operations: []string{"read"},
	}, "A", nil)
	require.NoError(t, err)

	child, err := m.Delegate(parent, "B", Constraints{})
	require.NoError(t, err)

	assert.Equal(t, parent.Constraints.Operations, child.Constraints.Operations)
	assert.Equal(t, parent.DelegationDepth+1, child.DelegationDepth)
}

func TestModel_DelegateNeverOutlivesTTLParent(t *testing.T) {
	// A parent created with only a ttl (no explicit constraints.ExpiresAt),
	// delegated with empty added constraints, must still produce a child
	// bounded by the parent's real expiry — not an unbounded one.
	m := newTestModel()
	ttl := time.Minute
	parent, err := m.Create(ResourceFilesystem, Constraints{
		Operations: []string{"read"},
	}, "A", &ttl)
	require.NoError(t, err)
	require.NotNil(t, parent.ExpiresAt)
	require.NotNil(t, parent.Constraints.ExpiresAt)
	assert.Equal(t, *parent.ExpiresAt, *parent.Constraints.ExpiresAt)

	child, err := m.Delegate(parent, "B", Constraints{})
	require.NoError(t, err)
	require.NotNil(t, child.ExpiresAt)
	assert.True(t, !child.ExpiresAt.After(*parent.ExpiresAt))
	require.NotNil(t, child.Constraints.ExpiresAt)
	assert.Equal(t, *child.ExpiresAt, *child.Constraints.ExpiresAt)
}

func TestModel_DelegateDepthExceeded(t *testing.T) {
	m := newTestModel()
	parent, err := m.Create(ResourceFilesystem, Constraints{
		MaxDelegations: &MaxDelegations{Count: 0},
	}, "A", nil)
	require.NoError(t, err)

	_, err = m.Delegate(parent, "B", Constraints{})
	assert.ErrorIs(t, err, ErrDelegationDepthExceeded)
}

func TestModel_RevokeIsIdempotent(t *testing.T) {
	m := newTestModel()
	c, err := m.Create(ResourceFilesystem, Constraints{}, "A", nil)
	require.NoError(t, err)

	m.Revoke(c)
	sig1 := c.Signature
	m.Revoke(c)
	assert.Equal(t, sig1, c.Signature)
	assert.True(t, c.Revoked)
}

func TestModel_PermitsPathTraversalDenied(t *testing.T) {
	m := newTestModel()
	c, err := m.Create(ResourceFilesystem, Constraints{
		Operations: []string{"read"},
		Paths:      []string{"/tmp"},
	}, "A", nil)
	require.NoError(t, err)

	err = m.Permits(c, "read", "/etc/passwd")
	var denial *DenialReason
	require.True(t, errors.As(err, &denial))
	assert.ErrorIs(t, denial, ErrPathNotAllowed)
}

func TestModel_PermitsExpired(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestModel().WithClock(func() time.Time { return fixed })
	ttl := time.Minute
	c, err := m.Create(ResourceFilesystem, Constraints{}, "A", &ttl)
	require.NoError(t, err)

	later := newTestModel().WithClock(func() time.Time { return fixed.Add(2 * time.Minute) })
	err = later.Validate(c)
	assert.ErrorIs(t, err, ErrExpired)
}
