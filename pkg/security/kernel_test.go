package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentforge/core/pkg/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditSink struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeAuditSink) LogAsync(eventType, principalID string, details map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, eventType)
}

func newTestKernel(t *testing.T, opts ...Option) (*Kernel, *fakeAuditSink) {
	t.Helper()
	policy, err := NewPolicyEvaluator(context.Background(), "")
	require.NoError(t, err)
	sink := &fakeAuditSink{}
	k := NewKernel(capability.NewSigner([]byte("test-secret")), policy, sink, opts...)
	return k, sink
}

func TestKernel_RequestCapability(t *testing.T) {
	k, sink := newTestKernel(t)

	c, err := k.RequestCapability(context.Background(), capability.ResourceFilesystem, capability.Constraints{
		Operations: []string{"read"},
		Paths:      []string{"/tmp"},
	}, "A", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Contains(t, sink.entries, "capability_created")
}

func TestKernel_RequestCapabilityPolicyDenied(t *testing.T) {
	k, _ := newTestKernel(t, WithAllowedOperations([]string{"read"}))

	_, err := k.RequestCapability(context.Background(), capability.ResourceFilesystem, capability.Constraints{
		Operations: []string{"write"},
	}, "A", nil)
	assert.ErrorIs(t, err, ErrPolicyDenied)
}

func TestKernel_RevocationCascade(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	root, err := k.RequestCapability(ctx, capability.ResourceFilesystem, capability.Constraints{
		Operations: []string{"read"},
	}, "A", nil)
	require.NoError(t, err)

	d1, err := k.DelegateCapability(root.ID, "B", capability.Constraints{})
	require.NoError(t, err)

	d2, err := k.DelegateCapability(d1.ID, "C", capability.Constraints{})
	require.NoError(t, err)

	count, err := k.RevokeCapability(root.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, id := range []string{root.ID, d1.ID, d2.ID} {
		c, _ := k.Get(id)
		assert.True(t, c.Revoked, "capability %s should be revoked", id)
	}

	err = k.ValidateCapability(d2, "read", "anything")
	assert.Error(t, err)
}

func TestKernel_CheckPermission(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.RequestCapability(ctx, capability.ResourceFilesystem, capability.Constraints{
		Operations: []string{"read"},
		Paths:      []string{"/tmp"},
	}, "A", nil)
	require.NoError(t, err)

	_, err = k.CheckPermission("A", "filesystem", "read", "/tmp/foo.log")
	require.NoError(t, err)

	_, err = k.CheckPermission("A", "filesystem", "write", "/tmp/foo.log")
	assert.ErrorIs(t, err, capability.ErrPermissionDenied)
}

func TestKernel_SweepExpired(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	alreadyExpired := -time.Minute
	c, err := k.RequestCapability(ctx, capability.ResourceFilesystem, capability.Constraints{}, "A", &alreadyExpired)
	require.NoError(t, err)

	removed := k.Sweep(time.Now())
	assert.Equal(t, 1, removed)
	_, ok := k.Get(c.ID)
	assert.False(t, ok)
}
