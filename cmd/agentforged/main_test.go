package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/agentforge/core/pkg/cluster"
	"github.com/agentforge/core/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSecret_PrefersEnvironmentVariable(t *testing.T) {
	const envName = "AGENTFORGED_TEST_SECRET_ENV"
	t.Setenv(envName, "from-env")

	got := resolveSecret(envName, "fallback", false)
	assert.Equal(t, "from-env", string(got))
}

func TestResolveSecret_FallsBackWhenDevModeAndUnset(t *testing.T) {
	const envName = "AGENTFORGED_TEST_SECRET_UNSET"
	require.NoError(t, os.Unsetenv(envName))

	got := resolveSecret(envName, "dev-fallback", true)
	assert.Equal(t, "dev-fallback", string(got))
}

func TestNewDiscovery_StaticIsDefault(t *testing.T) {
	d := newDiscovery(&config.ClusterConfig{Strategy: config.ClusterStrategyStatic, Members: []string{"a", "b"}})
	_, ok := d.(*cluster.StaticDiscovery)
	require.True(t, ok)

	members, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)
}

func TestNewDiscovery_MulticastStrategy(t *testing.T) {
	d := newDiscovery(&config.ClusterConfig{Strategy: config.ClusterStrategyMulticast})
	_, ok := d.(*cluster.MulticastDiscovery)
	assert.True(t, ok)
}

func TestNewDiscovery_KubernetesStrategyFallsBackToStatic(t *testing.T) {
	d := newDiscovery(&config.ClusterConfig{Strategy: config.ClusterStrategyKubernetes, Members: []string{"node-a"}})
	_, ok := d.(*cluster.StaticDiscovery)
	require.True(t, ok, "kubernetes discovery is not wired in this binary and should fall back to static members")
}

func TestUnimplementedRemoteOps_EveryMethodFails(t *testing.T) {
	ops := newUnimplementedRemoteOps()

	_, err := ops.Snapshot(context.Background(), "node-a", "agent-1")
	assert.True(t, errors.Is(err, errRemoteOpsUnimplemented))

	err = ops.Terminate(context.Background(), "node-a", "agent-1")
	assert.True(t, errors.Is(err, errRemoteOpsUnimplemented))

	_, err = ops.Start(context.Background(), "node-a", "coder", nil)
	assert.True(t, errors.Is(err, errRemoteOpsUnimplemented))
}

func TestClampScore_BoundsToZeroAndHundred(t *testing.T) {
	assert.Equal(t, 0.0, clampScore(-5))
	assert.Equal(t, 100.0, clampScore(150))
	assert.Equal(t, 42.0, clampScore(42))
}
