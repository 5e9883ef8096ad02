package loadbalancer_test

import (
	"context"
	"testing"

	"github.com/agentforge/core/pkg/config"
	"github.com/agentforge/core/pkg/loadbalancer"
	"github.com/agentforge/core/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOps struct{}

func (fakeOps) Snapshot(ctx context.Context, node, agentID string) ([]byte, error) { return nil, nil }
func (fakeOps) Terminate(ctx context.Context, node, agentID string) error          { return nil }
func (fakeOps) Start(ctx context.Context, node, agentType string, snapshot []byte) (string, error) {
	return "new-" + agentType, nil
}

func TestBalancer_LeastLoaded(t *testing.T) {
	reg := registry.New("node-a")
	reg.Register("a1", registry.AgentMetadata{Type: "worker", Node: "node-a"})
	reg.Register("a2", registry.AgentMetadata{Type: "worker", Node: "node-a"})

	cfg := &config.LoadBalancerConfig{Strategy: config.PlacementLeastLoaded}
	b := loadbalancer.New(reg, registry.NewSupervisor(reg, fakeOps{}), cfg)

	// node-a carries 2 registered agents (both Register calls name
	// node-a), node-b carries none, so node-b should win.
	node, err := b.PlaceAgent([]string{"node-a", "node-b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "node-b", node)
}

func TestBalancer_CapabilityAware(t *testing.T) {
	reg := registry.New("node-a")
	reg.Register("a1", registry.AgentMetadata{Type: "reviewer", Capabilities: []string{"review", "lint"}})

	cfg := &config.LoadBalancerConfig{Strategy: config.PlacementCapabilityAware}
	b := loadbalancer.New(reg, registry.NewSupervisor(reg, fakeOps{}), cfg)

	node, err := b.PlaceAgent([]string{"node-a", "node-b"}, []string{"lint"})
	require.NoError(t, err)
	assert.Equal(t, "node-a", node)
}

func TestBalancer_RoundRobinCyclesMembers(t *testing.T) {
	reg := registry.New("node-a")
	cfg := &config.LoadBalancerConfig{Strategy: config.PlacementRoundRobin}
	b := loadbalancer.New(reg, registry.NewSupervisor(reg, fakeOps{}), cfg)

	members := []string{"node-a", "node-b", "node-c"}
	seen := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		node, err := b.PlaceAgent(members, nil)
		require.NoError(t, err)
		seen = append(seen, node)
	}
	assert.Equal(t, []string{"node-a", "node-b", "node-c", "node-a", "node-b", "node-c"}, seen)
}

func TestBalancer_NoMembersReturnsError(t *testing.T) {
	reg := registry.New("node-a")
	cfg := &config.LoadBalancerConfig{Strategy: config.PlacementLeastLoaded}
	b := loadbalancer.New(reg, registry.NewSupervisor(reg, fakeOps{}), cfg)

	_, err := b.PlaceAgent(nil, nil)
	assert.ErrorIs(t, err, loadbalancer.ErrNoCandidateNode)
}

func TestBalancer_ShouldRebalanceDetectsImbalance(t *testing.T) {
	reg := registry.New("node-a")
	for i := 0; i < 8; i++ {
		reg.Register(string(rune('a'+i)), registry.AgentMetadata{Type: "worker"})
	}

	cfg := &config.LoadBalancerConfig{Strategy: config.PlacementLeastLoaded, RebalanceThreshold: 0.5, AutoRebalance: true}
	b := loadbalancer.New(reg, registry.NewSupervisor(reg, fakeOps{}), cfg)

	// every agent lands on node-a; node-b has none, so load spread is
	// 1.0 - 0.0 = 1.0 > 0.5 threshold.
	assert.True(t, b.ShouldRebalance([]string{"node-a", "node-b"}))
}

func TestBalancer_ShouldRebalanceFalseWhenBalanced(t *testing.T) {
	reg := registry.New("node-a")
	cfg := &config.LoadBalancerConfig{Strategy: config.PlacementLeastLoaded, RebalanceThreshold: 0.5}
	b := loadbalancer.New(reg, registry.NewSupervisor(reg, fakeOps{}), cfg)

	assert.False(t, b.ShouldRebalance([]string{"node-a", "node-b"}))
}

func TestBalancer_MaybeRebalanceSkippedWhenAutoRebalanceDisabled(t *testing.T) {
	reg := registry.New("node-a")
	for i := 0; i < 8; i++ {
		reg.Register(string(rune('a'+i)), registry.AgentMetadata{Type: "worker"})
	}

	cfg := &config.LoadBalancerConfig{Strategy: config.PlacementLeastLoaded, RebalanceThreshold: 0.1, AutoRebalance: false}
	b := loadbalancer.New(reg, registry.NewSupervisor(reg, fakeOps{}), cfg)

	_, ran, err := b.MaybeRebalance(context.Background(), []string{"node-a", "node-b"})
	require.NoError(t, err)
	assert.False(t, ran)
}
