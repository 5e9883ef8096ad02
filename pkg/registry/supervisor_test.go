package registry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/agentforge/core/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOps struct {
	mu        sync.Mutex
	seq       int
	failStart map[string]bool
}

func newFakeOps() *fakeOps { return &fakeOps{failStart: make(map[string]bool)} }

func (f *fakeOps) Snapshot(ctx context.Context, node, agentID string) ([]byte, error) {
	return []byte("snapshot-" + agentID), nil
}

func (f *fakeOps) Terminate(ctx context.Context, node, agentID string) error {
	return nil
}

func (f *fakeOps) Start(ctx context.Context, node, agentType string, snapshot []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart[node] {
		return "", errors.New("boom")
	}
	f.seq++
	return fmt.Sprintf("%s-agent-%d", node, f.seq), nil
}

func TestSupervisor_StartAndStopAgent(t *testing.T) {
	reg := registry.New("node-a")
	sup := registry.NewSupervisor(reg, newFakeOps())

	id, err := sup.StartAgent(context.Background(), "node-a", "coder", registry.AgentMetadata{Capabilities: []string{"write_code"}})
	require.NoError(t, err)
	assert.Contains(t, reg.ListOnNode("node-a"), id)

	require.NoError(t, sup.StopAgent(context.Background(), "node-a", id))
	assert.NotContains(t, reg.ListOnNode("node-a"), id)
}

func TestSupervisor_RebalanceClusterMovesExcess(t *testing.T) {
	reg := registry.New("node-a")
	sup := registry.NewSupervisor(reg, newFakeOps())

	for i := 0; i < 4; i++ {
		reg.Register(fmt.Sprintf("a%d", i), registry.AgentMetadata{Type: "coder", Node: "node-a"})
	}
	// node-b starts empty.

	result, err := sup.RebalanceCluster(context.Background(), []string{"node-a", "node-b"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Moved)
	assert.Equal(t, 2, len(reg.ListOnNode("node-b")))
	assert.Equal(t, 2, len(reg.ListOnNode("node-a")))
}

func TestSupervisor_RebalanceCluster_RequiresTwoMembers(t *testing.T) {
	reg := registry.New("node-a")
	sup := registry.NewSupervisor(reg, newFakeOps())

	_, err := sup.RebalanceCluster(context.Background(), []string{"node-a"})
	assert.ErrorIs(t, err, registry.ErrRebalanceFailed)
}

func TestSupervisor_RebalanceCluster_AbandonsFailedMove(t *testing.T) {
	reg := registry.New("node-a")
	ops := newFakeOps()
	ops.failStart["node-b"] = true
	sup := registry.NewSupervisor(reg, ops)

	for i := 0; i < 2; i++ {
		reg.Register(fmt.Sprintf("a%d", i), registry.AgentMetadata{Type: "coder", Node: "node-a"})
	}

	result, err := sup.RebalanceCluster(context.Background(), []string{"node-a", "node-b"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Moved)
	assert.Equal(t, 1, len(result.Failures))
}
