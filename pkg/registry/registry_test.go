package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/core/pkg/eventbus"
	"github.com/agentforge/core/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := registry.New("node-a")
	r.Register("agent-1", registry.AgentMetadata{Type: "analyser", Capabilities: []string{"analyse"}})

	meta, err := r.Lookup("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "analyser", meta.Type)
	assert.Equal(t, "node-a", meta.Node)

	r.Unregister("agent-1")
	_, err = r.Lookup("agent-1")
	assert.ErrorIs(t, err, registry.ErrAgentNotFound)
}

func TestRegistry_SelectByTypeAndCapability(t *testing.T) {
	r := registry.New("node-a")
	r.Register("a1", registry.AgentMetadata{Type: "reviewer", Capabilities: []string{"review", "lint"}})
	r.Register("a2", registry.AgentMetadata{Type: "reviewer", Capabilities: []string{"review"}})
	r.Register("a3", registry.AgentMetadata{Type: "coder", Capabilities: []string{"write_code"}})

	assert.ElementsMatch(t, []string{"a1", "a2"}, r.SelectByType("reviewer"))
	assert.ElementsMatch(t, []string{"a1", "a2"}, r.FindWithCapability("review"))
	assert.ElementsMatch(t, []string{"a1"}, r.FindWithCapability("lint"))
}

func TestRegistry_ListOnNodeAndNodeCounts(t *testing.T) {
	r := registry.New("node-a")
	r.Register("a1", registry.AgentMetadata{Type: "coder"})
	r.Register("a2", registry.AgentMetadata{Type: "coder"})

	assert.ElementsMatch(t, []string{"a1", "a2"}, r.ListOnNode("node-a"))
	assert.Equal(t, map[string]int{"node-a": 2}, r.NodeCounts())
}

func TestRegistry_MergeLastWriterWins(t *testing.T) {
	local := registry.New("node-a")
	local.Register("agent-1", registry.AgentMetadata{Type: "coder", CurrentLoad: 10})

	remote := registry.New("node-b")
	remote.Register("agent-0", registry.AgentMetadata{Type: "coder"}) // advance remote's clock past local's
	remote.Register("agent-1", registry.AgentMetadata{Type: "coder", CurrentLoad: 90})

	local.Merge(remote.Snapshot())

	meta, err := local.Lookup("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 90, meta.CurrentLoad, "higher Lamport write from remote should win")
}

func TestRegistry_MergeTombstoneWins(t *testing.T) {
	local := registry.New("node-a")
	local.Register("agent-1", registry.AgentMetadata{Type: "coder"})

	remote := registry.New("node-b")
	remote.Register("agent-1", registry.AgentMetadata{Type: "coder"})
	remote.Unregister("agent-1")

	local.Merge(remote.Snapshot())

	_, err := local.Lookup("agent-1")
	assert.ErrorIs(t, err, registry.ErrAgentNotFound)
}

func TestRegistry_GossipConverges(t *testing.T) {
	bus := eventbus.NewLocalEventBus()
	defer bus.Close()

	a := registry.New("node-a")
	b := registry.New("node-b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Gossip(ctx, bus, 10*time.Millisecond)
	go b.Gossip(ctx, bus, 10*time.Millisecond)

	a.Register("agent-1", registry.AgentMetadata{Type: "coder"})

	require.Eventually(t, func() bool {
		_, err := b.Lookup("agent-1")
		return err == nil
	}, time.Second, 10*time.Millisecond)
}
