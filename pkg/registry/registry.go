package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentforge/core/pkg/eventbus"
)

// Registry is the CRDT-style eventually-consistent agent directory: a
// mutex-guarded map of agent_id -> Entry, with a local Lamport clock that
// advances on every local write and on every remote entry observed with a
// higher clock value. Readers may briefly observe stale state after a
// remote registration has happened but not yet gossiped in — spec.md §5
// permits this explicitly.
type Registry struct {
	node string

	mu      sync.RWMutex
	entries map[string]Entry

	clock uint64
}

// New constructs a Registry for the local node.
func New(node string) *Registry {
	return &Registry{node: node, entries: make(map[string]Entry)}
}

func (r *Registry) tick() uint64 {
	return atomic.AddUint64(&r.clock, 1)
}

func (r *Registry) observe(remote uint64) {
	for {
		cur := atomic.LoadUint64(&r.clock)
		if remote <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&r.clock, cur, remote) {
			return
		}
	}
}

// Register adds or updates agentID's metadata, stamping it with a freshly
// advanced Lamport clock value. meta.Node names the hosting node; when it
// is empty the local node is stamped in.
func (r *Registry) Register(agentID string, meta AgentMetadata) {
	if meta.Node == "" {
		meta.Node = r.node
	}
	entry := Entry{
		AgentID:   agentID,
		Metadata:  meta,
		Lamport:   r.tick(),
		Node:      r.node,
		UpdatedAt: time.Now(),
	}

	r.mu.Lock()
	r.entries[agentID] = entry
	r.mu.Unlock()
}

// Unregister marks agentID as removed with a tombstone entry, which still
// participates in LWW merges so a concurrent stale re-registration from
// another node does not resurrect it.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	existing, ok := r.entries[agentID]
	r.mu.Unlock()

	meta := AgentMetadata{Node: r.node}
	if ok {
		meta = existing.Metadata
		meta.Node = r.node
	}

	entry := Entry{
		AgentID:   agentID,
		Metadata:  meta,
		Lamport:   r.tick(),
		Node:      r.node,
		Tombstone: true,
		UpdatedAt: time.Now(),
	}

	r.mu.Lock()
	r.entries[agentID] = entry
	r.mu.Unlock()
}

// Lookup returns the metadata for agentID, or ErrAgentNotFound if absent
// or tombstoned.
func (r *Registry) Lookup(agentID string) (AgentMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[agentID]
	if !ok || e.Tombstone {
		return AgentMetadata{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return e.Metadata, nil
}

// UpdateLoad updates only the load fields of an already-registered agent,
// re-stamping it with a fresh Lamport value. No-op if the agent is not
// currently registered on this node's view.
func (r *Registry) UpdateLoad(agentID string, currentLoad, pendingMessages int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agentID]
	if !ok || e.Tombstone {
		return
	}
	e.Metadata.CurrentLoad = currentLoad
	e.Metadata.PendingMessages = pendingMessages
	e.Lamport = r.tick()
	e.UpdatedAt = time.Now()
	r.entries[agentID] = e
}

// SelectByType returns every live agent id registered with the given type.
func (r *Registry) SelectByType(agentType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, e := range r.entries {
		if !e.Tombstone && e.Metadata.Type == agentType {
			out = append(out, id)
		}
	}
	return out
}

// ListOnNode returns every live agent id whose metadata reports the given
// node.
func (r *Registry) ListOnNode(node string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, e := range r.entries {
		if !e.Tombstone && e.Metadata.Node == node {
			out = append(out, id)
		}
	}
	return out
}

// FindWithCapability returns every live agent id advertising capability.
func (r *Registry) FindWithCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, e := range r.entries {
		if e.Tombstone {
			continue
		}
		for _, c := range e.Metadata.Capabilities {
			if c == capability {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// NodeCounts returns the number of live agents registered per node, used
// by the load balancer's rebalance trigger.
func (r *Registry) NodeCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, e := range r.entries {
		if !e.Tombstone {
			counts[e.Metadata.Node]++
		}
	}
	return counts
}

// Snapshot returns every entry (including tombstones) for gossip
// transmission.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Merge applies remote entries using last-writer-wins on Lamport value,
// with ties broken by node id for determinism. Safe to call repeatedly
// with overlapping or stale data; it is idempotent.
func (r *Registry) Merge(remote []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range remote {
		r.observe(e.Lamport)
		cur, ok := r.entries[e.AgentID]
		if !ok || e.Lamport > cur.Lamport || (e.Lamport == cur.Lamport && e.Node > cur.Node) {
			r.entries[e.AgentID] = e
		}
	}
}

// gossipPayload is what's published on the agents topic each heartbeat.
type gossipPayload struct {
	Node    string  `json:"node"`
	Entries []Entry `json:"entries"`
}

// Gossip publishes a full snapshot on the agents topic every interval and
// applies every peer snapshot it receives, until ctx is cancelled.
// Transient publish/subscribe failures are logged and retried on the next
// tick; they never propagate to the caller, per spec.md §7's propagation
// policy for transient remote failures.
func (r *Registry) Gossip(ctx context.Context, bus eventbus.EventBus, interval time.Duration) error {
	ch, err := bus.Subscribe(ctx, eventbus.TopicAgents)
	if err != nil {
		return fmt.Errorf("subscribing to gossip topic: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				var payload gossipPayload
				if err := event.Unmarshal(&payload); err != nil || payload.Node == r.node {
					continue
				}
				r.Merge(payload.Entries)
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			event, err := eventbus.NewEvent(eventbus.TopicAgents, nil, gossipPayload{Node: r.node, Entries: r.Snapshot()})
			if err != nil {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := bus.Publish(pctx, eventbus.TopicAgents, event); err != nil {
				slog.Warn("registry: gossip publish failed", "error", err)
			}
			cancel()
		}
	}
}
