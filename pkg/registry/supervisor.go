package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// RemoteOps is the node-to-node transport the distributed supervisor
// drives: fetching a migration snapshot from an agent, terminating it on
// its current node, and starting a fresh instance elsewhere from that
// snapshot. Injected so pkg/registry has no opinion on the actual RPC
// mechanism (gRPC, NATS request/reply, etc.) used between cluster nodes.
type RemoteOps interface {
	Snapshot(ctx context.Context, node, agentID string) ([]byte, error)
	Terminate(ctx context.Context, node, agentID string) error
	Start(ctx context.Context, node, agentType string, snapshot []byte) (agentID string, err error)
}

// Supervisor starts, stops, and enumerates agents across every node in the
// cluster, and drives rebalance_cluster moves. Each node gets its own
// circuit breaker (grounded on jordigilh-kubernaut's direct
// sony/gobreaker dependency) so an unreachable or partitioned peer fails
// fast instead of hanging a rebalance pass.
type Supervisor struct {
	registry *Registry
	ops      RemoteOps

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewSupervisor constructs a Supervisor over registry, using ops for
// cross-node agent operations.
func NewSupervisor(registry *Registry, ops RemoteOps) *Supervisor {
	return &Supervisor{registry: registry, ops: ops, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (s *Supervisor) breakerFor(node string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[node]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "registry-node-" + node,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	s.breakers[node] = b
	return b
}

// StartAgent starts a fresh agent of agentType on node and registers it.
func (s *Supervisor) StartAgent(ctx context.Context, node, agentType string, meta AgentMetadata) (string, error) {
	res, err := s.breakerFor(node).Execute(func() (any, error) {
		return s.ops.Start(ctx, node, agentType, nil)
	})
	if err != nil {
		return "", fmt.Errorf("%w: starting %s on %s: %v", ErrRPCFailed, agentType, node, err)
	}
	agentID := res.(string)

	meta.Node = node
	meta.Type = agentType
	s.registry.Register(agentID, meta)
	return agentID, nil
}

// StopAgent terminates agentID on node and removes it from the registry.
func (s *Supervisor) StopAgent(ctx context.Context, node, agentID string) error {
	_, err := s.breakerFor(node).Execute(func() (any, error) {
		return nil, s.ops.Terminate(ctx, node, agentID)
	})
	if err != nil {
		return fmt.Errorf("%w: stopping %s on %s: %v", ErrRPCFailed, agentID, node, err)
	}
	s.registry.Unregister(agentID)
	return nil
}

// ListAgents returns every live agent id on node, or across the whole
// cluster view if node is empty.
func (s *Supervisor) ListAgents(node string) []string {
	if node == "" {
		var out []string
		for _, e := range s.registry.Snapshot() {
			if !e.Tombstone {
				out = append(out, e.AgentID)
			}
		}
		return out
	}
	return s.registry.ListOnNode(node)
}

// RebalanceResult summarises one rebalance_cluster pass.
type RebalanceResult struct {
	Moved    int
	Attempted int
	Failures []string
}

// RebalanceCluster computes target_per_node = total/len(members), then
// moves excess agents from over-target nodes to under-target nodes one at
// a time. Each move is: fetch a migration snapshot, terminate the agent on
// its source node, start it on the target node with that snapshot, and
// confirm registration. Any failed step abandons that move (logged, and
// recorded in Failures) and the source agent is left running; the pass
// continues with the next candidate.
func (s *Supervisor) RebalanceCluster(ctx context.Context, members []string) (RebalanceResult, error) {
	if len(members) < 2 {
		return RebalanceResult{}, fmt.Errorf("%w: need at least two members", ErrRebalanceFailed)
	}

	counts := s.registry.NodeCounts()
	total := 0
	for _, m := range members {
		total += counts[m]
	}
	target := total / len(members)

	var over, under []string
	for _, m := range members {
		if counts[m] > target {
			over = append(over, m)
		} else if counts[m] < target {
			under = append(under, m)
		}
	}

	result := RebalanceResult{}
	for _, src := range over {
		excess := counts[src] - target
		agents := s.registry.ListOnNode(src)
		for i := 0; i < excess && i < len(agents) && len(under) > 0; i++ {
			dst := under[0]
			result.Attempted++

			if err := s.moveAgent(ctx, agents[i], src, dst); err != nil {
				slog.Warn("registry: rebalance move abandoned", "agent_id", agents[i], "from", src, "to", dst, "error", err)
				result.Failures = append(result.Failures, agents[i])
				continue
			}
			result.Moved++

			counts[src]--
			counts[dst]++
			if counts[dst] >= target {
				under = under[1:]
			}
		}
	}

	return result, nil
}

// moveAgent performs the four-step migration: snapshot, terminate, start
// elsewhere, confirm. Any failure leaves the source agent registered and
// running (the registry was never told it moved).
func (s *Supervisor) moveAgent(ctx context.Context, agentID, src, dst string) error {
	meta, err := s.registry.Lookup(agentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	snapRes, err := s.breakerFor(src).Execute(func() (any, error) {
		return s.ops.Snapshot(ctx, src, agentID)
	})
	if err != nil {
		return fmt.Errorf("%w: snapshot: %v", ErrMigrationFailed, err)
	}
	snapshot, _ := snapRes.([]byte)

	if _, err := s.breakerFor(src).Execute(func() (any, error) {
		return nil, s.ops.Terminate(ctx, src, agentID)
	}); err != nil {
		return fmt.Errorf("%w: terminate: %v", ErrMigrationFailed, err)
	}
	s.registry.Unregister(agentID)

	startRes, err := s.breakerFor(dst).Execute(func() (any, error) {
		return s.ops.Start(ctx, dst, meta.Type, snapshot)
	})
	if err != nil {
		// The source instance is already gone; re-register the old id so
		// the registry doesn't silently lose track of it pending manual
		// recovery.
		meta.CurrentLoad = 0
		s.registry.Register(agentID, meta)
		return fmt.Errorf("%w: remote start: %v", ErrMigrationFailed, err)
	}
	newID, _ := startRes.(string)
	if newID == "" {
		newID = agentID
	}

	meta.Node = dst
	s.registry.Register(newID, meta)
	return nil
}
