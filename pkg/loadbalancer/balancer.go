// Package loadbalancer implements the Load Balancer (spec §4.11): agent
// placement across cluster nodes and the automatic rebalance trigger that
// hands off to the Distributed Supervisor's migration machinery.
//
// Grounded on the teacher's pkg/queue worker-selection helpers (picking
// the least-loaded worker out of a health table) generalized from
// in-process workers to cluster nodes, with the candidate set and load
// figures sourced from pkg/registry instead of a local health table.
package loadbalancer

import (
	"context"
	"sync/atomic"

	"github.com/agentforge/core/pkg/config"
	"github.com/agentforge/core/pkg/registry"
)

// Balancer picks a placement node for new agents and decides when the
// cluster needs rebalancing.
type Balancer struct {
	registry   *registry.Registry
	supervisor *registry.Supervisor

	strategy           config.PlacementStrategy
	rebalanceThreshold float64
	autoRebalance      bool

	roundRobinIdx uint64
}

// New constructs a Balancer over reg and sup, configured per cfg.
func New(reg *registry.Registry, sup *registry.Supervisor, cfg *config.LoadBalancerConfig) *Balancer {
	return &Balancer{
		registry:           reg,
		supervisor:         sup,
		strategy:           cfg.Strategy,
		rebalanceThreshold: cfg.RebalanceThreshold,
		autoRebalance:      cfg.AutoRebalance,
	}
}

// PlaceAgent picks a node for a new agent with requiredCaps, among
// members, according to the configured placement strategy.
func (b *Balancer) PlaceAgent(members []string, requiredCaps []string) (string, error) {
	if len(members) == 0 {
		return "", ErrNoCandidateNode
	}

	switch b.strategy {
	case config.PlacementLeastLoaded:
		return b.leastLoaded(members), nil
	case config.PlacementCapabilityAware:
		return b.capabilityAware(members, requiredCaps), nil
	case config.PlacementRoundRobin:
		return b.roundRobin(members), nil
	default:
		return "", ErrUnknownStrategy
	}
}

func (b *Balancer) leastLoaded(members []string) string {
	counts := b.registry.NodeCounts()
	best := members[0]
	bestCount := counts[best]
	for _, m := range members[1:] {
		if c := counts[m]; c < bestCount {
			best, bestCount = m, c
		}
	}
	return best
}

func (b *Balancer) capabilityAware(members []string, requiredCaps []string) string {
	if len(requiredCaps) == 0 {
		return b.leastLoaded(members)
	}

	counts := b.registry.NodeCounts()
	nodeCaps := make(map[string]map[string]struct{}, len(members))
	for _, m := range members {
		nodeCaps[m] = make(map[string]struct{})
	}
	for _, e := range b.registry.Snapshot() {
		if e.Tombstone {
			continue
		}
		set, ok := nodeCaps[e.Metadata.Node]
		if !ok {
			continue
		}
		for _, c := range e.Metadata.Capabilities {
			set[c] = struct{}{}
		}
	}

	best := members[0]
	bestMatch := -1
	bestCount := 0
	for _, m := range members {
		match := 0
		for _, c := range requiredCaps {
			if _, ok := nodeCaps[m][c]; ok {
				match++
			}
		}
		if match > bestMatch || (match == bestMatch && counts[m] < bestCount) {
			best, bestMatch, bestCount = m, match, counts[m]
		}
	}
	return best
}

func (b *Balancer) roundRobin(members []string) string {
	idx := atomic.AddUint64(&b.roundRobinIdx, 1) - 1
	return members[idx%uint64(len(members))]
}

// ShouldRebalance reports whether the spread between the most and least
// loaded member (load expressed as each node's share of total registered
// agents) exceeds the configured rebalance threshold.
func (b *Balancer) ShouldRebalance(members []string) bool {
	if len(members) < 2 {
		return false
	}
	counts := b.registry.NodeCounts()

	total := 0
	for _, m := range members {
		total += counts[m]
	}
	if total == 0 {
		return false
	}

	minLoad, maxLoad := 1.0, 0.0
	for _, m := range members {
		load := float64(counts[m]) / float64(total)
		if load < minLoad {
			minLoad = load
		}
		if load > maxLoad {
			maxLoad = load
		}
	}
	return maxLoad-minLoad > b.rebalanceThreshold
}

// MaybeRebalance runs RebalanceCluster if auto-rebalance is enabled and
// ShouldRebalance reports an imbalance; it reports (result, ran, error).
func (b *Balancer) MaybeRebalance(ctx context.Context, members []string) (registry.RebalanceResult, bool, error) {
	if !b.autoRebalance || !b.ShouldRebalance(members) {
		return registry.RebalanceResult{}, false, nil
	}
	result, err := b.supervisor.RebalanceCluster(ctx, members)
	return result, true, err
}
