// Package cluster implements the Cluster Manager (spec §4.10): node
// discovery (static, multicast, kubernetes strategies), heartbeat
// broadcast, and peer health tracking by timeout.
package cluster

import (
	"context"
	"time"
)

// NodeStatus is a peer's observed health.
type NodeStatus string

const (
	StatusHealthy   NodeStatus = "healthy"
	StatusUnhealthy NodeStatus = "unhealthy"
	StatusUnknown   NodeStatus = "unknown"
)

// HeartbeatTopic is the broadcast-bus topic heartbeats are published on.
// Not one of the named topics in spec.md §5 (which enumerates the
// security/session/system ones); this is the cluster membership
// equivalent, broadcast the same way.
const HeartbeatTopic = "cluster:heartbeat"

// Heartbeat is the payload a node publishes every HeartbeatInterval.
type Heartbeat struct {
	Node       string     `json:"node"`
	Status     NodeStatus `json:"status"`
	AgentCount int        `json:"agent_count"`
	MemoryMB   int        `json:"memory_mb"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Discovery resolves the initial (or periodically refreshed) cluster
// membership list. Strategy selection happens at Manager construction;
// only Static is mandatory per spec.md §4.10.
type Discovery interface {
	Discover(ctx context.Context) ([]string, error)
}
