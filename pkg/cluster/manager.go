package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/eventbus"
)

// Manager tracks cluster membership and peer health: a set of known
// nodes and a node -> NodeStatus map, updated from OS-level up/down
// notifications (Connect/Disconnect) and from the heartbeat loop's
// timeout detection.
type Manager struct {
	node              string
	bus               eventbus.EventBus
	discovery         Discovery
	heartbeatInterval time.Duration
	nodeTimeout       time.Duration

	agentCount func() int
	memoryMB   func() int

	mu       sync.RWMutex
	nodes    map[string]struct{}
	status   map[string]NodeStatus
	lastSeen map[string]time.Time
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithAgentCount supplies the local agent count reported in heartbeats.
func WithAgentCount(f func() int) Option { return func(m *Manager) { m.agentCount = f } }

// WithMemoryMB supplies the local memory usage reported in heartbeats.
func WithMemoryMB(f func() int) Option { return func(m *Manager) { m.memoryMB = f } }

// NewManager constructs a cluster Manager for the local node.
func NewManager(node string, bus eventbus.EventBus, discovery Discovery, heartbeatInterval, nodeTimeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		node:              node,
		bus:               bus,
		discovery:         discovery,
		heartbeatInterval: heartbeatInterval,
		nodeTimeout:       nodeTimeout,
		agentCount:        func() int { return 0 },
		memoryMB:          func() int { return 0 },
		nodes:             map[string]struct{}{node: {}},
		status:            map[string]NodeStatus{node: StatusHealthy},
		lastSeen:          make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the initial discovery round, then the heartbeat publish loop
// and the peer-timeout sweep loop, until ctx is cancelled. Discovery
// failures are logged and do not prevent the node from participating with
// whatever membership it already has (transient remote failure policy,
// spec.md §7).
func (m *Manager) Start(ctx context.Context) error {
	if err := m.runDiscovery(ctx); err != nil {
		slog.Warn("cluster manager: initial discovery failed", "error", err)
	}

	ch, err := m.bus.Subscribe(ctx, HeartbeatTopic)
	if err != nil {
		return fmt.Errorf("subscribing to heartbeat topic: %w", err)
	}
	go m.consumeHeartbeats(ctx, ch)

	go m.heartbeatLoop(ctx)
	go m.timeoutLoop(ctx)
	return nil
}

func (m *Manager) runDiscovery(ctx context.Context) error {
	members, err := m.discovery.Discover(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, n := range members {
		m.nodes[n] = struct{}{}
		if _, ok := m.status[n]; !ok {
			m.status[n] = StatusUnknown
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) consumeHeartbeats(ctx context.Context, ch <-chan *eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			var hb Heartbeat
			if err := event.Unmarshal(&hb); err != nil || hb.Node == m.node {
				continue
			}
			m.mu.Lock()
			m.nodes[hb.Node] = struct{}{}
			m.status[hb.Node] = StatusHealthy
			m.lastSeen[hb.Node] = time.Now()
			m.mu.Unlock()
		}
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := Heartbeat{
				Node:       m.node,
				Status:     StatusHealthy,
				AgentCount: m.agentCount(),
				MemoryMB:   m.memoryMB(),
				Timestamp:  time.Now(),
			}
			event, err := eventbus.NewEvent(HeartbeatTopic, nil, hb)
			if err != nil {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := m.bus.Publish(pctx, HeartbeatTopic, event); err != nil {
				slog.Warn("cluster manager: heartbeat publish failed", "error", err)
			}
			cancel()
		}
	}
}

func (m *Manager) timeoutLoop(ctx context.Context) {
	interval := m.nodeTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.markTimedOutPeers(time.Now())
		}
	}
}

func (m *Manager) markTimedOutPeers(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for node, seen := range m.lastSeen {
		if node == m.node {
			continue
		}
		if now.Sub(seen) > m.nodeTimeout && m.status[node] != StatusUnhealthy {
			m.status[node] = StatusUnhealthy
			slog.Warn("cluster manager: peer missed heartbeat deadline", "node", node, "last_seen", seen)
		}
	}
}

// Connect adds node to cluster membership, applying an OS-level up
// notification.
func (m *Manager) Connect(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node] = struct{}{}
	m.status[node] = StatusUnknown
}

// Disconnect removes node from cluster membership, applying an OS-level
// down notification.
func (m *Manager) Disconnect(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, node)
	delete(m.status, node)
	delete(m.lastSeen, node)
}

// Nodes returns every currently known member, including the local node.
func (m *Manager) Nodes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.nodes))
	for n := range m.nodes {
		out = append(out, n)
	}
	return out
}

// StatusOf returns node's last-known health.
func (m *Manager) StatusOf(node string) NodeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.status[node]; ok {
		return s
	}
	return StatusUnknown
}
