// Package eventbus implements the pub/sub abstraction carrying every
// well-known topic (agents, agent:<id>, session:<id>, security:alerts,
// security:revocations, security:audit, system:maintenance,
// system:sessions): a single EventBus interface with two backends,
// grounded on kubeclaw's internal/eventbus interface split.
//
// Delivery is at-most-once, broadcast, with no ordering guarantee across
// topics — FIFO within a single (publisher, subscriber, topic) triple is
// all that's guaranteed. Subscribers must tolerate drops.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known topics shared across the system.
const (
	TopicAgents             = "agents"
	TopicSecurityAlerts     = "security:alerts"
	TopicSecurityRevocation = "security:revocations"
	TopicSecurityAudit      = "security:audit"
	TopicSystemMaintenance  = "system:maintenance"
	TopicSystemSessions     = "system:sessions"
)

// AgentTopic returns the per-agent topic name ("agent:<id>").
func AgentTopic(agentID string) string { return "agent:" + agentID }

// SessionTopic returns the per-session topic name ("session:<id>").
func SessionTopic(sessionID string) string { return "session:" + sessionID }

// Event is a message published on the bus.
type Event struct {
	Topic     string            `json:"topic"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Data      json.RawMessage   `json:"data"`
}

// NewEvent marshals data into an Event payload.
func NewEvent(topic string, metadata map[string]string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling event data: %w", err)
	}
	return &Event{Topic: topic, Timestamp: time.Now(), Metadata: metadata, Data: raw}, nil
}

// Unmarshal decodes the event's Data into v.
func (e *Event) Unmarshal(v any) error {
	return json.Unmarshal(e.Data, v)
}

// EventBus is the pub/sub abstraction every component depends on instead of
// a concrete NATS or in-memory type, so tests can swap in LocalEventBus.
type EventBus interface {
	Publish(ctx context.Context, topic string, event *Event) error
	Subscribe(ctx context.Context, topic string) (<-chan *Event, error)
	Close() error
}
