package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// subjectPrefix namespaces every topic on the shared NATS connection.
const subjectPrefix = "agentforge."

// NATSEventBus implements EventBus using core NATS publish/subscribe
// (grounded on kubeclaw's internal/eventbus/nats.go, adapted from
// JetStream to core pub/sub: delivery should be at-most-once and
// droppable, not JetStream's at-least-once redelivery).
type NATSEventBus struct {
	conn *nats.Conn
}

// NewNATSEventBus connects to the given NATS URL with reconnection enabled.
func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &NATSEventBus{conn: conn}, nil
}

// Publish sends an event on the given topic's NATS subject.
func (n *NATSEventBus) Publish(_ context.Context, topic string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	if err := n.conn.Publish(subjectPrefix+topic, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel fed by a core NATS subscription. The
// subscription is torn down when ctx is cancelled.
func (n *NATSEventBus) Subscribe(ctx context.Context, topic string) (<-chan *Event, error) {
	out := make(chan *Event, 64)

	sub, err := n.conn.Subscribe(subjectPrefix+topic, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		select {
		case out <- &event:
		default: // at-most-once: drop if the subscriber is slow
		}
	})
	if err != nil {
		close(out)
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(out)
	}()

	return out, nil
}

// Close drains and closes the underlying NATS connection.
func (n *NATSEventBus) Close() error {
	n.conn.Drain()
	return nil
}
