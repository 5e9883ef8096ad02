// Package revocation implements the bounded, shared-memory cache of
// revoked jti -> expires_at: lock-free local reads backed by Redis as the
// cross-node store, with new revocations broadcast on "security:revocations"
// so peers without direct Redis reachability still converge.
package revocation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/eventbus"
	"github.com/redis/go-redis/v9"
)

// revocationBroadcast is the payload published on the revocation topic.
type revocationBroadcast struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache is the two-tier revocation store: a lock-free local map shadowing
// a shared Redis store, grounded on jordigilh-kubernaut's direct
// redis/go-redis/v9 dependency.
type Cache struct {
	local sync.Map // jti -> time.Time (expiresAt), lock-free reads

	redis *redis.Client // nil disables the shared tier (single-node / tests)
	bus   eventbus.EventBus
	topic string
}

// New constructs a Cache. redisClient and bus may be nil to run purely
// local (e.g. a single-node deployment or unit tests).
func New(redisClient *redis.Client, bus eventbus.EventBus, topic string) *Cache {
	if topic == "" {
		topic = eventbus.TopicSecurityRevocation
	}
	return &Cache{redis: redisClient, bus: bus, topic: topic}
}

// Revoke inserts jti locally, writes it to Redis with a TTL matching the
// remaining lifetime, and broadcasts it so peers without direct Redis
// reachability converge. The local insert is idempotent, so repeat
// broadcasts from other nodes are safe to apply unconditionally.
func (c *Cache) Revoke(jti string, expiresAt time.Time) {
	c.local.Store(jti, expiresAt)

	if c.redis != nil {
		ttl := time.Until(expiresAt)
		if ttl <= 0 {
			ttl = time.Minute
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.redis.Set(ctx, redisKey(jti), expiresAt.Unix(), ttl).Err(); err != nil {
			slog.Warn("revocation cache: redis write failed", "jti", jti, "error", err)
		}
	}

	if c.bus != nil {
		event, err := eventbus.NewEvent(c.topic, nil, revocationBroadcast{JTI: jti, ExpiresAt: expiresAt})
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.bus.Publish(ctx, c.topic, event); err != nil {
				slog.Warn("revocation cache: broadcast failed", "jti", jti, "error", err)
			}
		}
	}
}

// RevokeBatch revokes multiple jtis in one call.
func (c *Cache) RevokeBatch(entries map[string]time.Time) {
	for jti, exp := range entries {
		c.Revoke(jti, exp)
	}
}

// IsRevoked performs a lock-free local read; falls through to Redis only
// when the local cache has no entry and a shared store is configured, so a
// freshly-started node doesn't falsely trust an empty local map.
func (c *Cache) IsRevoked(jti string) bool {
	if v, ok := c.local.Load(jti); ok {
		exp := v.(time.Time)
		return exp.IsZero() || time.Now().Before(exp)
	}

	if c.redis == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	exists, err := c.redis.Exists(ctx, redisKey(jti)).Result()
	if err != nil {
		slog.Warn("revocation cache: redis lookup failed", "jti", jti, "error", err)
		return false
	}
	return exists > 0
}

// ApplyBroadcast idempotently applies a revocation received from a peer
// over the event bus.
func (c *Cache) ApplyBroadcast(event *eventbus.Event) error {
	var msg revocationBroadcast
	if err := event.Unmarshal(&msg); err != nil {
		return fmt.Errorf("decoding revocation broadcast: %w", err)
	}
	c.local.Store(msg.JTI, msg.ExpiresAt)
	return nil
}

// Listen subscribes to the revocation topic and applies every broadcast
// until ctx is cancelled. Intended to run as a background goroutine.
func (c *Cache) Listen(ctx context.Context) error {
	if c.bus == nil {
		return nil
	}
	ch, err := c.bus.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribing to revocation topic: %w", err)
	}
	go func() {
		for event := range ch {
			if err := c.ApplyBroadcast(event); err != nil {
				slog.Warn("revocation cache: failed to apply broadcast", "error", err)
			}
		}
	}()
	return nil
}

// Sweep removes local entries whose expiry has passed.
func (c *Cache) Sweep(now time.Time) int {
	removed := 0
	c.local.Range(func(key, value any) bool {
		exp := value.(time.Time)
		if !exp.IsZero() && now.After(exp) {
			c.local.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func redisKey(jti string) string {
	return "agentforge:revoked:" + jti
}
