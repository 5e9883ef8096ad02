package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/core/pkg/eventbus"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestCache_LocalOnlyRevokeAndCheck(t *testing.T) {
	c := New(nil, nil, "")
	assert.False(t, c.IsRevoked("jti-1"))
	c.Revoke("jti-1", time.Now().Add(time.Hour))
	assert.True(t, c.IsRevoked("jti-1"))
}

func TestCache_FallsThroughToRedisOnColdLocalCache(t *testing.T) {
	client := newTestRedis(t)
	writer := New(client, nil, "")
	reader := New(client, nil, "") // fresh node, empty local map

	writer.Revoke("jti-2", time.Now().Add(time.Hour))
	assert.True(t, reader.IsRevoked("jti-2"))
}

func TestCache_BroadcastConvergesPeerWithoutRedis(t *testing.T) {
	bus := eventbus.NewLocalEventBus()
	defer bus.Close()

	publisher := New(nil, bus, "")
	peer := New(nil, bus, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, peer.Listen(ctx))

	publisher.Revoke("jti-3", time.Now().Add(time.Hour))

	require.Eventually(t, func() bool {
		return peer.IsRevoked("jti-3")
	}, time.Second, 10*time.Millisecond)
}

func TestCache_RevokeBatch(t *testing.T) {
	c := New(nil, nil, "")
	now := time.Now().Add(time.Hour)
	c.RevokeBatch(map[string]time.Time{"a": now, "b": now})
	assert.True(t, c.IsRevoked("a"))
	assert.True(t, c.IsRevoked("b"))
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	c := New(nil, nil, "")
	c.Revoke("expired", time.Now().Add(-time.Minute))
	c.Revoke("fresh", time.Now().Add(time.Hour))

	removed := c.Sweep(time.Now())
	assert.Equal(t, 1, removed)
	assert.True(t, c.IsRevoked("fresh"))
}
