package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEventBus_PublishSubscribe(t *testing.T) {
	bus := NewLocalEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, TopicSecurityAlerts)
	require.NoError(t, err)

	event, err := NewEvent(TopicSecurityAlerts, nil, map[string]string{"type": "test"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, TopicSecurityAlerts, event))

	select {
	case got := <-ch:
		assert.Equal(t, TopicSecurityAlerts, got.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestLocalEventBus_DropsForSlowSubscriber(t *testing.T) {
	bus := NewLocalEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := bus.Subscribe(ctx, TopicAgents)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		event, _ := NewEvent(TopicAgents, nil, i)
		assert.NoError(t, bus.Publish(ctx, TopicAgents, event))
	}
}

func TestLocalEventBus_UnsubscribeOnContextCancel(t *testing.T) {
	bus := NewLocalEventBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, TopicSystemMaintenance)
	require.NoError(t, err)

	cancel()
	time.Sleep(10 * time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}
