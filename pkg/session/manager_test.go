package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/core/pkg/agent"
	"github.com/agentforge/core/pkg/eventbus"
	"github.com/agentforge/core/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubContract struct {
	stopCh chan struct{}
}

func (c *stubContract) InitState(ctx context.Context, agentID string, deps any) (any, error) {
	return nil, nil
}
func (c *stubContract) Capabilities() []string          { return []string{"analyse"} }
func (c *stubContract) CanHandle(spec agent.TaskSpec) bool { return spec.Type == "analyse" }
func (c *stubContract) ExecuteTask(ctx context.Context, spec agent.TaskSpec, state any) (agent.TaskResult, error) {
	return agent.TaskResult{Output: map[string]any{"ok": true}}, nil
}
func (c *stubContract) Info() agent.Info { return agent.Info{Type: "analyser"} }

func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	bus := eventbus.NewLocalEventBus()
	t.Cleanup(func() { bus.Close() })
	reg := agent.NewRegistry()
	reg.Register("analyser", agent.RestartTemporary, func(id string) agent.Contract {
		return &stubContract{}
	})
	return session.NewManager(reg, bus)
}

func TestManager_CreateAndGetSession(t *testing.T) {
	m := newTestManager(t)
	s := m.CreateSession("user-1", map[string]any{"model": "x"})
	require.NotEmpty(t, s.ID)
	assert.Equal(t, session.StatusActive, s.Status)

	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}

func TestManager_GetSession_NotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetSession("missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestManager_SpawnSubagent_ListAndStopCascades(t *testing.T) {
	m := newTestManager(t)
	s := m.CreateSession("user-1", nil)

	ctx := context.Background()
	rt, err := m.SpawnSubagent(ctx, s.ID, "analyser", map[string]any{"target": "repo"}, nil)
	require.NoError(t, err)
	require.NotNil(t, rt)

	subs, err := m.ListSessionSubagents(s.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "analyser", subs[0].Type)

	require.NoError(t, m.StopSession(ctx, s.ID, "user_requested"))

	_, err = m.GetSession(s.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	select {
	case <-rt.Done():
	case <-time.After(time.Second):
		t.Fatal("subagent runtime did not stop after StopSession")
	}
	assert.Equal(t, "user_requested", rt.TerminationCause())
}

func TestManager_SpawnSubagent_UnknownSessionFails(t *testing.T) {
	m := newTestManager(t)
	_, err := m.SpawnSubagent(context.Background(), "nope", "analyser", nil, nil)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestManager_SpawnSubagent_StoppedSessionRejected(t *testing.T) {
	m := newTestManager(t)
	s := m.CreateSession("user-1", nil)
	require.NoError(t, m.StopSession(context.Background(), s.ID, "done"))

	_, err := m.SpawnSubagent(context.Background(), s.ID, "analyser", nil, nil)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
