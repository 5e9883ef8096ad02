package recovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/core/pkg/capability"
	"github.com/agentforge/core/pkg/config"
	"github.com/agentforge/core/pkg/recovery"
	"github.com/agentforge/core/pkg/registry"
	"github.com/agentforge/core/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecurity struct {
	caps     []*capability.Capability
	restored []*capability.Capability
}

func (f *fakeSecurity) Snapshot() []*capability.Capability    { return f.caps }
func (f *fakeSecurity) Restore(caps []*capability.Capability) { f.restored = caps }

type fakeAgents struct {
	entries []registry.Entry
	merged  []registry.Entry
}

func (f *fakeAgents) Snapshot() []registry.Entry    { return f.entries }
func (f *fakeAgents) Merge(remote []registry.Entry) { f.merged = remote }

type fakeSessions struct {
	sessions []session.Session
	loaded   []session.Session
}

func (f *fakeSessions) ListSessions() []session.Session  { return f.sessions }
func (f *fakeSessions) LoadSessions(s []session.Session) { f.loaded = s }

func testManager(t *testing.T) (*recovery.Manager, *fakeSecurity, *fakeAgents, *fakeSessions, *config.RecoveryConfig) {
	t.Helper()
	cfg := &config.RecoveryConfig{
		BackupDir:   t.TempDir(),
		RetainCount: 2,
		MaxAge:      7 * 24 * time.Hour,
	}
	sec := &fakeSecurity{caps: []*capability.Capability{{ID: "cap-1", PrincipalID: "alice"}}}
	ag := &fakeAgents{entries: []registry.Entry{{AgentID: "agent-1", Node: "node-a"}}}
	ses := &fakeSessions{sessions: []session.Session{{ID: "sess-1", UserID: "alice", Status: session.StatusActive}}}
	cfgSrc := &config.Config{Security: config.DefaultSecurityConfig()}

	m := recovery.New(cfg, sec, ag, ses, cfgSrc, nil)
	return m, sec, ag, ses, cfg
}

func TestManager_CreateBackupWritesRestorableSnapshot(t *testing.T) {
	m, _, _, _, _ := testManager(t)

	snap, err := m.CreateBackup(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Len(t, snap.Security, 1)
	assert.Len(t, snap.Agents, 1)
	assert.Len(t, snap.Sessions, 1)
	assert.NotNil(t, snap.Config)

	loaded, err := m.LoadBackup(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
}

func TestManager_ColdRecoveryRestoresAllComponentsInPriorityOrder(t *testing.T) {
	m, sec, ag, ses, _ := testManager(t)

	snap, err := m.CreateBackup(context.Background())
	require.NoError(t, err)

	sec.restored = nil
	ag.merged = nil
	ses.loaded = nil

	err = m.ColdRecovery(context.Background(), snap.ID)
	require.NoError(t, err)

	assert.Len(t, sec.restored, 1)
	assert.Len(t, ag.merged, 1)
	assert.Len(t, ses.loaded, 1)
}

func TestManager_PartialRecoveryRestoresOnlyNamedComponents(t *testing.T) {
	m, sec, ag, ses, _ := testManager(t)

	snap, err := m.CreateBackup(context.Background())
	require.NoError(t, err)

	sec.restored, ag.merged, ses.loaded = nil, nil, nil

	err = m.PartialRecovery(context.Background(), snap.ID, []string{recovery.ComponentSessions})
	require.NoError(t, err)

	assert.Nil(t, sec.restored)
	assert.Nil(t, ag.merged)
	assert.Len(t, ses.loaded, 1)
}

func TestManager_PartialRecoveryRejectsUnknownComponent(t *testing.T) {
	m, _, _, _, _ := testManager(t)
	snap, err := m.CreateBackup(context.Background())
	require.NoError(t, err)

	err = m.PartialRecovery(context.Background(), snap.ID, []string{"bogus"})
	assert.ErrorIs(t, err, recovery.ErrUnknownComponent)
}

func TestManager_ColdRecoveryUnknownBackupFails(t *testing.T) {
	m, _, _, _, _ := testManager(t)
	err := m.ColdRecovery(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, recovery.ErrBackupNotFound)
}

func TestManager_RetainCountPrunesOldestBackups(t *testing.T) {
	m, _, _, _, cfg := testManager(t)
	_ = cfg

	var ids []string
	for i := 0; i < 5; i++ {
		snap, err := m.CreateBackup(context.Background())
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	remaining, err := m.ListBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(remaining), 2)
}
