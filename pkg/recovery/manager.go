package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/capability"
	"github.com/agentforge/core/pkg/config"
	"github.com/agentforge/core/pkg/registry"
	"github.com/agentforge/core/pkg/session"
	"github.com/google/uuid"
)

// SecurityStore is the subset of pkg/security's Kernel the recovery
// manager depends on: dumping and reloading every live capability.
type SecurityStore interface {
	Snapshot() []*capability.Capability
	Restore(caps []*capability.Capability)
}

// AgentStore is the subset of pkg/registry's Registry the recovery
// manager depends on. Restoring agents is a Merge, not a replace: the
// CRDT's last-writer-wins rule means a restored entry only overwrites
// what is live today if its Lamport value is newer.
type AgentStore interface {
	Snapshot() []registry.Entry
	Merge(remote []registry.Entry)
}

// SessionStore is the subset of pkg/session's Manager the recovery
// manager depends on.
type SessionStore interface {
	ListSessions() []session.Session
	LoadSessions(sessions []session.Session)
}

// Mirror optionally persists every snapshot to durable storage in
// addition to the local backup directory, sharing the connection pool
// pkg/audit's PostgresMirror uses.
type Mirror interface {
	InsertSnapshot(ctx context.Context, snap Snapshot) error
}

// Manager owns the backup directory: writing point-in-time snapshots of
// every recoverable component, pruning old ones, and restoring from one
// on cold or partial recovery.
type Manager struct {
	cfg      *config.RecoveryConfig
	security SecurityStore
	agents   AgentStore
	sessions SessionStore
	cfgSrc   *config.Config
	mirror   Mirror

	mu sync.Mutex
}

// New constructs a Manager. cfgSrc is the live configuration object
// captured verbatim into every snapshot; mirror may be nil.
func New(cfg *config.RecoveryConfig, security SecurityStore, agents AgentStore, sessions SessionStore, cfgSrc *config.Config, mirror Mirror) *Manager {
	return &Manager{cfg: cfg, security: security, agents: agents, sessions: sessions, cfgSrc: cfgSrc, mirror: mirror}
}

// CreateBackup captures the current state of every component, writes it
// to the backup directory, mirrors it if a Mirror is configured, and
// prunes anything beyond RetainCount or older than MaxAge. Intended to be
// called every BackupInterval by a Scheduler.
func (m *Manager) CreateBackup(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Security:  nonNilCaps(m.security.Snapshot()),
		Agents:    nonNilEntries(m.agents.Snapshot()),
		Sessions:  nonNilSessions(m.sessions.ListSessions()),
		Config:    m.cfgSrc,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.cfg.BackupDir, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("creating backup dir: %w", err)
	}
	if err := writeSnapshot(m.cfg.BackupDir, snap); err != nil {
		return Snapshot{}, err
	}

	if m.mirror != nil {
		if err := m.mirror.InsertSnapshot(ctx, snap); err != nil {
			slog.Warn("recovery: mirror insert failed", "backup_id", snap.ID, "error", err)
		}
	}

	if err := m.prune(); err != nil {
		slog.Warn("recovery: prune failed", "error", err)
	}

	return snap, nil
}

// ListBackups returns every retained backup's id and creation time, most
// recent first.
func (m *Manager) ListBackups() ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.cfg.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup dir: %w", err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(m.cfg.BackupDir, e.Name()))
		if err != nil {
			continue
		}
		var s Snapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

// LoadBackup reads and parses a single backup by id, without restoring
// anything.
func (m *Manager) LoadBackup(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(id)
}

func (m *Manager) loadLocked(id string) (Snapshot, error) {
	raw, err := os.ReadFile(backupPath(m.cfg.BackupDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrBackupNotFound, id)
		}
		return Snapshot{}, fmt.Errorf("reading backup %s: %w", id, err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("parsing backup %s: %w", id, err)
	}
	return s, nil
}

// ColdRecovery validates backupID's snapshot and restores every
// component in RestorePriority order.
func (m *Manager) ColdRecovery(ctx context.Context, backupID string) error {
	return m.restore(ctx, backupID, RestorePriority)
}

// PartialRecovery validates backupID's snapshot and restores only the
// named components, in RestorePriority order regardless of the order
// they're passed in.
func (m *Manager) PartialRecovery(ctx context.Context, backupID string, components []string) error {
	for _, c := range components {
		if !validComponent(c) {
			return fmt.Errorf("%w: %s", ErrUnknownComponent, c)
		}
	}
	ordered := make([]string, 0, len(components))
	for _, c := range RestorePriority {
		if containsStr(components, c) {
			ordered = append(ordered, c)
		}
	}
	return m.restore(ctx, backupID, ordered)
}

func (m *Manager) restore(ctx context.Context, backupID string, components []string) error {
	m.mu.Lock()
	snap, err := m.loadLocked(backupID)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := validate(&snap, time.Now(), m.cfg.MaxAge); err != nil {
		return fmt.Errorf("backup %s: %w", backupID, err)
	}

	for _, c := range components {
		switch c {
		case ComponentSecurity:
			m.security.Restore(snap.Security)
		case ComponentConfig:
			// Config restoration is a read: callers that need the restored
			// values live (e.g. to re-render a config file) read snap.Config
			// from the return of LoadBackup. Swapping the live *config.Config
			// pointer system-wide while other goroutines hold it would be
			// unsound, so this is intentionally a no-op here.
		case ComponentAgents:
			m.agents.Merge(snap.Agents)
		case ComponentSessions:
			m.sessions.LoadSessions(snap.Sessions)
		}
	}

	slog.Info("recovery: restored backup", "backup_id", backupID, "components", components)
	return ctx.Err()
}

func (m *Manager) prune() error {
	snaps, err := m.listLocked()
	if err != nil {
		return err
	}

	now := time.Now()
	keep := 0
	for _, s := range snaps {
		stale := m.cfg.MaxAge > 0 && now.Sub(s.CreatedAt) > m.cfg.MaxAge
		tooMany := m.cfg.RetainCount > 0 && keep >= m.cfg.RetainCount
		if stale || tooMany {
			if rmErr := os.Remove(backupPath(m.cfg.BackupDir, s.ID)); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			continue
		}
		keep++
	}
	return nil
}

func writeSnapshot(dir string, snap Snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.WriteFile(backupPath(dir, snap.ID), raw, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func backupPath(dir, id string) string {
	return filepath.Join(dir, fmt.Sprintf("backup-%s.json", id))
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func nonNilCaps(c []*capability.Capability) []*capability.Capability {
	if c == nil {
		return []*capability.Capability{}
	}
	return c
}

func nonNilEntries(e []registry.Entry) []registry.Entry {
	if e == nil {
		return []registry.Entry{}
	}
	return e
}

func nonNilSessions(s []session.Session) []session.Session {
	if s == nil {
		return []session.Session{}
	}
	return s
}
