// Package recovery implements periodic state snapshots and restoration
// (spec §4.15) plus the central cron scheduler that drives every other
// component's periodic housekeeping: capability and key-rotation sweeps,
// revocation cache expiry, audit flush, metrics sampling, and the backup
// snapshot itself. One scheduler, one place to reason about cadence and
// jitter, instead of a ticker goroutine hiding in every package.
package recovery

import (
	"time"

	"github.com/agentforge/core/pkg/capability"
	"github.com/agentforge/core/pkg/config"
	"github.com/agentforge/core/pkg/registry"
	"github.com/agentforge/core/pkg/session"
)

// Component names accepted by PartialRecovery, and the fixed priority
// order ColdRecovery restores them in: security before config before
// agents before sessions, so a recovered kernel's policy is in place
// before the registry and sessions that depend on it come back.
const (
	ComponentSecurity = "security"
	ComponentConfig   = "config"
	ComponentAgents   = "agents"
	ComponentSessions = "sessions"
)

// RestorePriority is the fixed order ColdRecovery applies components in.
var RestorePriority = []string{ComponentSecurity, ComponentConfig, ComponentAgents, ComponentSessions}

// Snapshot is one point-in-time capture of every recoverable component.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Security []*capability.Capability `json:"security"`
	Agents   []registry.Entry         `json:"agents"`
	Sessions []session.Session        `json:"sessions"`
	Config   *config.Config           `json:"config"`
}

func validComponent(name string) bool {
	switch name {
	case ComponentSecurity, ComponentConfig, ComponentAgents, ComponentSessions:
		return true
	default:
		return false
	}
}

// validate enforces spec.md's pre-restoration checks: every mandatory
// field present, and the snapshot not older than maxAge relative to now.
func validate(s *Snapshot, now time.Time, maxAge time.Duration) error {
	if s.ID == "" || s.CreatedAt.IsZero() {
		return ErrIncompleteSnapshot
	}
	if s.Security == nil || s.Agents == nil || s.Sessions == nil || s.Config == nil {
		return ErrIncompleteSnapshot
	}
	if maxAge > 0 && now.Sub(s.CreatedAt) > maxAge {
		return ErrStaleBackup
	}
	return nil
}
