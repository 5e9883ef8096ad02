package session

import "time"

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

// Session is a logical conversation: a user-scoped container that owns
// zero or more subagent references but not the subagent processes
// themselves (those are owned by their typed dynamic supervisor via
// pkg/agent.Registry).
//
// LastActivityAt replaces the source's session_inactive_since? heuristic
// (message-queue-length == 0) per the design notes: SpawnSubagent and
// Manager.Touch bump it explicitly instead of it being inferred from
// mailbox depth.
type Session struct {
	ID             string
	UserID         string
	Settings       map[string]any
	Status         Status
	CreatedAt      time.Time
	LastActivityAt time.Time
	SubagentIDs    map[string]struct{}
}

// SubagentRecord is the Session Manager's bookkeeping entry for one spawned
// subagent: its type, the session that owns the reference, the task spec
// it was spawned to service, and when it started.
type SubagentRecord struct {
	ID          string
	SessionID   string
	Type        string
	Spec        map[string]any
	StartedAt   time.Time
	TerminatedAt *time.Time
	Cause       string
}

// clone returns a value copy safe to hand to callers outside the manager's
// lock.
func (s *Session) clone() Session {
	settings := make(map[string]any, len(s.Settings))
	for k, v := range s.Settings {
		settings[k] = v
	}
	ids := make(map[string]struct{}, len(s.SubagentIDs))
	for id := range s.SubagentIDs {
		ids[id] = struct{}{}
	}
	cp := *s
	cp.Settings = settings
	cp.SubagentIDs = ids
	return cp
}
