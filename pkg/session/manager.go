// Package session implements the Session Manager (spec §4.7): an
// in-memory map of sessions, each owning references to the subagents it
// spawned through the agent registry's typed dynamic supervisor. It
// monitors every spawned subagent and, on termination, records the cause
// and removes the bookkeeping record; stopping a session terminates every
// owned subagent before the session itself is torn down.
//
// Grounded on the teacher's pkg/session/manager.go (in-memory map +
// sync.RWMutex, Create/Get shape) generalized to own subagent references
// rather than chat messages, and on kubeclaw's internal/session/store.go
// monitor-and-cascade-terminate pattern.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/agent"
	"github.com/agentforge/core/pkg/eventbus"
	"github.com/google/uuid"
)

// Manager owns sessions and the subagent records spawned under them. It
// does not own the subagent processes themselves — those live under
// pkg/agent.Registry's typed constructors, exactly the cyclic-reference
// break spec.md §9 calls for ("components hold ids, not references").
type Manager struct {
	registry *agent.Registry
	bus      eventbus.EventBus

	mu        sync.RWMutex
	sessions  map[string]*Session
	subagents map[string]*subagentEntry
}

type subagentEntry struct {
	record  SubagentRecord
	runtime *agent.Runtime
}

// NewManager constructs a Manager wired to the agent registry used to
// build subagent runtimes and the event bus used to publish
// system:sessions lifecycle notifications.
func NewManager(registry *agent.Registry, bus eventbus.EventBus) *Manager {
	return &Manager{
		registry:  registry,
		bus:       bus,
		sessions:  make(map[string]*Session),
		subagents: make(map[string]*subagentEntry),
	}
}

// CreateSession starts a new session for userID with the given settings.
func (m *Manager) CreateSession(userID string, settings map[string]any) Session {
	now := time.Now()
	s := &Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		Settings:       settings,
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		SubagentIDs:    make(map[string]struct{}),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.publish(eventbus.TopicSystemSessions, "session_created", s.ID, nil)
	return s.clone()
}

// GetSession returns a copy of the session record.
func (m *Manager) GetSession(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.clone(), nil
}

// ListSessions returns a copy of every known session.
func (m *Manager) ListSessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	return out
}

// LoadSessions repopulates the manager with session records recovered
// from a backup snapshot. Subagents are not restored: a *agent.Runtime is
// a live goroutine, not serializable state, so cold recovery brings
// session metadata back but leaves respawning subagents to whatever
// called for the recovery in the first place.
func (m *Manager) LoadSessions(sessions []Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		rec := s
		if rec.SubagentIDs == nil {
			rec.SubagentIDs = make(map[string]struct{})
		}
		m.sessions[rec.ID] = &rec
	}
}

// Touch bumps a session's LastActivityAt so liveness is tracked explicitly
// rather than inferred from mailbox depth. Nothing in this module calls it
// on inbound messages; SpawnSubagent bumps the timestamp itself.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.LastActivityAt = time.Now()
	return nil
}

// SpawnSubagent builds and starts a subagent of agentType under sessionID
// via the agent registry's typed constructor, records it, and starts a
// monitor goroutine that removes the record (capturing the termination
// cause) once the runtime's mailbox loop exits.
func (m *Manager) SpawnSubagent(ctx context.Context, sessionID, agentType string, spec map[string]any, deps any, opts ...agent.Option) (*agent.Runtime, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if s.Status != StatusActive {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionStopping, sessionID)
	}
	m.mu.Unlock()

	agentID := fmt.Sprintf("%s-%s", agentType, uuid.New().String())
	rt, err := m.registry.Build(agentType, agentID, m.bus, opts...)
	if err != nil {
		return nil, err
	}
	if err := rt.Start(ctx, deps); err != nil {
		return nil, fmt.Errorf("starting subagent %s: %w", agentID, err)
	}

	record := SubagentRecord{
		ID:        agentID,
		SessionID: sessionID,
		Type:      agentType,
		Spec:      spec,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.subagents[agentID] = &subagentEntry{record: record, runtime: rt}
	s.SubagentIDs[agentID] = struct{}{}
	s.LastActivityAt = time.Now()
	m.mu.Unlock()

	go m.monitor(agentID, rt)

	m.publish(eventbus.SessionTopic(sessionID), "subagent_spawned", sessionID, map[string]any{"agent_id": agentID, "type": agentType})
	return rt, nil
}

// monitor waits for rt to terminate (normally or via a fatal task error)
// and removes its bookkeeping record, mirroring the source's
// monitor-down handling: a "normal" shutdown reason is unremarkable, any
// other cause is logged as a crash.
func (m *Manager) monitor(agentID string, rt *agent.Runtime) {
	<-rt.Done()
	cause := rt.TerminationCause()
	if cause == "" {
		cause = "normal"
	}

	m.mu.Lock()
	entry, ok := m.subagents[agentID]
	if ok {
		now := time.Now()
		entry.record.TerminatedAt = &now
		entry.record.Cause = cause
		if s, exists := m.sessions[entry.record.SessionID]; exists {
			delete(s.SubagentIDs, agentID)
		}
		delete(m.subagents, agentID)
	}
	m.mu.Unlock()

	if cause != "normal" {
		slog.Warn("session manager: subagent terminated abnormally", "agent_id", agentID, "cause", cause)
	}
}

// ListSessionSubagents returns the subagent records currently owned by
// sessionID.
func (m *Manager) ListSessionSubagents(sessionID string) ([]SubagentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	out := make([]SubagentRecord, 0, len(s.SubagentIDs))
	for id := range s.SubagentIDs {
		if entry, ok := m.subagents[id]; ok {
			out = append(out, entry.record)
		}
	}
	return out, nil
}

// RuntimeFor returns the live runtime for a spawned subagent, for callers
// (e.g. the workflow coordinator's local dispatcher) that address agents
// by id directly rather than through their owning session.
func (m *Manager) RuntimeFor(agentID string) (*agent.Runtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.subagents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubagentNotFound, agentID)
	}
	return entry.runtime, nil
}

// StopSession terminates every subagent belonging to sessionID, waits for
// each to fully shut down, then removes the session record.
func (m *Manager) StopSession(ctx context.Context, sessionID, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.Status = StatusStopping
	runtimes := make([]*agent.Runtime, 0, len(s.SubagentIDs))
	for id := range s.SubagentIDs {
		if entry, ok := m.subagents[id]; ok {
			runtimes = append(runtimes, entry.runtime)
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, rt := range runtimes {
		wg.Add(1)
		go func(rt *agent.Runtime) {
			defer wg.Done()
			rt.Shutdown(reason)
		}(rt)
	}
	wg.Wait()

	m.mu.Lock()
	s.Status = StatusStopped
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	m.publish(eventbus.TopicSystemSessions, "session_stopped", sessionID, map[string]any{"reason": reason})
	return nil
}

func (m *Manager) publish(topic, eventType, sessionID string, details map[string]any) {
	if m.bus == nil {
		return
	}
	payload := map[string]any{"session_id": sessionID, "event_type": eventType}
	for k, v := range details {
		payload[k] = v
	}
	event, err := eventbus.NewEvent(topic, map[string]string{"event_type": eventType}, payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.bus.Publish(ctx, topic, event); err != nil {
		slog.Warn("session manager: publish failed", "topic", topic, "error", err)
	}
}
