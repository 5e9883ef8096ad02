// Package agent implements the actor-style runtime every agent type plugs
// into: a mailbox, a lifecycle state machine, and a thin dispatch layer
// around a pluggable Contract, generalized from the teacher's
// pkg/agent/agent.go and pkg/agent/base_agent.go strategy split (there,
// a BaseAgent delegates iteration to a Controller; here, a Runtime
// delegates task execution to a Contract).
package agent

import "context"

// Status is the agent's externally observable lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusReady   Status = "ready"
	StatusBusy    Status = "busy"
	StatusStopped Status = "stopped"
)

// RestartPolicy controls whether the supervisor restarts an agent after
// its runtime exits. One-shot agents (tool executors, exporters,
// analysers) are Temporary; long-lived agents (coder, tester, reviewer,
// researcher) are Permanent until the owning session ends.
type RestartPolicy string

const (
	RestartTemporary RestartPolicy = "temporary"
	RestartPermanent RestartPolicy = "permanent"
)

// TaskSpec describes a unit of work dispatched to an agent.
type TaskSpec struct {
	TaskID  string
	Type    string
	Payload map[string]any
}

// TaskResult is what ExecuteTask replies with.
type TaskResult struct {
	TaskID string
	Output map[string]any
	Error  error
}

// Info is the agent's self-description, returned by Contract.Info and
// GetStatus.
type Info struct {
	AgentID      string
	Type         string
	Capabilities []string
	Status       Status
}

// Contract is what an agent implementation must fulfil. Runtime owns the
// mailbox and lifecycle; Contract owns the domain-specific work, treated
// as an opaque unit executed by ExecuteTask.
type Contract interface {
	// InitState runs once before the runtime starts accepting messages and
	// produces the opaque state threaded through every ExecuteTask call.
	InitState(ctx context.Context, agentID string, deps any) (any, error)

	// Capabilities returns the set of tags this agent advertises to the
	// registry for capability-based task routing.
	Capabilities() []string

	// CanHandle reports whether this agent can service the given task. The
	// default expectation is a check of spec.Type against Capabilities; an
	// implementation may apply finer-grained logic.
	CanHandle(spec TaskSpec) bool

	// ExecuteTask performs the task. ctx carries cancellation signalled by
	// CancelTask; implementations should check ctx.Err() between discrete
	// stages to abort cooperatively.
	ExecuteTask(ctx context.Context, spec TaskSpec, state any) (TaskResult, error)

	// Info returns static and near-static metadata about the agent.
	Info() Info
}

// ProgressReporter lets a long-running ExecuteTask call report partial
// progress back through the runtime without the Contract needing direct
// access to the event bus.
type ProgressReporter interface {
	ReportProgress(taskID string, percent int, message string)
}

// MessageHandler is implemented by a Contract that wants to react to
// receive_message deliveries. Optional: a Contract that doesn't implement
// it simply has incoming messages logged and dropped.
type MessageHandler interface {
	ReceiveMessage(ctx context.Context, from string, payload any)
}

// CoordinationHandler is implemented by a Contract that wants to react to
// coordination messages (e.g. collaboration notifications). Optional.
type CoordinationHandler interface {
	Coordination(ctx context.Context, payload any)
}

// Router delivers a send_message call to its target agent, looked up by
// the caller (typically the distributed registry). Injected to avoid
// pkg/agent depending on pkg/registry.
type Router interface {
	Deliver(ctx context.Context, targetAgentID, fromAgentID string, payload any) error
}
