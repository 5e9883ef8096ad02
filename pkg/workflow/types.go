// Package workflow implements the Workflow Coordinator (spec §4.12):
// dependency-ordered multi-step execution with per-step agent selection,
// a single-step delegate_task convenience, and passive multi-agent
// collaborations.
package workflow

import (
	"time"

	"github.com/agentforge/core/pkg/registry"
)

// Status is a workflow's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TaskSpec describes one step: the capability requirements used for agent
// selection, its dependencies on earlier step ids, and the payload handed
// to the selected agent (merged with prior steps' results).
type TaskSpec struct {
	ID                    int
	Type                  string
	Dependencies          []int
	RequiredCapabilities  []string
	PreferredCapabilities []string
	Specialisation        string
	Priority              registry.Priority
	Payload               map[string]any
}

// Workflow is the coordinator's live record of one execute_workflow run.
type Workflow struct {
	ID         string
	Steps      []TaskSpec
	Status     Status
	Results    map[int]map[string]any
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Result is the terminal reply execute_workflow produces, mirroring
// spec.md §4.12's {workflow_id, status, results, duration} shape.
type Result struct {
	WorkflowID string
	Status     Status
	Results    map[int]map[string]any
	Duration   time.Duration
	Err        error
}

// Collaboration is a passive, shared-context record created by
// create_collaboration: the member agents do not schedule work through
// it, they only share the Context map it carries.
type Collaboration struct {
	ID        string
	AgentIDs  []string
	Context   map[string]any
	CreatedAt time.Time
}
