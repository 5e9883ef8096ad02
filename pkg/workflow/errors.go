package workflow

import "errors"

var (
	// ErrWorkflowNotFound indicates no workflow is tracked under the
	// given id.
	ErrWorkflowNotFound = errors.New("workflow_not_found")

	// ErrInvalidDependency indicates a step names a dependency id that is
	// not itself a step in the same workflow, or one whose result is not
	// yet recorded when the step runs.
	ErrInvalidDependency = errors.New("invalid_dependency")

	// ErrRetriesExhausted indicates delegate_task failed on every attempt.
	ErrRetriesExhausted = errors.New("retries_exhausted")

	// ErrAgentNotAlive indicates create_collaboration was asked to include
	// an agent id the registry has no live entry for.
	ErrAgentNotAlive = errors.New("agent_not_alive")
)
