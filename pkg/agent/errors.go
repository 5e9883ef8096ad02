package agent

import "errors"

var (
	ErrAgentStopped     = errors.New("agent_stopped")
	ErrCannotHandle     = errors.New("agent_cannot_handle_task")
	ErrTaskPanicked     = errors.New("task_panicked")
	ErrUnknownAgentType = errors.New("unknown_agent_type")
)
