package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/agent"
	"github.com/agentforge/core/pkg/config"
	"github.com/agentforge/core/pkg/registry"
	"golang.org/x/sync/errgroup"
)

// Dispatcher delivers a task to an already-selected agent and delivers a
// passive coordination notification, without the coordinator needing any
// opinion on whether that agent is local (a pkg/agent.Runtime reached
// directly) or remote (an RPC call). Grounded on the same
// injected-transport shape as pkg/registry.RemoteOps.
type Dispatcher interface {
	ExecuteTask(ctx context.Context, agentID string, spec agent.TaskSpec) (agent.TaskResult, error)
	Notify(ctx context.Context, agentID string, payload any) error
}

// Spawner creates a fresh agent on demand, used by delegate_task's
// auto-spawn option when no suitable agent is currently registered.
type Spawner interface {
	SpawnAgent(ctx context.Context, agentType string, requiredCaps []string) (agentID string, err error)
}

// Coordinator drives execute_workflow, delegate_task, and
// create_collaboration over a shared Dispatcher and Distributed Registry.
type Coordinator struct {
	registry   *registry.Registry
	dispatcher Dispatcher

	stepTimeout     time.Duration
	workflowTimeout time.Duration

	mu        sync.Mutex
	workflows map[string]*Workflow
	cancels   map[string]context.CancelFunc
}

// New constructs a Coordinator configured per cfg.
func New(reg *registry.Registry, dispatcher Dispatcher, cfg *config.WorkflowConfig) *Coordinator {
	return &Coordinator{
		registry:        reg,
		dispatcher:      dispatcher,
		stepTimeout:     cfg.StepTimeout,
		workflowTimeout: cfg.WorkflowTimeout,
		workflows:       make(map[string]*Workflow),
		cancels:         make(map[string]context.CancelFunc),
	}
}

// ExecuteWorkflow drives steps sequentially: for each, it confirms every
// dependency id already has a result, selects an agent via
// find_best_agent_for_task, dispatches the step, and stores the result at
// that step's index before advancing. A cancelled or timed-out context,
// a missing dependency, or a step failure halts the run and produces a
// terminal status without executing any further step.
func (c *Coordinator) ExecuteWorkflow(ctx context.Context, id string, steps []TaskSpec) Result {
	wf := &Workflow{ID: id, Steps: steps, Status: StatusRunning, Results: make(map[int]map[string]any), StartedAt: time.Now()}

	if err := validateDependencies(steps); err != nil {
		wf.Status, wf.Err = StatusFailed, err
		wf.FinishedAt = time.Now()
		return toResult(wf)
	}

	var wctx context.Context
	var cancel context.CancelFunc
	if c.workflowTimeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, c.workflowTimeout)
	} else {
		wctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	c.mu.Lock()
	c.workflows[id] = wf
	c.cancels[id] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, id)
		c.mu.Unlock()
	}()

	for _, step := range steps {
		select {
		case <-wctx.Done():
			wf.Status, wf.Err = StatusCancelled, wctx.Err()
			wf.FinishedAt = time.Now()
			return toResult(wf)
		default:
		}

		if err := c.runStep(wctx, wf, step); err != nil {
			wf.Status, wf.Err = StatusFailed, err
			wf.FinishedAt = time.Now()
			return toResult(wf)
		}
	}

	wf.Status = StatusCompleted
	wf.FinishedAt = time.Now()
	return toResult(wf)
}

func (c *Coordinator) runStep(ctx context.Context, wf *Workflow, step TaskSpec) error {
	for _, dep := range step.Dependencies {
		if _, ok := wf.Results[dep]; !ok {
			return fmt.Errorf("%w: step %d depends on unresolved step %d", ErrInvalidDependency, step.ID, dep)
		}
	}

	agentID, err := c.registry.FindBestAgentForTask(step.RequiredCapabilities, registry.TaskMeta{
		PreferredCapabilities: step.PreferredCapabilities,
		Specialisation:        step.Specialisation,
		Priority:              step.Priority,
	})
	if err != nil {
		return fmt.Errorf("selecting agent for step %d: %w", step.ID, err)
	}

	stepCtx := ctx
	var stepCancel context.CancelFunc
	if c.stepTimeout > 0 {
		stepCtx, stepCancel = context.WithTimeout(ctx, c.stepTimeout)
		defer stepCancel()
	}

	result, err := c.dispatcher.ExecuteTask(stepCtx, agentID, agent.TaskSpec{
		TaskID:  fmt.Sprintf("%s-%d", wf.ID, step.ID),
		Type:    step.Type,
		Payload: mergePayload(step.Payload, wf.Results),
	})
	if err != nil {
		return fmt.Errorf("step %d on agent %s: %w", step.ID, agentID, err)
	}
	if result.Error != nil {
		return fmt.Errorf("step %d on agent %s: %w", step.ID, agentID, result.Error)
	}

	wf.Results[step.ID] = result.Output
	return nil
}

// CancelWorkflow short-circuits any pending step of a running workflow by
// cancelling its context; the in-flight ExecuteWorkflow call observes this
// at its next step boundary and replies with StatusCancelled.
func (c *Coordinator) CancelWorkflow(id string) error {
	c.mu.Lock()
	cancel, ok := c.cancels[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	cancel()
	return nil
}

// GetWorkflow returns the tracked state for id.
func (c *Coordinator) GetWorkflow(id string) (*Workflow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wf, ok := c.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, nil
}

// DelegateOptions tunes delegate_task's retry and auto-spawn behavior.
type DelegateOptions struct {
	MaxRetries int
	AutoSpawn  bool
	AgentType  string
}

// DelegateTask is execute_workflow's single-step variant: select the best
// agent and call it, optionally retrying on failure and spawning a fresh
// agent when none currently satisfies the task's requirements.
func (c *Coordinator) DelegateTask(ctx context.Context, step TaskSpec, opts DelegateOptions, spawner Spawner) (agent.TaskResult, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		agentID, err := c.registry.FindBestAgentForTask(step.RequiredCapabilities, registry.TaskMeta{
			PreferredCapabilities: step.PreferredCapabilities,
			Specialisation:        step.Specialisation,
			Priority:              step.Priority,
		})
		if err != nil {
			if opts.AutoSpawn && spawner != nil {
				agentID, err = spawner.SpawnAgent(ctx, opts.AgentType, step.RequiredCapabilities)
			}
			if err != nil {
				lastErr = err
				continue
			}
		}

		result, err := c.dispatcher.ExecuteTask(ctx, agentID, agent.TaskSpec{
			TaskID:  fmt.Sprintf("delegate-%d", step.ID),
			Type:    step.Type,
			Payload: step.Payload,
		})
		if err == nil && result.Error == nil {
			return result, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = result.Error
		}
	}
	return agent.TaskResult{}, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// CreateCollaboration validates every member agent is alive, builds the
// passive shared-context record (returned to the caller; the coordinator
// does not keep it), and best-effort notifies each member.
// Notification failures are logged, not fatal: collaborations are passive
// context, not a scheduling guarantee.
func (c *Coordinator) CreateCollaboration(ctx context.Context, agentIDs []string, shared map[string]any) (*Collaboration, error) {
	for _, id := range agentIDs {
		if _, err := c.registry.Lookup(id); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotAlive, id)
		}
	}

	collab := &Collaboration{ID: fmt.Sprintf("collab-%d", time.Now().UnixNano()), AgentIDs: agentIDs, Context: shared, CreatedAt: time.Now()}

	var g errgroup.Group
	for _, id := range agentIDs {
		agentID := id
		g.Go(func() error {
			if err := c.dispatcher.Notify(ctx, agentID, collab); err != nil {
				slog.Warn("workflow: collaboration notify failed", "agent_id", agentID, "collaboration_id", collab.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return collab, nil
}

func validateDependencies(steps []TaskSpec) error {
	ids := make(map[int]struct{}, len(steps))
	for _, s := range steps {
		ids[s.ID] = struct{}{}
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("%w: step %d depends on unknown step %d", ErrInvalidDependency, s.ID, dep)
			}
		}
	}
	return nil
}

func mergePayload(payload map[string]any, results map[int]map[string]any) map[string]any {
	merged := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	merged["results"] = results
	return merged
}

func toResult(wf *Workflow) Result {
	return Result{
		WorkflowID: wf.ID,
		Status:     wf.Status,
		Results:    wf.Results,
		Duration:   wf.FinishedAt.Sub(wf.StartedAt),
		Err:        wf.Err,
	}
}
