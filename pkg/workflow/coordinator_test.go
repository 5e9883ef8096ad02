package workflow_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agentforge/core/pkg/agent"
	"github.com/agentforge/core/pkg/config"
	"github.com/agentforge/core/pkg/registry"
	"github.com/agentforge/core/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	handle func(agentID string, spec agent.TaskSpec) (agent.TaskResult, error)
	notify func(agentID string, payload any) error
}

func (d *fakeDispatcher) ExecuteTask(ctx context.Context, agentID string, spec agent.TaskSpec) (agent.TaskResult, error) {
	return d.handle(agentID, spec)
}

func (d *fakeDispatcher) Notify(ctx context.Context, agentID string, payload any) error {
	if d.notify == nil {
		return nil
	}
	return d.notify(agentID, payload)
}

func cfg() *config.WorkflowConfig {
	return &config.WorkflowConfig{StepTimeout: time.Second, WorkflowTimeout: 5 * time.Second}
}

func TestCoordinator_ExecuteWorkflow_DependencyOrdering(t *testing.T) {
	reg := registry.New("node-a")
	reg.Register("analyser-1", registry.AgentMetadata{Type: "analyser", Capabilities: []string{"analyse"}})
	reg.Register("reporter-1", registry.AgentMetadata{Type: "reporter", Capabilities: []string{"report"}})

	dispatcher := &fakeDispatcher{handle: func(agentID string, spec agent.TaskSpec) (agent.TaskResult, error) {
		if agentID == "analyser-1" {
			return agent.TaskResult{TaskID: spec.TaskID, Output: map[string]any{"value": "A"}}, nil
		}
		results := spec.Payload["results"].(map[int]map[string]any)
		require.Equal(t, "A", results[0]["value"])
		return agent.TaskResult{TaskID: spec.TaskID, Output: map[string]any{"value": "B"}}, nil
	}}

	coord := workflow.New(reg, dispatcher, cfg())
	steps := []workflow.TaskSpec{
		{ID: 0, Type: "analyse", RequiredCapabilities: []string{"analyse"}},
		{ID: 1, Type: "report", Dependencies: []int{0}, RequiredCapabilities: []string{"report"}},
	}

	result := coord.ExecuteWorkflow(context.Background(), "wf-1", steps)
	require.NoError(t, result.Err)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, "A", result.Results[0]["value"])
	assert.Equal(t, "B", result.Results[1]["value"])
}

func TestCoordinator_ExecuteWorkflow_FailsOnNoSuitableAgent(t *testing.T) {
	reg := registry.New("node-a")
	dispatcher := &fakeDispatcher{handle: func(string, agent.TaskSpec) (agent.TaskResult, error) {
		t.Fatal("dispatcher should not be called when no agent matches")
		return agent.TaskResult{}, nil
	}}

	coord := workflow.New(reg, dispatcher, cfg())
	result := coord.ExecuteWorkflow(context.Background(), "wf-2", []workflow.TaskSpec{
		{ID: 0, Type: "analyse", RequiredCapabilities: []string{"analyse"}},
	})

	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, registry.ErrNoSuitableAgent)
}

func TestCoordinator_ExecuteWorkflow_RejectsUnknownDependency(t *testing.T) {
	reg := registry.New("node-a")
	coord := workflow.New(reg, &fakeDispatcher{}, cfg())

	result := coord.ExecuteWorkflow(context.Background(), "wf-3", []workflow.TaskSpec{
		{ID: 0, Type: "analyse", Dependencies: []int{99}},
	})

	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, workflow.ErrInvalidDependency)
}

func TestCoordinator_CancelWorkflow(t *testing.T) {
	reg := registry.New("node-a")
	reg.Register("a1", registry.AgentMetadata{Type: "worker", Capabilities: []string{"work"}})

	release := make(chan struct{})
	dispatcher := &fakeDispatcher{handle: func(agentID string, spec agent.TaskSpec) (agent.TaskResult, error) {
		<-release
		return agent.TaskResult{TaskID: spec.TaskID, Output: map[string]any{}}, nil
	}}

	coord := workflow.New(reg, dispatcher, cfg())
	steps := []workflow.TaskSpec{
		{ID: 0, Type: "work", RequiredCapabilities: []string{"work"}},
		{ID: 1, Type: "work", Dependencies: []int{0}, RequiredCapabilities: []string{"work"}},
	}

	done := make(chan workflow.Result, 1)
	go func() { done <- coord.ExecuteWorkflow(context.Background(), "wf-4", steps) }()

	require.Eventually(t, func() bool {
		_, err := coord.GetWorkflow("wf-4")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, coord.CancelWorkflow("wf-4"))
	close(release)

	result := <-done
	assert.Equal(t, workflow.StatusCancelled, result.Status)
}

func TestCoordinator_DelegateTask_RetriesThenSucceeds(t *testing.T) {
	reg := registry.New("node-a")
	reg.Register("a1", registry.AgentMetadata{Type: "worker", Capabilities: []string{"work"}})

	attempts := 0
	dispatcher := &fakeDispatcher{handle: func(agentID string, spec agent.TaskSpec) (agent.TaskResult, error) {
		attempts++
		if attempts < 2 {
			return agent.TaskResult{}, fmt.Errorf("transient failure")
		}
		return agent.TaskResult{TaskID: spec.TaskID, Output: map[string]any{"ok": true}}, nil
	}}

	coord := workflow.New(reg, dispatcher, cfg())
	result, err := coord.DelegateTask(context.Background(), workflow.TaskSpec{ID: 0, Type: "work", RequiredCapabilities: []string{"work"}}, workflow.DelegateOptions{MaxRetries: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result.Output["ok"])
	assert.Equal(t, 2, attempts)
}

func TestCoordinator_CreateCollaboration_ValidatesAgentsAlive(t *testing.T) {
	reg := registry.New("node-a")
	reg.Register("a1", registry.AgentMetadata{Type: "worker"})

	coord := workflow.New(reg, &fakeDispatcher{}, cfg())
	_, err := coord.CreateCollaboration(context.Background(), []string{"a1", "missing"}, map[string]any{"topic": "x"})
	assert.ErrorIs(t, err, workflow.ErrAgentNotAlive)
}

func TestCoordinator_CreateCollaboration_NotifiesMembers(t *testing.T) {
	reg := registry.New("node-a")
	reg.Register("a1", registry.AgentMetadata{Type: "worker"})
	reg.Register("a2", registry.AgentMetadata{Type: "worker"})

	notified := make(chan string, 2)
	dispatcher := &fakeDispatcher{notify: func(agentID string, payload any) error {
		notified <- agentID
		return nil
	}}

	coord := workflow.New(reg, dispatcher, cfg())
	collab, err := coord.CreateCollaboration(context.Background(), []string{"a1", "a2"}, map[string]any{"topic": "x"})
	require.NoError(t, err)
	assert.Len(t, collab.AgentIDs, 2)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[<-notified] = true
	}
	assert.True(t, seen["a1"] && seen["a2"])
}
