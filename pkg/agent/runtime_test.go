package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentforge/core/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContract struct {
	caps     []string
	execFn   func(ctx context.Context, spec TaskSpec, state any) (TaskResult, error)
	received chan receivedMsg
	coord    chan any
}

type receivedMsg struct {
	from    string
	payload any
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		caps:     []string{"build"},
		received: make(chan receivedMsg, 4),
		coord:    make(chan any, 4),
	}
}

func (f *fakeContract) InitState(ctx context.Context, agentID string, deps any) (any, error) {
	return map[string]int{"calls": 0}, nil
}

func (f *fakeContract) Capabilities() []string { return f.caps }

func (f *fakeContract) CanHandle(spec TaskSpec) bool {
	for _, c := range f.caps {
		if c == spec.Type {
			return true
		}
	}
	return false
}

func (f *fakeContract) ExecuteTask(ctx context.Context, spec TaskSpec, state any) (TaskResult, error) {
	if f.execFn != nil {
		return f.execFn(ctx, spec, state)
	}
	return TaskResult{Output: map[string]any{"ok": true}}, nil
}

func (f *fakeContract) Info() Info {
	return Info{Type: "fake", Capabilities: f.caps}
}

func (f *fakeContract) ReceiveMessage(ctx context.Context, from string, payload any) {
	f.received <- receivedMsg{from: from, payload: payload}
}

func (f *fakeContract) Coordination(ctx context.Context, payload any) {
	f.coord <- payload
}

func startedRuntime(t *testing.T, contract Contract, opts ...Option) (*Runtime, eventbus.EventBus) {
	t.Helper()
	bus := eventbus.NewLocalEventBus()
	t.Cleanup(func() { bus.Close() })
	r := New("agent-1", "fake", contract, bus, opts...)
	require.NoError(t, r.Start(context.Background(), nil))
	t.Cleanup(func() { r.Shutdown("test_cleanup") })
	return r, bus
}

func TestRuntime_ExecuteTaskReturnsResult(t *testing.T) {
	r, _ := startedRuntime(t, newFakeContract())
	result, err := r.ExecuteTask(context.Background(), TaskSpec{Type: "build"})
	require.NoError(t, err)
	assert.NoError(t, result.Error)
	assert.Equal(t, true, result.Output["ok"])
	assert.NotEmpty(t, result.TaskID)
}

func TestRuntime_CanHandleRejectsUnknownType(t *testing.T) {
	r, _ := startedRuntime(t, newFakeContract())
	result, err := r.ExecuteTask(context.Background(), TaskSpec{Type: "deploy"})
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, ErrCannotHandle)
}

func TestRuntime_StatusTransitionsBusyThenReady(t *testing.T) {
	contract := newFakeContract()
	gate := make(chan struct{})
	contract.execFn = func(ctx context.Context, spec TaskSpec, state any) (TaskResult, error) {
		<-gate
		return TaskResult{}, nil
	}
	r, _ := startedRuntime(t, contract)

	reply := make(chan TaskResult, 1)
	go func() {
		res, _ := r.ExecuteTask(context.Background(), TaskSpec{Type: "build"})
		reply <- res
	}()

	require.Eventually(t, func() bool {
		return r.GetStatus().Status == StatusBusy
	}, time.Second, 5*time.Millisecond)

	close(gate)
	<-reply

	assert.Equal(t, StatusReady, r.GetStatus().Status)
}

func TestRuntime_TaskPanicIsCapturedNotCrashed(t *testing.T) {
	contract := newFakeContract()
	contract.execFn = func(ctx context.Context, spec TaskSpec, state any) (TaskResult, error) {
		panic("boom")
	}
	r, _ := startedRuntime(t, contract)

	result, err := r.ExecuteTask(context.Background(), TaskSpec{Type: "build"})
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, ErrTaskPanicked)
	assert.Equal(t, StatusReady, r.GetStatus().Status)
}

func TestRuntime_CancelTaskAbortsCooperatively(t *testing.T) {
	contract := newFakeContract()
	contract.execFn = func(ctx context.Context, spec TaskSpec, state any) (TaskResult, error) {
		<-ctx.Done()
		return TaskResult{}, ctx.Err()
	}
	r, _ := startedRuntime(t, contract)

	reply := make(chan TaskResult, 1)
	go func() {
		res, _ := r.ExecuteTask(context.Background(), TaskSpec{TaskID: "t-1", Type: "build"})
		reply <- res
	}()

	require.Eventually(t, func() bool {
		return r.GetStatus().Status == StatusBusy
	}, time.Second, 5*time.Millisecond)

	assert.True(t, r.CancelTask("t-1"))
	result := <-reply
	assert.True(t, errors.Is(result.Error, context.Canceled))
}

func TestRuntime_ReceiveMessageDispatchesToHandler(t *testing.T) {
	contract := newFakeContract()
	r, _ := startedRuntime(t, contract)

	require.NoError(t, r.ReceiveMessage("agent-2", "hello"))

	select {
	case msg := <-contract.received:
		assert.Equal(t, "agent-2", msg.from)
		assert.Equal(t, "hello", msg.payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for receive_message dispatch")
	}
}

func TestRuntime_ShutdownRejectsFurtherMessages(t *testing.T) {
	r, _ := startedRuntime(t, newFakeContract())
	r.Shutdown("test_done")

	_, err := r.ExecuteTask(context.Background(), TaskSpec{Type: "build"})
	assert.ErrorIs(t, err, ErrAgentStopped)
}

func TestRegistry_BuildUnknownType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Build("missing", "agent-1", eventbus.NewLocalEventBus())
	assert.ErrorIs(t, err, ErrUnknownAgentType)
}

func TestRegistry_BuildAppliesRestartPolicy(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", RestartPermanent, func(id string) Contract { return newFakeContract() })

	r, err := reg.Build("fake", "agent-1", eventbus.NewLocalEventBus())
	require.NoError(t, err)
	assert.Equal(t, RestartPermanent, r.RestartPolicy())
}
