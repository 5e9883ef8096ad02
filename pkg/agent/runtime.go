package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentforge/core/pkg/eventbus"
)

type executeTaskMsg struct {
	spec  TaskSpec
	reply chan TaskResult
}

type getStatusMsg struct {
	reply chan Info
}

type sendMessageMsg struct {
	target  string
	payload any
}

type receiveMessageMsg struct {
	from    string
	payload any
}

type coordinationMsg struct {
	payload any
}

type shutdownMsg struct {
	reason string
}

// Runtime is the actor wrapping a Contract: it owns the mailbox, the
// lifecycle state, and the active-task bookkeeping, and dispatches every
// inbound message type from §4.6's contract (execute_task, get_status,
// send_message, receive_message, coordination, shutdown).
type Runtime struct {
	id        string
	agentType string
	contract  Contract
	restart   RestartPolicy
	bus       eventbus.EventBus
	router    Router
	isFatal   func(error) bool

	inbox  chan any
	done   chan struct{}
	taskSeq uint64

	sendMu  sync.Mutex
	stopped bool

	mu              sync.RWMutex
	state           any
	status          Status
	activeTasks     map[string]struct{}
	cancels         map[string]context.CancelFunc
	terminationCause string
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithRestartPolicy overrides the default restart policy (Temporary).
func WithRestartPolicy(p RestartPolicy) Option {
	return func(r *Runtime) { r.restart = p }
}

// WithRouter injects the send_message delivery mechanism.
func WithRouter(router Router) Option {
	return func(r *Runtime) { r.router = router }
}

// WithFatalErrorCheck configures which ExecuteTask errors should stop the
// agent outright instead of merely failing the task.
func WithFatalErrorCheck(f func(error) bool) Option {
	return func(r *Runtime) { r.isFatal = f }
}

// New constructs a Runtime around contract. Call Start to bring it up.
func New(id, agentType string, contract Contract, bus eventbus.EventBus, opts ...Option) *Runtime {
	r := &Runtime{
		id:          id,
		agentType:   agentType,
		contract:    contract,
		bus:         bus,
		restart:     RestartTemporary,
		status:      StatusIdle,
		inbox:       make(chan any, 32),
		done:        make(chan struct{}),
		activeTasks: make(map[string]struct{}),
		cancels:     make(map[string]context.CancelFunc),
		isFatal:     func(error) bool { return false },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the agent's identifier.
func (r *Runtime) ID() string { return r.id }

// RestartPolicy returns the configured restart policy.
func (r *Runtime) RestartPolicy() RestartPolicy { return r.restart }

// Start runs InitState, then begins the mailbox loop.
func (r *Runtime) Start(ctx context.Context, deps any) error {
	state, err := r.contract.InitState(ctx, r.id, deps)
	if err != nil {
		return fmt.Errorf("initializing agent %s: %w", r.id, err)
	}

	r.mu.Lock()
	r.state = state
	r.status = StatusReady
	r.mu.Unlock()

	go r.run()
	r.publish(EventAgentStarted, AgentEventPayload{AgentID: r.id, Type: r.agentType})
	return nil
}

func (r *Runtime) run() {
	for msg := range r.inbox {
		switch m := msg.(type) {
		case executeTaskMsg:
			r.handleExecuteTask(m)
		case getStatusMsg:
			m.reply <- r.Info()
		case sendMessageMsg:
			r.handleSendMessage(m)
		case receiveMessageMsg:
			r.handleReceiveMessage(m)
		case coordinationMsg:
			r.handleCoordination(m)
		case shutdownMsg:
			r.handleShutdown(m)
		}
	}
	close(r.done)
}

func (r *Runtime) enqueue(msg any) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.stopped {
		return ErrAgentStopped
	}
	r.inbox <- msg
	return nil
}

// ExecuteTask enqueues a task and blocks until the runtime replies or ctx
// is cancelled. Execution itself happens off the mailbox goroutine so the
// agent can still answer GetStatus while busy.
func (r *Runtime) ExecuteTask(ctx context.Context, spec TaskSpec) (TaskResult, error) {
	reply := make(chan TaskResult, 1)
	if err := r.enqueue(executeTaskMsg{spec: spec, reply: reply}); err != nil {
		return TaskResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	}
}

// GetStatus returns the agent's current status and metadata.
func (r *Runtime) GetStatus() Info {
	reply := make(chan Info, 1)
	if err := r.enqueue(getStatusMsg{reply: reply}); err != nil {
		info := r.contract.Info()
		info.Status = StatusStopped
		return info
	}
	return <-reply
}

// SendMessage routes payload to targetAgentID via the configured Router.
func (r *Runtime) SendMessage(target string, payload any) error {
	return r.enqueue(sendMessageMsg{target: target, payload: payload})
}

// ReceiveMessage delivers a message from another agent into this agent's
// mailbox.
func (r *Runtime) ReceiveMessage(from string, payload any) error {
	return r.enqueue(receiveMessageMsg{from: from, payload: payload})
}

// Coordinate delivers a collaboration-context message into the mailbox.
func (r *Runtime) Coordinate(payload any) error {
	return r.enqueue(coordinationMsg{payload: payload})
}

// Shutdown stops accepting new messages, drains the mailbox of what's
// already queued, and waits for the run loop to exit.
func (r *Runtime) Shutdown(reason string) {
	r.sendMu.Lock()
	if r.stopped {
		r.sendMu.Unlock()
		return
	}
	r.stopped = true
	r.inbox <- shutdownMsg{reason: reason}
	close(r.inbox)
	r.sendMu.Unlock()
	<-r.done
}

// CancelTask signals cooperative cancellation to an in-flight task. Returns
// false if no such task is active.
func (r *Runtime) CancelTask(taskID string) bool {
	r.mu.RLock()
	cancel, ok := r.cancels[taskID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Info returns a synchronous snapshot of the agent's metadata and status.
// Safe to call from any goroutine; unlike GetStatus it does not round-trip
// through the mailbox.
func (r *Runtime) Info() Info {
	info := r.contract.Info()
	r.mu.RLock()
	info.Status = r.status
	r.mu.RUnlock()
	if info.AgentID == "" {
		info.AgentID = r.id
	}
	if info.Type == "" {
		info.Type = r.agentType
	}
	if info.Capabilities == nil {
		info.Capabilities = r.contract.Capabilities()
	}
	return info
}

func (r *Runtime) handleExecuteTask(m executeTaskMsg) {
	if !r.contract.CanHandle(m.spec) {
		m.reply <- TaskResult{TaskID: m.spec.TaskID, Error: fmt.Errorf("%w: type %s", ErrCannotHandle, m.spec.Type)}
		return
	}

	taskID := m.spec.TaskID
	if taskID == "" {
		taskID = fmt.Sprintf("%s-%d", r.id, atomic.AddUint64(&r.taskSeq, 1))
		m.spec.TaskID = taskID
	}

	r.mu.Lock()
	r.activeTasks[taskID] = struct{}{}
	r.status = StatusBusy
	r.mu.Unlock()

	r.publish(EventTaskStarted, TaskEventPayload{AgentID: r.id, TaskID: taskID, Type: m.spec.Type})

	go r.runTask(taskID, m.spec, m.reply)
}

func (r *Runtime) runTask(taskID string, spec TaskSpec, reply chan TaskResult) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = withProgressReporter(ctx, r)

	r.mu.Lock()
	r.cancels[taskID] = cancel
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, taskID)
		delete(r.activeTasks, taskID)
		if len(r.activeTasks) == 0 {
			r.status = StatusReady
		}
		r.mu.Unlock()
	}()

	result, err := r.safeExecute(ctx, spec)
	if err != nil {
		result.TaskID = taskID
		result.Error = err
		if errors.Is(err, context.Canceled) {
			r.publish(EventTaskCancelled, TaskEventPayload{AgentID: r.id, TaskID: taskID})
		} else {
			r.publish(EventTaskFailed, TaskEventPayload{AgentID: r.id, TaskID: taskID, Error: err.Error()})
		}
	} else {
		result.TaskID = taskID
		r.publish(EventTaskCompleted, TaskEventPayload{AgentID: r.id, TaskID: taskID})
	}

	if reply != nil {
		reply <- result
	}

	if err != nil && r.isFatal(err) {
		slog.Warn("agent runtime: fatal task error, stopping agent", "agent_id", r.id, "task_id", taskID, "error", err)
		go r.Shutdown("fatal_task_error")
	}
}

func (r *Runtime) safeExecute(ctx context.Context, spec TaskSpec) (result TaskResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, p)
		}
	}()
	return r.contract.ExecuteTask(ctx, spec, r.currentState())
}

func (r *Runtime) currentState() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runtime) handleSendMessage(m sendMessageMsg) {
	if r.router == nil {
		slog.Warn("agent runtime: send_message with no router configured", "agent_id", r.id, "target", m.target)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.router.Deliver(ctx, m.target, r.id, m.payload); err != nil {
		slog.Warn("agent runtime: send_message delivery failed", "agent_id", r.id, "target", m.target, "error", err)
	}
}

func (r *Runtime) handleReceiveMessage(m receiveMessageMsg) {
	handler, ok := r.contract.(MessageHandler)
	if !ok {
		slog.Debug("agent runtime: dropping receive_message, contract has no handler", "agent_id", r.id, "from", m.from)
		return
	}
	handler.ReceiveMessage(context.Background(), m.from, m.payload)
}

func (r *Runtime) handleCoordination(m coordinationMsg) {
	handler, ok := r.contract.(CoordinationHandler)
	if !ok {
		return
	}
	handler.Coordination(context.Background(), m.payload)
}

func (r *Runtime) handleShutdown(m shutdownMsg) {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.status = StatusStopped
	r.terminationCause = m.reason
	r.mu.Unlock()

	r.publish(EventAgentStopped, AgentEventPayload{AgentID: r.id, Type: r.agentType, Reason: m.reason})
}

// Done returns a channel closed once the runtime's mailbox loop has
// exited, letting a monitor (e.g. the session manager) observe
// termination without polling Info().
func (r *Runtime) Done() <-chan struct{} { return r.done }

// TerminationCause returns the reason passed to the Shutdown call that
// stopped this runtime, or "" if it is still running or exited without a
// Shutdown call. A fatal task error stops the runtime through
// Shutdown("fatal_task_error"), so that reason is returned in that case.
func (r *Runtime) TerminationCause() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.terminationCause
}

// ReportProgress implements ProgressReporter, called from within an
// ExecuteTask implementation via the context helper.
func (r *Runtime) ReportProgress(taskID string, percent int, message string) {
	r.publish(EventTaskProgress, TaskEventPayload{AgentID: r.id, TaskID: taskID, Percent: percent, Message: message})
}

func (r *Runtime) publish(eventType string, payload any) {
	if r.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(eventbus.AgentTopic(r.id), map[string]string{"event_type": eventType}, payload)
	if err != nil {
		slog.Warn("agent runtime: failed to build event", "agent_id", r.id, "event_type", eventType, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.bus.Publish(ctx, eventbus.AgentTopic(r.id), event); err != nil {
		slog.Warn("agent runtime: publish failed", "agent_id", r.id, "event_type", eventType, "error", err)
	}
}
