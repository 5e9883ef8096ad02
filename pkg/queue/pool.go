package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// poolRequest is one admitted-or-queued submission.
type poolRequest struct {
	pid   string
	task  Task
	reply chan Outcome
}

// Outcome is the result delivered back to a Submit caller.
type Outcome struct {
	Result Result
	Err    error
}

// worker tracks one currently running task for introspection and forced
// termination, mirroring the teacher's WorkerHealth table shape.
type worker struct {
	pid        string
	sessionID  string
	tool       string
	startedAt  time.Time
	cancel     context.CancelFunc
	terminated bool
}

// Pool is the bounded-concurrency FIFO agent pool from §4.8: at most
// maxConcurrent workers run at once; everything past that waits in a
// plain slice-backed FIFO queue until a slot frees up or the caller's
// bounded wait elapses.
type Pool struct {
	mu            sync.Mutex
	maxConcurrent int
	active        map[string]*worker
	pending       []*poolRequest

	seq       uint64
	completed uint64
	failed    uint64
}

// NewPool constructs a Pool with the given initial concurrency ceiling.
func NewPool(maxConcurrent int) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*worker),
	}
}

// Submit admits task to the pool. If every slot is taken, it waits in the
// FIFO queue for up to maxWait (no limit if maxWait <= 0) or until ctx is
// cancelled, whichever comes first.
func (p *Pool) Submit(ctx context.Context, task Task, maxWait time.Duration) (Result, error) {
	if task.Run == nil {
		return Result{}, ErrInvalidTask
	}

	req := &poolRequest{
		pid:   fmt.Sprintf("worker-%d", atomic.AddUint64(&p.seq, 1)),
		task:  task,
		reply: make(chan Outcome, 1),
	}

	p.mu.Lock()
	if len(p.active) < p.maxConcurrent {
		p.startLocked(req)
	} else {
		p.pending = append(p.pending, req)
	}
	p.mu.Unlock()

	var timeoutCh <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case outcome := <-req.reply:
		return outcome.Result, outcome.Err
	case <-timeoutCh:
		if p.removePending(req) {
			return Result{}, ErrQueueTimeout
		}
		outcome := <-req.reply
		return outcome.Result, outcome.Err
	case <-ctx.Done():
		if p.removePending(req) {
			return Result{}, ctx.Err()
		}
		outcome := <-req.reply
		return outcome.Result, outcome.Err
	}
}

// startLocked promotes req to an active worker. Caller must hold p.mu.
func (p *Pool) startLocked(req *poolRequest) {
	taskCtx, cancel := context.WithCancel(context.Background())
	w := &worker{
		pid:       req.pid,
		sessionID: req.task.SessionID,
		tool:      req.task.Tool,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	p.active[req.pid] = w
	go p.run(taskCtx, req, w)
}

func (p *Pool) run(ctx context.Context, req *poolRequest, w *worker) {
	result, err := p.safeRun(ctx, req.task)

	p.mu.Lock()
	terminated := w.terminated
	delete(p.active, req.pid)
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	next := p.dequeueLocked()
	if next != nil {
		p.startLocked(next)
	}
	p.mu.Unlock()

	if terminated && err != nil {
		err = ErrTerminatedByAdmin
	}

	req.reply <- Outcome{Result: result, Err: err}
}

func (p *Pool) safeRun(ctx context.Context, task Task) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerCrashed, r)
		}
	}()
	return task.Run(ctx)
}

// dequeueLocked pops the front of the pending queue. Caller must hold p.mu.
func (p *Pool) dequeueLocked() *poolRequest {
	if len(p.pending) == 0 {
		return nil
	}
	next := p.pending[0]
	p.pending = p.pending[1:]
	return next
}

func (p *Pool) removePending(req *poolRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pending := range p.pending {
		if pending == req {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return true
		}
	}
	return false
}

// ForceTerminate cancels the named worker's context, delivering
// ErrTerminatedByAdmin to its caller once the task observes cancellation.
// Returns false if pid is not currently active.
func (p *Pool) ForceTerminate(pid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.active[pid]
	if !ok {
		return false
	}
	w.terminated = true
	w.cancel()
	return true
}

// UpdateConfig changes the concurrency ceiling at runtime. Raising it
// immediately drains the pending queue up to the new limit.
func (p *Pool) UpdateConfig(maxConcurrent int) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxConcurrent = maxConcurrent
	for len(p.active) < p.maxConcurrent {
		next := p.dequeueLocked()
		if next == nil {
			break
		}
		p.startLocked(next)
	}
}

// Health returns a point-in-time snapshot of the pool's state.
func (p *Pool) Health() PoolHealth {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]WorkerHealth, 0, len(p.active))
	for _, w := range p.active {
		stats = append(stats, WorkerHealth{
			PID:       w.pid,
			SessionID: w.sessionID,
			Tool:      w.tool,
			StartedAt: w.startedAt,
		})
	}

	return PoolHealth{
		IsHealthy:     len(p.active) <= p.maxConcurrent,
		ActiveWorkers: len(p.active),
		MaxConcurrent: p.maxConcurrent,
		QueueDepth:    len(p.pending),
		Completed:     p.completed,
		Failed:        p.failed,
		WorkerStats:   stats,
	}
}

// Stop cancels every active worker and drops anything still queued with
// ErrTerminatedByAdmin. Intended for process shutdown.
func (p *Pool) Stop() {
	p.mu.Lock()
	for _, w := range p.active {
		w.terminated = true
		w.cancel()
	}
	for _, req := range p.pending {
		req.reply <- Outcome{Err: ErrTerminatedByAdmin}
	}
	p.pending = nil
	p.mu.Unlock()

	slog.Info("agent pool stopped")
}
