// Package queue implements the bounded-concurrency agent pool: at most
// max_concurrent workers run at once, excess submissions wait in a FIFO
// queue, generalized from the teacher's pkg/queue polling-worker pool
// (Postgres-backed, ent-queried) to an in-memory, channel-admitted queue
// with no database underneath.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueTimeout is returned when a queued submission's bounded wait
	// elapses before a worker slot opens up.
	ErrQueueTimeout = errors.New("queue_timeout")

	// ErrWorkerCrashed wraps a panic recovered from a worker's task.
	ErrWorkerCrashed = errors.New("worker_crashed")

	// ErrTerminatedByAdmin is returned to a caller whose worker was
	// force-terminated via Pool.ForceTerminate.
	ErrTerminatedByAdmin = errors.New("terminated_by_admin")

	// ErrInvalidTask is returned immediately, without consuming a worker
	// slot, when a submitted Task has no Run function.
	ErrInvalidTask = errors.New("invalid_task")
)

// TaskFunc is the unit of work a worker executes.
type TaskFunc func(ctx context.Context) (Result, error)

// Task describes one unit of work admitted to the pool.
type Task struct {
	SessionID string
	Tool      string
	Run       TaskFunc
}

// Result is what a worker produces on success.
type Result struct {
	Output map[string]any
}

// PoolHealth is a point-in-time snapshot of the pool.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	ActiveWorkers int            `json:"active_workers"`
	MaxConcurrent int            `json:"max_concurrent"`
	QueueDepth    int            `json:"queue_depth"`
	Completed     uint64         `json:"completed"`
	Failed        uint64         `json:"failed"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth describes one currently active worker.
type WorkerHealth struct {
	PID       string    `json:"pid"`
	SessionID string    `json:"session_id"`
	Tool      string    `json:"tool"`
	StartedAt time.Time `json:"started_at"`
}
