package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one periodic task the Scheduler drives: pkg/security.Kernel.Sweep,
// pkg/keymanager.Manager.Sweep, pkg/revocation.Cache.Sweep,
// pkg/audit.Logger.Flush, pkg/metrics.Collector.Sample, and
// Manager.CreateBackup all fit this shape once wrapped by the caller.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler is the single robfig/cron/v3 instance that owns every
// component's periodic housekeeping, so cadence and jitter are reasoned
// about in one place instead of a ticker goroutine per package. Every
// Job registered here corresponds to a method that, read in isolation,
// looks externally driven (no internal goroutine) — pkg/security,
// pkg/keymanager, and pkg/revocation's Sweep methods are written that way
// specifically so this package can own their cadence.
type Scheduler struct {
	cron *cron.Cron
	jobs []Job
}

// NewScheduler constructs an empty Scheduler. Use AddJob to register
// work before calling Start.
func NewScheduler() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// AddJob registers j to run every j.Interval once the scheduler starts.
// A job's errors are logged, never fatal: one missed sweep shouldn't take
// the process down.
func (s *Scheduler) AddJob(j Job) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", j.Interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.Interval)
		defer cancel()
		if err := j.Run(ctx); err != nil {
			slog.Warn("recovery: scheduled job failed", "job", j.Name, "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start begins running every registered job on its own cadence.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
