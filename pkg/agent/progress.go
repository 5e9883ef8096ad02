package agent

import "context"

type progressReporterKey struct{}

func withProgressReporter(ctx context.Context, r ProgressReporter) context.Context {
	return context.WithValue(ctx, progressReporterKey{}, r)
}

// ReportProgress emits a task.progress event if ctx was produced by a
// Runtime's ExecuteTask call; it is a no-op otherwise, so Contract
// implementations can call it unconditionally in tests.
func ReportProgress(ctx context.Context, taskID string, percent int, message string) {
	if r, ok := ctx.Value(progressReporterKey{}).(ProgressReporter); ok {
		r.ReportProgress(taskID, percent, message)
	}
}
