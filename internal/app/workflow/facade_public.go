package workflow

import "context"

// The methods below are the Facade's exported surface for callers outside
// this package (cmd/orchestrator, any future HTTP/RPC layer); they forward
// to the unexported methods the package's own tests exercise directly.

// Start brings the facade's execution service and cron scheduler up.
func (f *Facade) Start(ctx context.Context) error { return f.start(ctx) }

// Stop tears the facade down, scheduler first.
func (f *Facade) Stop(ctx context.Context) error { return f.stop(ctx) }

// ExecuteWorkflow submits a one-off execution.
func (f *Facade) ExecuteWorkflow(ctx context.Context, req SubmissionRequest) (string, error) {
	return f.executeWorkflow(ctx, req)
}

// ScheduleWorkflow registers a cron-triggered recurring submission.
func (f *Facade) ScheduleWorkflow(sch *Schedule) error { return f.scheduleWorkflow(sch) }

// UnscheduleWorkflow removes a previously registered schedule.
func (f *Facade) UnscheduleWorkflow(scheduleID string) { f.unscheduleWorkflow(scheduleID) }

// CancelExecution requests cancellation of a pending or running execution.
func (f *Facade) CancelExecution(id string) error { return f.cancelExecution(id) }

// GetExecutionStatus returns the live or terminal record for id.
func (f *Facade) GetExecutionStatus(id string) (ExecutionRecord, error) {
	return f.getExecutionStatus(id)
}

// GetQueueStats exposes the priority queue's per-band snapshot.
func (f *Facade) GetQueueStats() QueueSnapshot { return f.getQueueStats() }

// GetSchedulerStats exposes every registered schedule's last/next fire time.
func (f *Facade) GetSchedulerStats() []Schedule { return f.getSchedulerStats() }

// GetWorkersStatus exposes a point-in-time snapshot of every worker.
func (f *Facade) GetWorkersStatus() []WorkerSnapshot { return f.svc.getWorkersStatus() }

// GetExecutionMetrics exposes the aggregate metrics snapshot spec §4.F.6
// describes.
func (f *Facade) GetExecutionMetrics() MetricsSnapshot { return f.svc.getExecutionMetrics() }
