package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/pkg/logger"
)

// Facade is the stateless thin layer of spec §4.H: it resolves adapters,
// validates, fills defaults, and enqueues, but holds no state of its own
// beyond references to the service and scheduler it fronts.
type Facade struct {
	svc       *ExecutionService
	scheduler *CronScheduler
	bus       *EventBus
	log       *logger.Logger
	cfg       Config
	tracer    Tracer
}

// NewFacade builds a Facade in front of an already-constructed service and
// scheduler. Tracing defaults to a no-op; wire a real one with SetTracer.
func NewFacade(svc *ExecutionService, scheduler *CronScheduler, bus *EventBus, cfg Config, log *logger.Logger) *Facade {
	if log == nil {
		log = logger.NewDefault("workflow-facade")
	}
	return &Facade{svc: svc, scheduler: scheduler, bus: bus, cfg: cfg, log: log, tracer: noopTracer{}}
}

// SetTracer installs the Tracer the facade spans submissions with, and
// propagates the same tracer to the execution service so dispatch and
// worker runs share one tracer provider.
func (f *Facade) SetTracer(t Tracer) {
	if t == nil {
		t = noopTracer{}
	}
	f.tracer = t
	f.svc.SetTracer(t)
}

// SubmissionRequest is what callers hand the facade; unset fields are
// defaulted per spec §4.H.3.
type SubmissionRequest struct {
	Workflow   WorkflowDefinition
	EngineType EngineType
	Parameters Parameters
	Priority   *Priority
	Timeout    time.Duration
	MaxRetries *int

	// NodeOutputs holds prior nodes' result maps, keyed by node id, resolved
	// against any ${...} references in Parameters when the target adapter
	// opts into templating (SPEC_FULL.md §3).
	NodeOutputs map[string]any
}

// executeWorkflow resolves the adapter, validates, fills defaults, and
// enqueues, emitting executionStarted immediately on a successful enqueue
// (spec §4.H.4). It never enqueues on a validation or adapter-resolution
// failure.
func (f *Facade) executeWorkflow(ctx context.Context, req SubmissionRequest) (string, error) {
	ctx, finish := f.tracer.StartSpan(ctx, "workflow.submit", map[string]string{
		"workflow.id":     req.Workflow.ID,
		"workflow.engine": string(req.EngineType),
	})
	id, err := f.doExecuteWorkflow(ctx, req)
	finish(err)
	return id, err
}

func (f *Facade) doExecuteWorkflow(ctx context.Context, req SubmissionRequest) (string, error) {
	adapter, ok := f.svc.adapterFor(req.EngineType)
	if !ok {
		return "", NewError(ErrNoAdapterRegistered, "no adapter registered for engine type")
	}

	if err := req.Workflow.Validate(); err != nil {
		return "", err
	}
	result, err := adapter.ValidateWorkflow(ctx, req.Workflow)
	if err != nil {
		return "", err
	}
	if !result.IsValid {
		return "", &CoreError{Kind: ErrValidationFailed, Message: "adapter rejected workflow", Details: issuesToDetails(result.Errors)}
	}

	params := req.Parameters
	if ta, ok := adapter.(TemplatingAdapter); ok && ta.SupportsTemplating() {
		params = resolveTemplates(params, req.NodeOutputs)
	}

	priority := PriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.DefaultTimeout
	}
	maxRetries := f.cfg.FaultTol.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	execReq := &ExecutionRequest{
		ID:         uuid.NewString(),
		WorkflowID: req.Workflow.ID,
		Workflow:   req.Workflow,
		EngineType: req.EngineType,
		Parameters: params,
		Priority:   priority,
		CreatedAt:  time.Now(),
		Timeout:    timeout,
		MaxRetries: maxRetries,
	}

	id, err := f.svc.submitExecution(execReq)
	if err != nil {
		return "", err
	}

	f.bus.publish(Event{Kind: EventExecutionStarted, ExecutionID: id, At: time.Now()})
	return id, nil
}

func issuesToDetails(issues []ValidationIssue) map[string]string {
	if len(issues) == 0 {
		return nil
	}
	out := make(map[string]string, len(issues))
	for i, iss := range issues {
		out[iss.Field] = iss.Message
		_ = i
	}
	return out
}

// scheduleWorkflow registers a cron-triggered recurring submission, filling
// defaults the same way executeWorkflow does for an ad hoc submission. Since
// Priority's zero value is PriorityLow, an unset Priority defaults to
// PriorityNormal (spec §4.G.1) rather than silently becoming LOW.
func (f *Facade) scheduleWorkflow(sch *Schedule) error {
	if sch.ID == "" {
		sch.ID = uuid.NewString()
	}
	if sch.Priority == PriorityLow {
		sch.Priority = PriorityNormal
	}
	return f.scheduler.AddSchedule(sch)
}

// unscheduleWorkflow removes a previously registered schedule.
func (f *Facade) unscheduleWorkflow(scheduleID string) {
	f.scheduler.RemoveSchedule(scheduleID)
}

// cancelExecution delegates to the service's three-way cancellation
// semantics (spec §5).
func (f *Facade) cancelExecution(id string) error {
	return f.svc.cancelExecution(id)
}

// getExecutionStatus returns the live or terminal record for id.
func (f *Facade) getExecutionStatus(id string) (ExecutionRecord, error) {
	return f.svc.getExecutionStatus(id)
}

// getQueueStats exposes the priority queue's per-band snapshot.
func (f *Facade) getQueueStats() QueueSnapshot {
	return f.svc.queue.Snapshot()
}

// getSchedulerStats exposes every registered schedule's last/next fire time.
func (f *Facade) getSchedulerStats() []Schedule {
	return f.scheduler.Stats()
}

// start brings the execution service and cron scheduler up, in that order
// so the scheduler's first submissions always have a running dispatcher to
// receive them.
func (f *Facade) start(ctx context.Context) error {
	if err := f.svc.Start(ctx); err != nil {
		return err
	}
	return f.scheduler.Start(ctx)
}

// stop tears the scheduler down before the service, so no new cron-driven
// submissions race a draining queue.
func (f *Facade) stop(ctx context.Context) error {
	if err := f.scheduler.Stop(ctx); err != nil {
		return err
	}
	return f.svc.Stop(ctx)
}
