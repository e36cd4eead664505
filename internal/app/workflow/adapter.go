package workflow

import "context"

// ValidationResult is the pure, side-effect-free output of
// Adapter.ValidateWorkflow.
type ValidationResult struct {
	IsValid  bool
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// ValidationIssue is one structured validation finding.
type ValidationIssue struct {
	Field   string
	Message string
	Code    string
}

// ExecutionResult is what an adapter returns for a terminal (or
// point-in-time, for GetExecutionStatus) execution snapshot.
type ExecutionResult struct {
	State   State
	Result  map[string]any
	Err     *CoreError
	Metrics Metrics
}

// Capabilities describes what an adapter supports; callers may cache it.
type Capabilities struct {
	Version                string
	SupportedFeatures      []string
	MaxConcurrentExecutions int
	SupportedNodeTypes     []string
	CustomProperties       map[string]string
}

// CancelResult is the outcome of a best-effort cancel request.
type CancelResult struct {
	Success bool
	Message string
	Err     *CoreError
}

// Adapter is the capability bundle an engine integration implements. The
// core depends only on this contract; no knowledge of individual engines
// leaks into the core.
//
// Contract guarantees the core relies on: ExecuteWorkflow must not return a
// non-terminal state; CancelExecution must be idempotent; ValidateWorkflow
// must not touch remote state; adapters must be internally safe for
// concurrent GetExecutionStatus/GetExecutionLogs calls made while
// ExecuteWorkflow is still in flight for the same id.
type Adapter interface {
	// EngineType is the identifying enum value for this adapter.
	EngineType() EngineType

	// ValidateWorkflow is pure: it must not touch remote state.
	ValidateWorkflow(ctx context.Context, wf WorkflowDefinition) (ValidationResult, error)

	// ExecuteWorkflow starts execution and blocks until terminal. It must
	// honor cooperative cancellation delivered via ctx and must internally
	// poll the remote engine at a cadence of its own choosing.
	ExecuteWorkflow(ctx context.Context, wf WorkflowDefinition, params Parameters) (ExecutionResult, error)

	// GetExecutionStatus is a snapshot read; may be called concurrently with
	// ExecuteWorkflow for the same id.
	GetExecutionStatus(ctx context.Context, id string) (ExecutionResult, error)

	// GetExecutionLogs returns an ordered, finite, non-restartable log list,
	// sorted by timestamp ascending.
	GetExecutionLogs(ctx context.Context, id string) ([]LogEntry, error)

	// CancelExecution is best effort and must be idempotent. A success
	// return does not imply the remote engine has stopped.
	CancelExecution(ctx context.Context, id string) (CancelResult, error)

	// ConvertWorkflow is optional; adapters that don't support conversion
	// should fail with Kind=UNSUPPORTED_CONVERSION.
	ConvertWorkflow(ctx context.Context, wf WorkflowDefinition, sourceEngine EngineType) (WorkflowDefinition, error)

	// TestConnection is a cheap health probe.
	TestConnection(ctx context.Context) bool

	// GetCapabilities may be cached by callers.
	GetCapabilities(ctx context.Context) Capabilities
}

// TemplatingAdapter is an optional extension an Adapter may implement to opt
// into the facade's ${...} parameter-templating pre-processing pass
// (SPEC_FULL.md §3).
type TemplatingAdapter interface {
	SupportsTemplating() bool
}
