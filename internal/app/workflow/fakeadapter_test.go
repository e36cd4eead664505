package workflow

import (
	"context"
	"sync/atomic"
	"time"
)

// fakeAdapter is a minimal, configurable Adapter used by the core's own
// tests; it never touches the network, mirroring the teacher's approach of
// testing services against small in-process fakes rather than mocking
// frameworks.
type fakeAdapter struct {
	engine    EngineType
	execDelay time.Duration
	failWith  error
	calls     int64
}

func (f *fakeAdapter) EngineType() EngineType { return f.engine }

func (f *fakeAdapter) ValidateWorkflow(ctx context.Context, wf WorkflowDefinition) (ValidationResult, error) {
	return ValidationResult{IsValid: true}, nil
}

func (f *fakeAdapter) ExecuteWorkflow(ctx context.Context, wf WorkflowDefinition, params Parameters) (ExecutionResult, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.execDelay > 0 {
		cancelled, _ := CancelTokenFromContext(ctx)
		select {
		case <-time.After(f.execDelay):
		case <-ctx.Done():
			return ExecutionResult{}, ctx.Err()
		case <-cancelled:
			return ExecutionResult{}, NewError(ErrExecutionTimeout, "cancelled")
		}
	}
	if f.failWith != nil {
		return ExecutionResult{}, f.failWith
	}
	return ExecutionResult{State: StateCompleted, Result: map[string]any{"ok": true}}, nil
}

func (f *fakeAdapter) GetExecutionStatus(ctx context.Context, id string) (ExecutionResult, error) {
	return ExecutionResult{State: StateCompleted}, nil
}

func (f *fakeAdapter) GetExecutionLogs(ctx context.Context, id string) ([]LogEntry, error) {
	return nil, nil
}

func (f *fakeAdapter) CancelExecution(ctx context.Context, id string) (CancelResult, error) {
	return CancelResult{Success: true}, nil
}

func (f *fakeAdapter) ConvertWorkflow(ctx context.Context, wf WorkflowDefinition, sourceEngine EngineType) (WorkflowDefinition, error) {
	return WorkflowDefinition{}, NewError(ErrUnsupportedConvert, "fakeAdapter does not convert")
}

func (f *fakeAdapter) TestConnection(ctx context.Context) bool { return true }

func (f *fakeAdapter) GetCapabilities(ctx context.Context) Capabilities {
	return Capabilities{Version: "fake-1"}
}

func (f *fakeAdapter) callCount() int64 { return atomic.LoadInt64(&f.calls) }
