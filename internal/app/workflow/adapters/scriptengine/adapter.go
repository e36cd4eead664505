// Package scriptengine implements an Adapter that executes a workflow's
// definition payload as a JavaScript function body inside an embedded goja
// runtime, with no network dependency.
package scriptengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"github.com/R3E-Network/service_layer/internal/app/workflow"
)

const defaultEntryPoint = "execute"

// Config configures one scriptengine adapter instance.
type Config struct {
	// EntryPoint names the JS function the workflow's definition must
	// expose; defaults to "execute".
	EntryPoint string
}

// Adapter runs workflow definitions as goja scripts. Each execution gets
// its own *goja.Runtime, so concurrent executions never share JS state.
type Adapter struct {
	engine     workflow.EngineType
	entryPoint string
}

// New builds a scriptengine Adapter identified by engine.
func New(engine workflow.EngineType, cfg Config) *Adapter {
	entry := cfg.EntryPoint
	if entry == "" {
		entry = defaultEntryPoint
	}
	return &Adapter{engine: engine, entryPoint: entry}
}

func (a *Adapter) EngineType() workflow.EngineType { return a.engine }

func (a *Adapter) ValidateWorkflow(ctx context.Context, wf workflow.WorkflowDefinition) (workflow.ValidationResult, error) {
	if len(wf.Definition) == 0 {
		return workflow.ValidationResult{IsValid: false, Errors: []workflow.ValidationIssue{
			{Field: "definition", Message: "script body is required", Code: "REQUIRED"},
		}}, nil
	}
	if _, err := goja.Compile("workflow.js", string(wf.Definition), false); err != nil {
		return workflow.ValidationResult{IsValid: false, Errors: []workflow.ValidationIssue{
			{Field: "definition", Message: fmt.Sprintf("script does not compile: %v", err), Code: "COMPILE_ERROR"},
		}}, nil
	}
	return workflow.ValidationResult{IsValid: true}, nil
}

// ExecuteWorkflow runs wf.Definition as a script body exposing a function
// named a.entryPoint(input), called with params marshaled to a plain JS
// object. A goroutine watches ctx/the cancellation token and calls
// vm.Interrupt to unwind the script if it runs past its deadline, mirroring
// the TEE script engine's timeout handling.
func (a *Adapter) ExecuteWorkflow(ctx context.Context, wf workflow.WorkflowDefinition, params workflow.Parameters) (workflow.ExecutionResult, error) {
	vm := goja.New()

	var logs []string
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			logs = append(logs, arg.String())
		}
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
	_ = vm.Set("input", vm.ToValue(map[string]any(params)))

	cancelled, _ := workflow.CancelTokenFromContext(ctx)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("deadline exceeded")
		case <-cancelled:
			vm.Interrupt("cancelled")
		case <-stop:
		}
	}()

	if _, err := vm.RunString(string(wf.Definition)); err != nil {
		return a.classifyErr(err)
	}

	entry, ok := goja.AssertFunction(vm.Get(a.entryPoint))
	if !ok {
		return workflow.ExecutionResult{}, workflow.NewError(workflow.ErrValidationFailed, fmt.Sprintf("entry point %q is not a function", a.entryPoint))
	}

	resultVal, err := entry(goja.Undefined(), vm.Get("input"))
	if err != nil {
		return a.classifyErr(err)
	}

	output := exportResult(resultVal)
	if len(logs) > 0 {
		if output == nil {
			output = make(map[string]any, 1)
		}
		output["_consoleLogs"] = logs
	}
	return workflow.ExecutionResult{State: workflow.StateCompleted, Result: output}, nil
}

func (a *Adapter) classifyErr(err error) (workflow.ExecutionResult, error) {
	if _, ok := err.(*goja.InterruptedError); ok {
		return workflow.ExecutionResult{
			State: workflow.StateFailed,
			Err:   workflow.NewError(workflow.ErrExecutionTimeout, "script execution was interrupted"),
		}, nil
	}
	return workflow.ExecutionResult{
		State: workflow.StateFailed,
		Err:   workflow.Wrap(workflow.ErrRemoteEngine, "script execution failed", err),
	}, nil
}

func exportResult(v goja.Value) map[string]any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	exported := v.Export()
	if m, ok := exported.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(exported)
	if err != nil {
		return map[string]any{"result": exported}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{"result": exported}
	}
	return out
}

func (a *Adapter) GetExecutionStatus(ctx context.Context, id string) (workflow.ExecutionResult, error) {
	// Scripts run synchronously to completion inside ExecuteWorkflow; there is
	// no separate remote state to poll.
	return workflow.ExecutionResult{}, workflow.NewError(workflow.ErrNotFound, "scriptengine executions have no out-of-band status")
}

func (a *Adapter) GetExecutionLogs(ctx context.Context, id string) ([]workflow.LogEntry, error) {
	return nil, nil
}

func (a *Adapter) CancelExecution(ctx context.Context, id string) (workflow.CancelResult, error) {
	// Cancellation for an in-flight script is delivered through the worker's
	// cancel token, observed inside ExecuteWorkflow; nothing further to do
	// out of band.
	return workflow.CancelResult{Success: true}, nil
}

func (a *Adapter) ConvertWorkflow(ctx context.Context, wf workflow.WorkflowDefinition, sourceEngine workflow.EngineType) (workflow.WorkflowDefinition, error) {
	return workflow.WorkflowDefinition{}, workflow.NewError(workflow.ErrUnsupportedConvert, "scriptengine does not support cross-engine conversion")
}

func (a *Adapter) TestConnection(ctx context.Context) bool { return true }

func (a *Adapter) GetCapabilities(ctx context.Context) workflow.Capabilities {
	return workflow.Capabilities{
		Version:           "scriptengine-1",
		SupportedFeatures: []string{"sandboxed-js"},
	}
}
