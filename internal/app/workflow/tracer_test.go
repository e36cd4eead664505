package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingTracer struct {
	started []string
	errs    []error
}

func (r *recordingTracer) StartSpan(ctx context.Context, name string, _ map[string]string) (context.Context, func(error)) {
	r.started = append(r.started, name)
	return ctx, func(err error) { r.errs = append(r.errs, err) }
}

func TestNoopTracer_StartSpanIsInert(t *testing.T) {
	var tr Tracer = noopTracer{}
	ctx, finish := tr.StartSpan(context.Background(), "op", map[string]string{"k": "v"})
	if ctx == nil {
		t.Fatal("expected a non-nil context back")
	}
	finish(errors.New("boom")) // must not panic
}

func TestFacade_ExecuteWorkflowSpansThroughInstalledTracer(t *testing.T) {
	adapter := &fakeAdapter{engine: "fake"}
	f := newTestFacade(t, adapter)

	rec := &recordingTracer{}
	f.SetTracer(rec)

	req := SubmissionRequest{Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "fake"}
	id, err := f.executeWorkflow(context.Background(), req)
	if err != nil {
		t.Fatalf("executeWorkflow: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty execution id")
	}

	waitForTerminal(t, f.svc, id, 2*time.Second)

	if len(rec.started) == 0 || rec.started[0] != "workflow.submit" {
		t.Fatalf("expected a workflow.submit span, got %#v", rec.started)
	}

	foundDispatch := false
	for _, name := range rec.started {
		if name == "workflow.dispatch" {
			foundDispatch = true
		}
	}
	if !foundDispatch {
		t.Fatalf("expected SetTracer to propagate to the execution service's workers, got %#v", rec.started)
	}
}
