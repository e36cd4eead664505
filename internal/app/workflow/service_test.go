package workflow

import (
	"context"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := Defaults()
	cfg.Scaling.MinWorkers = 2
	cfg.Scaling.MaxWorkers = 4
	cfg.DefaultTimeout = 10 * time.Second
	cfg.HeartbeatStaleAfter = 200 * time.Millisecond
	cfg.Queue.ProcessingInterval = 5 * time.Millisecond
	cfg.Scaling.WorkerStartupTime = 0
	return cfg
}

func newTestService(t *testing.T, adapter Adapter) *ExecutionService {
	t.Helper()
	bus := NewEventBus(32)
	svc := NewExecutionService(testConfig(), bus, nil)
	svc.RegisterAdapter(adapter)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc
}

func waitForTerminal(t *testing.T, svc *ExecutionService, id string, timeout time.Duration) ExecutionRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, err := svc.getExecutionResult(id)
		if err == nil {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach a terminal state within %s", id, timeout)
	return ExecutionRecord{}
}

func TestService_HappyPath(t *testing.T) {
	adapter := &fakeAdapter{engine: "fake", execDelay: 50 * time.Millisecond}
	svc := newTestService(t, adapter)

	var ids []string
	for i := 0; i < 5; i++ {
		req := &ExecutionRequest{ID: uniqueID(i), Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "fake", Priority: PriorityNormal, Timeout: 5 * time.Second, MaxRetries: 2}
		id, err := svc.submitExecution(req)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		rec := waitForTerminal(t, svc, id, 2*time.Second)
		if rec.State != StateCompleted {
			t.Fatalf("expected COMPLETED, got %s (err=%v)", rec.State, rec.Err)
		}
	}

	m := svc.getExecutionMetrics()
	if m.TotalExecutions != 5 || m.SuccessfulExecutions != 5 || m.FailedExecutions != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if m.ErrorRate != 0 {
		t.Fatalf("expected zero error rate, got %f", m.ErrorRate)
	}
}

func TestService_RetriableFailureExhaustsAndFails(t *testing.T) {
	adapter := &fakeAdapter{engine: "fake", failWith: Wrap(ErrNetwork, "connection reset", nil)}
	svc := newTestService(t, adapter)

	req := &ExecutionRequest{ID: "r1", Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "fake", Timeout: 5 * time.Second, MaxRetries: 2}
	id, err := svc.submitExecution(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec := waitForTerminal(t, svc, id, 3*time.Second)
	if rec.State != StateFailed {
		t.Fatalf("expected FAILED, got %s", rec.State)
	}
	if !IsKind(rec.Err, ErrRetriesExhausted) {
		t.Fatalf("expected RETRIES_EXHAUSTED, got %v", rec.Err)
	}
	if adapter.callCount() != 3 {
		t.Fatalf("expected 3 adapter calls (1 + 2 retries), got %d", adapter.callCount())
	}
}

func TestService_NonRetriableFailurePropagatesKind(t *testing.T) {
	adapter := &fakeAdapter{engine: "fake", failWith: NewError(ErrValidationFailed, "bad params")}
	svc := newTestService(t, adapter)

	req := &ExecutionRequest{ID: "r2", Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "fake", Timeout: 5 * time.Second, MaxRetries: 3}
	id, err := svc.submitExecution(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec := waitForTerminal(t, svc, id, 2*time.Second)
	if rec.State != StateFailed || !IsKind(rec.Err, ErrValidationFailed) {
		t.Fatalf("expected FAILED/VALIDATION_FAILED, got %s %v", rec.State, rec.Err)
	}
	if adapter.callCount() != 1 {
		t.Fatalf("expected exactly 1 adapter call for a non-retriable error, got %d", adapter.callCount())
	}
}

func TestService_NoAdapterRegistered(t *testing.T) {
	svc := newTestService(t, &fakeAdapter{engine: "fake"})

	req := &ExecutionRequest{ID: "r3", Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "other", Timeout: time.Second, MaxRetries: 0}
	id, err := svc.submitExecution(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec := waitForTerminal(t, svc, id, time.Second)
	if !IsKind(rec.Err, ErrNoAdapterRegistered) {
		t.Fatalf("expected NO_ADAPTER_REGISTERED, got %v", rec.Err)
	}
}

func TestService_HandleExecutorFailureReenqueues(t *testing.T) {
	adapter := &fakeAdapter{engine: "fake", execDelay: 300 * time.Millisecond}
	svc := newTestService(t, adapter)

	req := &ExecutionRequest{ID: "r4", Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "fake", Timeout: 5 * time.Second, MaxRetries: 2}
	id, err := svc.submitExecution(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var ownerID string
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, snap := range svc.getWorkersStatus() {
			if snap.Status == WorkerBusy {
				ownerID = snap.ID
			}
		}
		if ownerID != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ownerID == "" {
		t.Fatal("no worker picked up the execution in time")
	}

	if err := svc.handleExecutorFailure(ownerID); err != nil {
		t.Fatalf("handleExecutorFailure: %v", err)
	}

	rec := waitForTerminal(t, svc, id, 3*time.Second)
	if rec.State != StateCompleted {
		t.Fatalf("expected the re-enqueued execution to eventually complete, got %s", rec.State)
	}
	if rec.RetryCount < 1 {
		t.Fatalf("expected retryCount to reflect the re-enqueue, got %d", rec.RetryCount)
	}
}

func TestService_CancelQueuedExecution(t *testing.T) {
	adapter := &fakeAdapter{engine: "fake", execDelay: time.Second}
	svc := newTestService(t, adapter)

	// Saturate both workers so the next submission stays queued.
	for i := 0; i < 2; i++ {
		req := &ExecutionRequest{ID: uniqueID(100 + i), Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "fake", Timeout: 5 * time.Second}
		if _, err := svc.submitExecution(req); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	time.Sleep(20 * time.Millisecond)

	req := &ExecutionRequest{ID: "queued-1", Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "fake", Timeout: 5 * time.Second}
	id, err := svc.submitExecution(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := svc.cancelExecution(id); err != nil {
		t.Fatalf("cancelExecution: %v", err)
	}

	rec := waitForTerminal(t, svc, id, 2*time.Second)
	if rec.State != StateCancelled {
		t.Fatalf("expected CANCELLED, got %s", rec.State)
	}
}

func TestService_StopDrainsQueuedAsShutdownNotCancelled(t *testing.T) {
	adapter := &fakeAdapter{engine: "fake", execDelay: time.Second}
	svc := newTestService(t, adapter)

	for i := 0; i < 2; i++ {
		req := &ExecutionRequest{ID: uniqueID(200 + i), Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "fake", Timeout: 5 * time.Second}
		if _, err := svc.submitExecution(req); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	time.Sleep(20 * time.Millisecond)

	req := &ExecutionRequest{ID: "drained-1", Workflow: WorkflowDefinition{Name: "wf"}, EngineType: "fake", Timeout: 5 * time.Second}
	id, err := svc.submitExecution(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	rec, err := svc.getExecutionResult(id)
	if err != nil {
		t.Fatalf("getExecutionResult: %v", err)
	}
	if rec.State != StateFailed {
		t.Fatalf("expected the drained entry to be FAILED, not %s", rec.State)
	}
	if !IsKind(rec.Err, ErrShutdown) {
		t.Fatalf("expected kind SHUTDOWN, got %v", rec.Err)
	}
}

func TestService_NewWorkerExcludedFromCapacityUntilStartupElapses(t *testing.T) {
	adapter := &fakeAdapter{engine: "fake"}
	bus := NewEventBus(32)
	cfg := testConfig()
	cfg.Scaling.WorkerStartupTime = 50 * time.Millisecond
	svc := NewExecutionService(cfg, bus, nil)
	svc.RegisterAdapter(adapter)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	}()

	snap := svc.getExecutionMetrics()
	if snap.WorkersByStatus[WorkerCreated] == 0 {
		t.Fatalf("expected freshly started workers to be CREATED, got %#v", snap.WorkersByStatus)
	}
	for _, w := range svc.getWorkersStatus() {
		if w.Status == WorkerCreated && w.Capacity != 0 {
			t.Fatalf("expected a CREATED worker to contribute 0 capacity, got %d", w.Capacity)
		}
	}

	time.Sleep(150 * time.Millisecond)
	for _, w := range svc.getWorkersStatus() {
		if w.Status == WorkerCreated {
			t.Fatal("expected every worker to have left CREATED after startup delay elapsed")
		}
	}
}

func uniqueID(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n < len(letters) {
		return "id-" + string(letters[n])
	}
	return "id-" + string(letters[n%len(letters)]) + string(letters[(n/len(letters))%len(letters)])
}
