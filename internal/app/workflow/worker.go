package workflow

import (
	"context"
	"sync"
	"time"
)

// workerEvents is the subset of the dispatcher's needs a Worker signals on
// completion: release its slot and let the dispatcher know more capacity is
// available.
type workerEvents interface {
	onWorkerIdle(workerID string)
	onExecutionTerminal(rec ExecutionRecord)
}

// Worker owns a single in-flight execution slot (capacity is always 1 here;
// the service scales by adding workers rather than widening one worker's
// capacity, which keeps the per-worker state machine in spec §4.E simple).
type Worker struct {
	id          string
	engineTypes map[EngineType]bool
	events      workerEvents
	breakers    *breakerRegistry
	retryCfg    RetryConfig
	gracePeriod time.Duration
	bus         *EventBus

	mu              sync.RWMutex
	status          WorkerStatus
	currentLoad     int
	lastHeartbeat   time.Time
	totalExecutions int64
	totalFailures   int64
	avgExecMillis   float64
	cancelDraining  context.CancelFunc
	currentReq      *ExecutionRequest
	currentToken    *cancelToken
	cancelRequested bool
	sampler         *ResourceSampler
	tracer          Tracer
}

// SetTracer installs the Tracer this worker spans each dispatched execution
// through. Defaults to a no-op tracer if t is nil.
func (w *Worker) SetTracer(t Tracer) {
	if t == nil {
		t = noopTracer{}
	}
	w.mu.Lock()
	w.tracer = t
	w.mu.Unlock()
}

// NewWorker creates a worker serving the given engine types. It starts in
// CREATED rather than IDLE when startupDelay is positive: spec §4.F.2 keeps a
// freshly launched worker out of capacity accounting until its first
// heartbeat after startupDelay elapses, so autoScaleTick and
// getExecutionMetrics don't count it until it can actually take work.
func NewWorker(id string, engineTypes []EngineType, events workerEvents, breakers *breakerRegistry, retryCfg RetryConfig, gracePeriod time.Duration, bus *EventBus, startupDelay time.Duration) *Worker {
	set := make(map[EngineType]bool, len(engineTypes))
	for _, e := range engineTypes {
		set[e] = true
	}
	status := WorkerIdle
	if startupDelay > 0 {
		status = WorkerCreated
	}
	w := &Worker{
		id:            id,
		engineTypes:   set,
		events:        events,
		breakers:      breakers,
		retryCfg:      retryCfg,
		gracePeriod:   gracePeriod,
		bus:           bus,
		status:        status,
		lastHeartbeat: time.Now(),
		sampler:       NewResourceSampler(),
		tracer:        noopTracer{},
	}
	if startupDelay > 0 {
		time.AfterFunc(startupDelay, w.markReady)
	}
	return w
}

// markReady flips a CREATED worker to IDLE once startupDelay has elapsed. A
// worker drained or declared dead before its startup delay expires must stay
// that way, so this only acts while still CREATED.
func (w *Worker) markReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == WorkerCreated {
		w.status = WorkerIdle
		w.lastHeartbeat = time.Now()
	}
}

func (w *Worker) heartbeat() {
	w.mu.Lock()
	w.lastHeartbeat = time.Now()
	w.mu.Unlock()
}

// Snapshot returns a read-only view of the worker for status reporting.
func (w *Worker) Snapshot() WorkerSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	engines := make([]EngineType, 0, len(w.engineTypes))
	for e := range w.engineTypes {
		engines = append(engines, e)
	}
	capacity := 1
	if w.status == WorkerCreated {
		capacity = 0
	}
	return WorkerSnapshot{
		ID:              w.id,
		Status:          w.status,
		Capacity:        capacity,
		CurrentLoad:     w.currentLoad,
		LastHeartbeat:   w.lastHeartbeat,
		TotalExecutions: w.totalExecutions,
		TotalFailures:   w.totalFailures,
		AvgExecMillis:   w.avgExecMillis,
		EngineTypes:     engines,
	}
}

func (w *Worker) Status() WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Worker) serves(engine EngineType) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.engineTypes[engine]
}

func (w *Worker) failureRate() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.totalExecutions == 0 {
		return 0
	}
	return float64(w.totalFailures) / float64(w.totalExecutions)
}

// Drain marks the worker DRAINING; the caller is responsible for observing
// CurrentLoad==0 before transitioning it to DEAD (spec §4.F.2).
func (w *Worker) Drain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == WorkerIdle || w.status == WorkerBusy || w.status == WorkerCreated {
		w.status = WorkerDraining
	}
}

func (w *Worker) markDead() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = WorkerDead
}

// tryReserve atomically transitions an IDLE worker to BUSY, returning false
// if another dispatcher goroutine already claimed it. Selection (spec §4.F.1)
// must reserve before calling Accept; two dispatcher iterations racing on the
// same IDLE worker must never both win.
func (w *Worker) tryReserve() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != WorkerIdle {
		return false
	}
	w.status = WorkerBusy
	w.currentLoad = 1
	return true
}

// CurrentExecution reports the request a BUSY worker currently owns, used by
// the health checker to re-enqueue work orphaned by a dead worker.
func (w *Worker) CurrentExecution() (*ExecutionRequest, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.currentReq == nil {
		return nil, false
	}
	return w.currentReq, true
}

// requestCancel asserts the cancel token of whatever execution this worker
// currently owns, implementing the "running" branch of cancelExecution
// (spec §5): the caller returns immediately, the worker unwinds
// asynchronously via the normal timeout/grace path.
func (w *Worker) requestCancel() {
	w.mu.Lock()
	t := w.currentToken
	w.cancelRequested = true
	w.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// Accept takes ownership of req, runs it to a terminal state, and reports
// the result via w.events. It never returns until the execution is
// terminal: blocking holding the slot past the grace interval is exactly
// the behavior spec §4.E forbids, so accept enforces the deadline itself.
func (w *Worker) Accept(ctx context.Context, adapter Adapter, req *ExecutionRequest, queueCancel *cancelToken) {
	w.mu.Lock()
	w.status = WorkerBusy
	w.currentLoad = 1
	w.lastHeartbeat = time.Now()
	w.currentReq = req
	w.cancelRequested = false
	tracer := w.tracer
	w.mu.Unlock()

	ctx, finishSpan := tracer.StartSpan(ctx, "workflow.dispatch", map[string]string{
		"workflow.id":  req.WorkflowID,
		"execution.id": req.ID,
		"worker.id":    w.id,
		"engine":       string(req.EngineType),
	})

	rec := ExecutionRecord{
		ID:         req.ID,
		State:      StateRunning,
		StartedAt:  time.Now(),
		RetryCount: req.RetryCount,
		WorkerID:   w.id,
		Priority:   req.Priority,
		EngineType: req.EngineType,
	}
	token := newCancelToken()
	w.mu.Lock()
	w.currentToken = token
	w.mu.Unlock()

	deadline := req.Timeout
	if deadline <= 0 {
		deadline = 24 * time.Hour // effectively unbounded if unset; callers should set defaultTimeout
	}

	runCtx, cancelRun := context.WithTimeout(ctx, deadline)
	defer cancelRun()

	go func() {
		select {
		case <-queueCancel.Done():
			token.Cancel()
		case <-runCtx.Done():
		}
	}()

	remaining := req.MaxRetries - req.RetryCount + 1
	if remaining <= 0 {
		remaining = 1
	}
	cfg := w.retryCfg
	cfg.MaxAttempts = remaining

	resultCh := make(chan workerRunOutcome, 1)
	go func() {
		b := w.breakers.get(req.EngineType)
		var last ExecutionResult
		attempts, err := retryWithBreaker(runCtx, cfg, b, func(attemptCtx context.Context) error {
			w.heartbeat()
			res, runErr := adapter.ExecuteWorkflow(withCancelToken(attemptCtx, token), req.Workflow, req.Parameters)
			if runErr != nil {
				return runErr
			}
			if res.State == StateFailed && res.Err != nil {
				return res.Err
			}
			last = res
			return nil
		})
		resultCh <- workerRunOutcome{result: last, err: err, attempts: attempts, exhausted: err != nil && attempts >= cfg.MaxAttempts && classify(cfg, err)}
	}()

	var outcome workerRunOutcome
	select {
	case outcome = <-resultCh:
	case <-runCtx.Done():
		token.Cancel()
		outcome = w.awaitGrace(adapter, req, resultCh)
	}

	w.finish(&rec, req, outcome, token)
	finishSpan(outcome.err)
}

type workerRunOutcome struct {
	result    ExecutionResult
	err       error
	attempts  int
	exhausted bool
	timedOut  bool
}

// classify reports whether err was (still) considered retriable under cfg's
// policy — used to distinguish "ran out of retry budget on a transient
// error" (RETRIES_EXHAUSTED) from "adapter reported a non-retriable error"
// (kind propagated as-is), per spec §7.
func classify(cfg RetryConfig, err error) bool {
	retriable := cfg.Retriable
	if retriable == nil {
		retriable = DefaultRetriable
	}
	return retriable(err)
}

// awaitGrace gives the adapter up to gracePeriod to unwind after the
// deadline/cancel token fires before forcing termination (spec §4.E).
func (w *Worker) awaitGrace(adapter Adapter, req *ExecutionRequest, resultCh <-chan workerRunOutcome) workerRunOutcome {
	grace := w.gracePeriod
	if grace <= 0 {
		grace = 2 * time.Second
	}
	select {
	case outcome := <-resultCh:
		return outcome
	case <-time.After(grace):
		return workerRunOutcome{timedOut: true}
	}
}

func (w *Worker) finish(rec *ExecutionRecord, req *ExecutionRequest, outcome workerRunOutcome, token *cancelToken) {
	rec.EndedAt = time.Now()
	rec.Metrics.DurationMillis = rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if outcome.attempts > 1 {
		rec.RetryCount = req.RetryCount + outcome.attempts - 1
	}
	w.sampler.Sample(rec)

	w.mu.RLock()
	userCancelled := w.cancelRequested
	w.mu.RUnlock()

	var kind EventKind
	switch {
	case userCancelled:
		rec.State = StateCancelled
		kind = EventExecutionCancelled
	case outcome.timedOut:
		rec.State = StateFailed
		rec.Err = NewError(ErrExecutionTimeout, "execution exceeded its deadline")
		kind = EventExecutionFailed
	case outcome.err != nil && outcome.exhausted:
		rec.State = StateFailed
		rec.Err = Wrap(ErrRetriesExhausted, "adapter retries exhausted", outcome.err)
		kind = EventExecutionFailed
	case outcome.err != nil:
		rec.State = StateFailed
		rec.Err = toCoreError(outcome.err)
		kind = EventExecutionFailed
	default:
		rec.State = StateCompleted
		rec.Result = outcome.result.Result
		rec.Metrics.NetworkCalls = outcome.result.Metrics.NetworkCalls
		kind = EventExecutionCompleted
	}

	w.mu.Lock()
	dead := w.status == WorkerDead
	w.currentLoad = 0
	if w.status != WorkerDead {
		w.status = WorkerIdle
	}
	w.currentReq = nil
	w.currentToken = nil
	w.totalExecutions++
	if rec.State == StateFailed {
		w.totalFailures++
	}
	n := float64(w.totalExecutions)
	w.avgExecMillis = w.avgExecMillis + (float64(rec.Metrics.DurationMillis)-w.avgExecMillis)/n
	w.lastHeartbeat = time.Now()
	w.mu.Unlock()

	if dead {
		// declareWorkerDead has already re-enqueued or failed this
		// execution; reporting this worker's outcome would overwrite that.
		return
	}

	w.bus.publish(Event{Kind: kind, ExecutionID: req.ID, At: rec.EndedAt, Record: *rec})
	w.events.onExecutionTerminal(*rec)
	w.events.onWorkerIdle(w.id)
}

func toCoreError(err error) *CoreError {
	if ce, ok := err.(*CoreError); ok {
		return ce
	}
	return Wrap(ErrRemoteEngine, err.Error(), err)
}

type cancelTokenKey struct{}

func withCancelToken(ctx context.Context, t *cancelToken) context.Context {
	return context.WithValue(ctx, cancelTokenKey{}, t)
}

// CancelTokenFromContext lets an adapter observe the cooperative
// cancellation token attached by the worker, in addition to ctx.Done().
func CancelTokenFromContext(ctx context.Context) (done <-chan struct{}, ok bool) {
	t, found := ctx.Value(cancelTokenKey{}).(*cancelToken)
	if !found {
		return nil, false
	}
	return t.Done(), true
}
