package workflow

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/service_layer/pkg/logger"
)

// ExecutionService is the central owner described in spec §4.F: dispatcher,
// auto-scaler, worker-failure handler, result store, and metrics aggregator,
// composed the way automation.Scheduler composes a ticker loop around a
// shared service, generalized to four long-lived loops (dispatch,
// auto-scale, health check, result sweep).
type ExecutionService struct {
	cfg      Config
	queue    *Queue
	bus      *EventBus
	breakers *breakerRegistry
	log      *logger.Logger

	adaptersMu sync.RWMutex
	adapters   map[EngineType]Adapter

	workersMu     sync.Mutex
	workers       []*Worker
	workerSeq     int
	lastScaleUp   time.Time
	lastScaleDown time.Time

	resultsMu sync.Mutex
	results   map[string]*ResultStoreEntry

	metricsMu    sync.Mutex
	metrics      metricsState
	completionTS []time.Time

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	tracerMu sync.RWMutex
	tracer   Tracer
}

type metricsState struct {
	total      int64
	successful int64
	failed     int64
	cancelled  int64
	avgMillis  float64
}

// NewExecutionService wires a service around an already-sized queue and
// event bus. Adapters are registered afterward via RegisterAdapter.
func NewExecutionService(cfg Config, bus *EventBus, log *logger.Logger) *ExecutionService {
	if log == nil {
		log = logger.NewDefault("workflow-execution-service")
	}
	return &ExecutionService{
		cfg:      cfg,
		queue:    NewQueue(cfg.Queue.MaxSize),
		bus:      bus,
		breakers: newBreakerRegistry(cfg.FaultTol.CircuitBreaker),
		log:      log,
		adapters: make(map[EngineType]Adapter),
		results:  make(map[string]*ResultStoreEntry),
		tracer:   noopTracer{},
	}
}

// SetTracer installs the Tracer new and already-running workers dispatch
// spans through. Safe to call before or after Start.
func (s *ExecutionService) SetTracer(t Tracer) {
	if t == nil {
		t = noopTracer{}
	}
	s.tracerMu.Lock()
	s.tracer = t
	s.tracerMu.Unlock()

	s.workersMu.Lock()
	for _, w := range s.workers {
		w.SetTracer(t)
	}
	s.workersMu.Unlock()
}

func (s *ExecutionService) getTracer() Tracer {
	s.tracerMu.RLock()
	defer s.tracerMu.RUnlock()
	return s.tracer
}

// RegisterAdapter binds an Adapter to the engine type it reports.
func (s *ExecutionService) RegisterAdapter(a Adapter) {
	s.adaptersMu.Lock()
	defer s.adaptersMu.Unlock()
	s.adapters[a.EngineType()] = a
}

func (s *ExecutionService) adapterFor(engine EngineType) (Adapter, bool) {
	s.adaptersMu.RLock()
	defer s.adaptersMu.RUnlock()
	a, ok := s.adapters[engine]
	return a, ok
}

// Start launches the dispatcher, auto-scaler, health checker, and result
// sweeper, and brings the worker pool up to scaling.minWorkers.
func (s *ExecutionService) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.runMu.Unlock()

	for i := 0; i < s.cfg.Scaling.MinWorkers; i++ {
		s.addWorker(nil)
	}

	s.wg.Add(4)
	go s.dispatchLoop(runCtx)
	go s.autoScaleLoop(runCtx)
	go s.healthCheckLoop(runCtx)
	go s.resultSweepLoop(runCtx)

	s.bus.publish(Event{Kind: EventStarted, At: time.Now()})
	s.log.Info("execution service started")
	return nil
}

// Stop closes the queue, cancels all workers, waits up to DrainTimeout for
// in-flight executions to reach a terminal state, then tears down (spec
// §4.F.7).
func (s *ExecutionService) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.runMu.Unlock()

	s.queue.Close()
	for _, req := range s.queue.DrainPending() {
		// Queue-close drain is a shutdown, not a user cancellation (spec
		// §4.D/§7): callers still queued when Stop runs complete FAILED
		// with kind SHUTDOWN, distinct from an explicit cancelExecution.
		s.recordTerminal(ExecutionRecord{
			ID:       req.ID,
			State:    StateFailed,
			EndedAt:  time.Now(),
			Priority: req.Priority,
			Err:      NewError(ErrShutdown, "execution service stopped before dispatch"),
		})
	}

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	drain := s.cfg.DrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(drain):
		s.log.Warn("execution service stop: drain timeout exceeded, forcing shutdown")
	case <-ctx.Done():
		return ctx.Err()
	}

	s.bus.publish(Event{Kind: EventStopped, At: time.Now()})
	s.log.Info("execution service stopped")
	return nil
}

// submitExecution enqueues req, returning QUEUE_FULL if the queue is at
// capacity or SHUTDOWN if the service is stopped.
func (s *ExecutionService) submitExecution(req *ExecutionRequest) (string, error) {
	if _, err := s.queue.Enqueue(req); err != nil {
		return "", err
	}
	return req.ID, nil
}

// cancelExecution implements the three-way cancellation semantics of spec
// §5: queued entries are removed and marked CANCELLED immediately; running
// executions have their cancel token asserted and return success
// immediately while the worker unwinds asynchronously; terminal ids fail
// ALREADY_TERMINAL.
func (s *ExecutionService) cancelExecution(id string) error {
	if s.queue.CancelByID(id) {
		s.recordTerminal(ExecutionRecord{ID: id, State: StateCancelled, EndedAt: time.Now()})
		s.bus.publish(Event{Kind: EventExecutionCancelled, ExecutionID: id, At: time.Now()})
		return nil
	}

	if rec, ok := s.getResult(id); ok {
		if rec.State.Terminal() {
			return NewError(ErrAlreadyTerminal, "execution already reached a terminal state")
		}
	}

	s.workersMu.Lock()
	var owner *Worker
	for _, w := range s.workers {
		if req, ok := w.CurrentExecution(); ok && req.ID == id {
			owner = w
			break
		}
	}
	s.workersMu.Unlock()

	if owner == nil {
		return NewError(ErrNotFound, "no such execution")
	}
	owner.requestCancel()
	return nil
}

// getExecutionStatus returns the live or terminal record for id.
func (s *ExecutionService) getExecutionStatus(id string) (ExecutionRecord, error) {
	s.workersMu.Lock()
	for _, w := range s.workers {
		if req, ok := w.CurrentExecution(); ok && req.ID == id {
			s.workersMu.Unlock()
			return ExecutionRecord{ID: id, State: StateRunning, WorkerID: w.id, Priority: req.Priority, EngineType: req.EngineType}, nil
		}
	}
	s.workersMu.Unlock()

	if rec, ok := s.getResult(id); ok {
		return rec, nil
	}
	if req, ok := s.queue.Peek(id); ok {
		return ExecutionRecord{ID: id, State: StatePending, Priority: req.Priority, EngineType: req.EngineType}, nil
	}
	return ExecutionRecord{}, NewError(ErrNotFound, "no such execution")
}

// getExecutionResult returns the terminal record for id, failing NOT_FOUND
// for unknown or still-running ids.
func (s *ExecutionService) getExecutionResult(id string) (ExecutionRecord, error) {
	rec, ok := s.getResult(id)
	if !ok {
		return ExecutionRecord{}, NewError(ErrNotFound, "no such execution result")
	}
	return rec, nil
}

func (s *ExecutionService) getResult(id string) (ExecutionRecord, bool) {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	e, ok := s.results[id]
	if !ok {
		return ExecutionRecord{}, false
	}
	return e.Record, true
}

// getWorkersStatus snapshots every worker in the pool.
func (s *ExecutionService) getWorkersStatus() []WorkerSnapshot {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	out := make([]WorkerSnapshot, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Snapshot())
	}
	return out
}

// getExecutionMetrics returns the aggregate snapshot spec §4.F.6 describes.
func (s *ExecutionService) getExecutionMetrics() MetricsSnapshot {
	s.metricsMu.Lock()
	m := s.metrics
	window := s.cfg.MetricsCfg.AggregationWindow
	if window <= 0 {
		window = time.Minute
	}
	cutoff := time.Now().Add(-window)
	n := 0
	for _, ts := range s.completionTS {
		if ts.After(cutoff) {
			n++
		}
	}
	s.metricsMu.Unlock()

	var errRate float64
	if m.total > 0 {
		errRate = float64(m.failed) / float64(m.total)
	}

	byStatus := make(map[WorkerStatus]int)
	var totalLoad, totalCap int
	s.workersMu.Lock()
	for _, w := range s.workers {
		snap := w.Snapshot()
		byStatus[snap.Status]++
		totalLoad += snap.CurrentLoad
		totalCap += snap.Capacity
	}
	s.workersMu.Unlock()

	var util float64
	if totalCap > 0 {
		util = float64(totalLoad) / float64(totalCap)
	}

	return MetricsSnapshot{
		TotalExecutions:      m.total,
		SuccessfulExecutions: m.successful,
		FailedExecutions:     m.failed,
		CancelledExecutions:  m.cancelled,
		ErrorRate:            errRate,
		AvgDurationMillis:    m.avgMillis,
		ThroughputPerSecond:  float64(n) / window.Seconds(),
		QueueSize:            s.queue.Size(),
		WorkersByStatus:      byStatus,
		Utilization:          util,
	}
}

// scaleExecutors is a manual scaling hint (spec §4.F.7): it computes a
// target of the current worker count plus demand, clamped to
// [minWorkers, maxWorkers], and moves the pool one worker toward it per
// call (adding one worker, or draining one).
func (s *ExecutionService) scaleExecutors(demand int) ScalingDecision {
	s.workersMu.Lock()
	current := len(s.workers)
	target := current + demand
	if target > s.cfg.Scaling.MaxWorkers {
		target = s.cfg.Scaling.MaxWorkers
	}
	if target < s.cfg.Scaling.MinWorkers {
		target = s.cfg.Scaling.MinWorkers
	}
	s.workersMu.Unlock()

	return s.applyScalingTarget(target, "manual scaleExecutors request")
}

// handleExecutorFailure is the admin/test hook spec §4.F.3 names: it forces
// workerID DEAD and re-enqueues (or fails) the execution it owned.
func (s *ExecutionService) handleExecutorFailure(workerID string) error {
	s.workersMu.Lock()
	var target *Worker
	for _, w := range s.workers {
		if w.id == workerID {
			target = w
			break
		}
	}
	s.workersMu.Unlock()
	if target == nil {
		return NewError(ErrNotFound, "no such worker")
	}
	s.declareWorkerDead(target)
	return nil
}

// addWorker creates and registers a new worker serving every registered
// engine type, honoring the pool's per-engine capability bundle.
func (s *ExecutionService) addWorker(engines []EngineType) *Worker {
	if len(engines) == 0 {
		s.adaptersMu.RLock()
		for e := range s.adapters {
			engines = append(engines, e)
		}
		s.adaptersMu.RUnlock()
	}

	s.workersMu.Lock()
	s.workerSeq++
	id := fmt.Sprintf("worker-%d", s.workerSeq)
	s.workersMu.Unlock()

	w := NewWorker(id, engines, s, s.breakers, s.retryConfig(), 2*time.Second, s.bus, s.cfg.Scaling.WorkerStartupTime)
	w.SetTracer(s.getTracer())
	s.workersMu.Lock()
	s.workers = append(s.workers, w)
	s.workersMu.Unlock()

	s.bus.publish(Event{Kind: EventWorkerStarted, WorkerID: id, At: time.Now()})
	return w
}

func (s *ExecutionService) retryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    s.cfg.FaultTol.MaxRetries + 1,
		InitialDelay:   s.cfg.FaultTol.RetryDelay,
		MaxDelay:       10 * time.Second,
		BackoffFactor:  s.cfg.FaultTol.BackoffFactor,
		JitterFraction: 0.3,
	}
}

// dispatchLoop is the continuous dequeue-and-place loop of spec §4.F.1.
func (s *ExecutionService) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		req, cancel, ok := s.queue.Dequeue()
		if !ok {
			return
		}

		adapter, found := s.adapterFor(req.EngineType)
		if !found {
			s.recordTerminal(ExecutionRecord{
				ID:       req.ID,
				State:    StateFailed,
				EndedAt:  time.Now(),
				Err:      NewError(ErrNoAdapterRegistered, "no adapter registered for engine type"),
				Priority: req.Priority,
			})
			continue
		}

		w := s.pickWorker(req.EngineType)
		if w == nil {
			s.queue.Requeue(req, cancel)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.processingInterval()):
			}
			continue
		}

		s.wg.Add(1)
		go func(w *Worker, req *ExecutionRequest, cancel *cancelToken) {
			defer s.wg.Done()
			w.Accept(ctx, adapter, req, cancel)
		}(w, req, cancel)
	}
}

func (s *ExecutionService) processingInterval() time.Duration {
	if s.cfg.Queue.ProcessingInterval > 0 {
		return s.cfg.Queue.ProcessingInterval
	}
	return 50 * time.Millisecond
}

// pickWorker selects an IDLE worker serving engine, preferring the lowest
// lifetime failure rate among candidates (spec §4.F.1; all workers share
// capacity 1, so "least-loaded" reduces to "any IDLE one").
func (s *ExecutionService) pickWorker(engine EngineType) *Worker {
	s.workersMu.Lock()
	candidates := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		if w.Status() == WorkerIdle && w.serves(engine) {
			candidates = append(candidates, w)
		}
	}
	s.workersMu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].failureRate() < candidates[j].failureRate()
	})

	for _, w := range candidates {
		if w.tryReserve() {
			return w
		}
	}
	return nil
}

// onWorkerIdle implements workerEvents; the dispatcher discovers new
// capacity via Queue.Dequeue unblocking on its own, so nothing further is
// required here beyond the hook's existence.
func (s *ExecutionService) onWorkerIdle(workerID string) {}

// onExecutionTerminal implements workerEvents: record the result and fold it
// into the metrics aggregator.
func (s *ExecutionService) onExecutionTerminal(rec ExecutionRecord) {
	s.recordTerminal(rec)
}

func (s *ExecutionService) recordTerminal(rec ExecutionRecord) {
	retention := 24 * time.Hour * time.Duration(s.cfg.Storage.ResultRetentionDays)
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	s.resultsMu.Lock()
	s.results[rec.ID] = &ResultStoreEntry{Record: rec, ExpireAt: time.Now().Add(retention)}
	s.resultsMu.Unlock()

	s.metricsMu.Lock()
	s.metrics.total++
	switch rec.State {
	case StateCompleted:
		s.metrics.successful++
	case StateFailed:
		s.metrics.failed++
	case StateCancelled:
		s.metrics.cancelled++
	}
	if rec.Metrics.DurationMillis > 0 {
		n := float64(s.metrics.total)
		s.metrics.avgMillis += (float64(rec.Metrics.DurationMillis) - s.metrics.avgMillis) / n
	}
	s.completionTS = append(s.completionTS, time.Now())
	s.metricsMu.Unlock()
}

// autoScaleLoop runs the control loop of spec §4.F.2 every
// metrics.collectionInterval.
func (s *ExecutionService) autoScaleLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.MetricsCfg.CollectionInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.autoScaleTick()
		}
	}
}

func (s *ExecutionService) autoScaleTick() {
	s.workersMu.Lock()
	var totalLoad, totalCap int
	var oldestWait time.Duration
	for _, w := range s.workers {
		snap := w.Snapshot()
		totalLoad += snap.CurrentLoad
		totalCap += snap.Capacity
	}
	s.workersMu.Unlock()

	qsnap := s.queue.Snapshot()
	for _, band := range qsnap.Bands {
		if band.OldestAge > oldestWait {
			oldestWait = band.OldestAge
		}
	}

	var u float64
	if totalCap > 0 {
		u = float64(totalLoad) / float64(totalCap)
	}

	now := time.Now()
	scaleUpLatencyBudget := 5 * time.Second
	decision := ScalingDecision{Action: "NO_ACTION", FromCount: totalCap, ToCount: totalCap, At: now}

	canScaleUp := u >= s.cfg.Scaling.ScaleUpThreshold || (qsnap.Size > 0 && oldestWait > scaleUpLatencyBudget)
	canScaleDown := u <= s.cfg.Scaling.ScaleDownThreshold && qsnap.Size == 0

	switch {
	case canScaleUp && now.Sub(s.lastScaleUp) >= s.cfg.Scaling.ScaleUpCooldown && totalCap < s.cfg.Scaling.MaxWorkers:
		target := targetWorkerCount(totalLoad, s.cfg.Scaling.TargetUtilization, s.cfg.Scaling.MinWorkers, s.cfg.Scaling.MaxWorkers)
		if target <= totalCap {
			target = totalCap + 1
		}
		decision = s.applyScalingTarget(target, "utilization/latency above threshold")
		s.lastScaleUp = now
	case canScaleDown && now.Sub(s.lastScaleDown) >= s.cfg.Scaling.ScaleDownCooldown && totalCap > s.cfg.Scaling.MinWorkers:
		target := totalCap - 1
		decision = s.applyScalingTarget(target, "utilization below threshold and queue empty")
		s.lastScaleDown = now
	}

	decision.Confidence = confidenceFromUtilization(u, s.cfg.Scaling.ScaleUpThreshold, s.cfg.Scaling.ScaleDownThreshold)
	s.bus.publish(Event{Kind: EventScalingCompleted, At: now, Scaling: decision})
}

// targetWorkerCount moves toward ceil(totalLoad/targetUtilization), clamped
// to [min, max], per spec §4.F.2.
func targetWorkerCount(totalLoad int, targetUtilization float64, min, max int) int {
	if targetUtilization <= 0 {
		targetUtilization = 0.7
	}
	target := int(math.Ceil(float64(totalLoad) / targetUtilization))
	if target < min {
		target = min
	}
	if target > max {
		target = max
	}
	return target
}

func confidenceFromUtilization(u, upThreshold, downThreshold float64) float64 {
	switch {
	case u >= upThreshold:
		d := u - upThreshold
		if d > 1 {
			d = 1
		}
		return 0.5 + d/2
	case u <= downThreshold:
		if downThreshold == 0 {
			return 0.5
		}
		d := (downThreshold - u) / downThreshold
		if d > 1 {
			d = 1
		}
		return 0.5 + d/2
	default:
		return 0
	}
}

// applyScalingTarget moves the live worker count toward target by at most
// one step already decided by the caller; it launches new workers or drains
// the most idle one, one at a time, per spec §4.F.2.
func (s *ExecutionService) applyScalingTarget(target int, reason string) ScalingDecision {
	s.workersMu.Lock()
	from := len(s.workers)
	s.workersMu.Unlock()

	if target == from {
		return ScalingDecision{Action: "NO_ACTION", FromCount: from, ToCount: from, Reason: reason, At: time.Now()}
	}

	if target > from {
		s.addWorker(nil)
		return ScalingDecision{Action: "SCALE_UP", FromCount: from, ToCount: from + 1, Reason: reason, At: time.Now()}
	}

	s.drainMostIdle()
	return ScalingDecision{Action: "SCALE_DOWN", FromCount: from, ToCount: from - 1, Reason: reason, At: time.Now()}
}

// drainMostIdle drains the IDLE worker with the oldest heartbeat, then marks
// it DEAD and removes it from the pool at once (its load is already zero,
// since only IDLE workers are chosen).
func (s *ExecutionService) drainMostIdle() {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	var oldest *Worker
	var oldestHeartbeat time.Time
	for _, w := range s.workers {
		if w.Status() != WorkerIdle {
			continue
		}
		snap := w.Snapshot()
		if oldest == nil || snap.LastHeartbeat.Before(oldestHeartbeat) {
			oldest = w
			oldestHeartbeat = snap.LastHeartbeat
		}
	}
	if oldest == nil {
		return
	}
	oldest.Drain()
	oldest.markDead()
	s.removeWorkerLocked(oldest.id)
	s.bus.publish(Event{Kind: EventWorkerStopped, WorkerID: oldest.id, At: time.Now()})
}

func (s *ExecutionService) removeWorkerLocked(id string) {
	for i, w := range s.workers {
		if w.id == id {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			return
		}
	}
}

// healthCheckLoop reaps workers whose heartbeat has gone stale (spec
// §4.F.3).
func (s *ExecutionService) healthCheckLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.HeartbeatStaleAfter / 2
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.healthCheckTick()
		}
	}
}

func (s *ExecutionService) healthCheckTick() {
	staleAfter := s.cfg.HeartbeatStaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Second
	}

	s.workersMu.Lock()
	var dead []*Worker
	for _, w := range s.workers {
		snap := w.Snapshot()
		if snap.Status == WorkerDead {
			continue
		}
		if time.Since(snap.LastHeartbeat) > staleAfter {
			dead = append(dead, w)
		}
	}
	s.workersMu.Unlock()

	for _, w := range dead {
		s.declareWorkerDead(w)
	}

	s.workersMu.Lock()
	if len(s.workers) < s.cfg.Scaling.MinWorkers {
		s.workersMu.Unlock()
		s.addWorker(nil)
	} else {
		s.workersMu.Unlock()
	}
}

// declareWorkerDead marks w DEAD, removes it from the pool, and re-enqueues
// (or fails) the execution it owned, per spec §4.F.3.
func (s *ExecutionService) declareWorkerDead(w *Worker) {
	req, owned := w.CurrentExecution()
	w.markDead()
	// Unblock any adapter call the dead worker's goroutine is still waiting
	// on so it doesn't silently complete and overwrite the re-enqueued
	// attempt's result later.
	w.requestCancel()

	s.workersMu.Lock()
	s.removeWorkerLocked(w.id)
	s.workersMu.Unlock()

	s.bus.publish(Event{Kind: EventWorkerStopped, WorkerID: w.id, At: time.Now()})

	if !owned {
		return
	}

	retryCount := req.RetryCount + 1
	if retryCount > req.MaxRetries {
		s.recordTerminal(ExecutionRecord{
			ID:         req.ID,
			State:      StateFailed,
			EndedAt:    time.Now(),
			Err:        NewError(ErrWorkerLost, "owning worker was lost and retries are exhausted"),
			RetryCount: retryCount,
			Priority:   req.Priority,
			EngineType: req.EngineType,
		})
		s.bus.publish(Event{Kind: EventExecutionFailed, ExecutionID: req.ID, At: time.Now()})
		return
	}

	resubmit := *req
	resubmit.RetryCount = retryCount
	if _, err := s.queue.Enqueue(&resubmit); err != nil {
		s.recordTerminal(ExecutionRecord{
			ID:         req.ID,
			State:      StateFailed,
			EndedAt:    time.Now(),
			Err:        Wrap(ErrWorkerLost, "could not re-enqueue after worker loss", err),
			RetryCount: retryCount,
			Priority:   req.Priority,
			EngineType: req.EngineType,
		})
	}
}

// resultSweepLoop evicts expired result store entries (spec §4.F.5).
func (s *ExecutionService) resultSweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepResults()
		}
	}
}

func (s *ExecutionService) sweepResults() {
	now := time.Now()
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	for id, e := range s.results {
		if now.After(e.ExpireAt) {
			delete(s.results, id)
		}
	}
}
