// Package workflow implements the execution subsystem that drives
// third-party workflow engines at scale: a priority queue, an auto-scaling
// worker pool, per-execution retry and circuit breaking, a cron scheduler,
// and the adapter contract the whole thing is built against.
package workflow

import "time"

// EngineType identifies a family of remote workflow engines. Each value
// corresponds to at most one registered Adapter in a given process.
type EngineType string

// Priority orders pending executions. Higher values dispatch first; the
// numeric values only need to sort correctly, never to be serialized.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority maps the caller-facing string form to a Priority, defaulting
// to NORMAL for an empty or unrecognized value.
func ParsePriority(s string) Priority {
	switch s {
	case "LOW":
		return PriorityLow
	case "HIGH":
		return PriorityHigh
	case "CRITICAL":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// State is the execution state machine from spec §3. Transitions are
// monotonic: once an execution reaches COMPLETED, FAILED, or CANCELLED, it
// never leaves that state.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether a state is one of the three terminal states.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// WorkflowDefinition is an immutable record describing a workflow. The
// `Definition` payload's schema is known only to the target engine's
// adapter; the core never inspects it.
type WorkflowDefinition struct {
	ID          string
	Name        string
	Description string
	EngineType  EngineType
	Definition  []byte
	Version     string
	Metadata    map[string]string
}

// Validate enforces the invariants spec §3 places on a WorkflowDefinition
// independent of any adapter: name is required and bounded.
func (w WorkflowDefinition) Validate() error {
	if w.Name == "" {
		return NewError(ErrValidationFailed, "workflow name is required")
	}
	if len(w.Name) > 255 {
		return NewError(ErrValidationFailed, "workflow name exceeds 255 characters")
	}
	return nil
}

// Parameters is the untyped mapping handed verbatim to adapters. The core
// never interprets its contents beyond the optional templating pass
// described in SPEC_FULL.md §3.
type Parameters map[string]any

// ExecutionRequest is what callers submit to the core.
type ExecutionRequest struct {
	ID         string
	WorkflowID string
	Workflow   WorkflowDefinition
	EngineType EngineType
	Parameters Parameters
	Priority   Priority
	CreatedAt  time.Time
	Timeout    time.Duration
	MaxRetries int

	// RetryCount tracks how many times this request has already been
	// re-attempted; preserved across re-enqueue per spec §4.F.3/§4.F.4.
	RetryCount int

	// internalSeq preserves FIFO order within a band across a Requeue; set
	// by Queue.Dequeue and read by Queue.Requeue.
	internalSeq uint64
}

// Metrics captures the per-execution counters spec §3 names.
type Metrics struct {
	DurationMillis int64
	MemoryBytes    uint64
	CPUPercent     float64
	NetworkCalls   int64
	Custom         map[string]float64
}

// LogEntry is one adapter-reported log line. Adapters must return logs
// sorted by Timestamp ascending.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// ExecutionRecord is the mutable record tracked for the lifetime of an
// execution (and, once terminal, retained in the result store until its
// retention deadline).
type ExecutionRecord struct {
	ID          string
	State       State
	StartedAt   time.Time
	EndedAt     time.Time
	Result      map[string]any
	Err         *CoreError
	Logs        []LogEntry
	Metrics     Metrics
	RetryCount  int
	WorkerID    string
	Priority    Priority
	EngineType  EngineType
}

// ResultStoreEntry pairs a terminal ExecutionRecord with its eviction
// deadline.
type ResultStoreEntry struct {
	Record   ExecutionRecord
	ExpireAt time.Time
}

// WorkerStatus is the worker lifecycle from spec §4.E.
type WorkerStatus string

const (
	WorkerCreated  WorkerStatus = "CREATED"
	WorkerIdle     WorkerStatus = "IDLE"
	WorkerBusy     WorkerStatus = "BUSY"
	WorkerDraining WorkerStatus = "DRAINING"
	WorkerDead     WorkerStatus = "DEAD"
)

// WorkerSnapshot is a point-in-time, read-only view of a worker's state,
// returned by ExecutionService.getWorkersStatus and Facade.GetWorkersStatus.
type WorkerSnapshot struct {
	ID              string
	Status          WorkerStatus
	Capacity        int
	CurrentLoad     int
	LastHeartbeat   time.Time
	TotalExecutions int64
	TotalFailures   int64
	AvgExecMillis   float64
	EngineTypes     []EngineType
}

// ScalingDecision is published by the auto-scaler every collection
// interval, per spec §4.F.2.
type ScalingDecision struct {
	Action     string // SCALE_UP | SCALE_DOWN | NO_ACTION
	Confidence float64
	FromCount  int
	ToCount    int
	Reason     string
	At         time.Time
}

// MetricsSnapshot is the read-only aggregate view spec §4.F.6 describes.
type MetricsSnapshot struct {
	TotalExecutions      int64
	SuccessfulExecutions int64
	FailedExecutions     int64
	CancelledExecutions  int64
	ErrorRate            float64
	AvgDurationMillis    float64
	ThroughputPerSecond  float64
	QueueSize            int
	WorkersByStatus      map[WorkerStatus]int
	Utilization          float64
}

// QueueSnapshot reports per-band counts and oldest-entry age, per spec §4.D.
type QueueSnapshot struct {
	Bands map[Priority]BandSnapshot
	Size  int
}

// BandSnapshot is one priority band's counters.
type BandSnapshot struct {
	Count    int
	OldestAge time.Duration
}
