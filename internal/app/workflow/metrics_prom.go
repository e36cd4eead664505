package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics exposes the execution lifecycle as Prometheus collectors,
// registered the way internal/app/metrics registers its HTTP and
// automation collectors. Here the CounterVec/HistogramVec/GaugeVec instances
// are fields built by each NewPromMetrics call rather than package-scoped,
// and are driven by subscribing to the event bus instead of being called
// inline from the dispatch path.
type PromMetrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueSize  *prometheus.GaugeVec
	workers    *prometheus.GaugeVec
	dropped    prometheus.Counter

	bus *EventBus

	mu          sync.Mutex
	lastDropped float64
}

// NewPromMetrics creates and registers the collectors against reg. Callers
// typically pass the same registry the rest of their process uses
// (e.g. internal/app/metrics.Registry) so /metrics serves one combined set.
func NewPromMetrics(reg *prometheus.Registry) *PromMetrics {
	m := &PromMetrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "service_layer",
				Subsystem: "workflow",
				Name:      "executions_total",
				Help:      "Total number of workflow executions by terminal state.",
			},
			[]string{"engine", "state"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "service_layer",
				Subsystem: "workflow",
				Name:      "execution_duration_seconds",
				Help:      "Duration of terminal workflow executions.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"engine", "state"},
		),
		queueSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "service_layer",
				Subsystem: "workflow",
				Name:      "queue_size",
				Help:      "Pending executions per priority band.",
			},
			[]string{"priority"},
		),
		workers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "service_layer",
				Subsystem: "workflow",
				Name:      "workers",
				Help:      "Worker pool size by status.",
			},
			[]string{"status"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "service_layer",
				Subsystem: "workflow",
				Name:      "events_dropped_total",
				Help:      "Event bus deliveries dropped due to a full subscriber buffer.",
			},
		),
	}
	reg.MustRegister(m.executions, m.duration, m.queueSize, m.workers, m.dropped)
	return m
}

// Run subscribes to bus and records every terminal execution event until ctx
// is cancelled. Call it once per process, typically in its own goroutine
// alongside Facade.Start.
func (m *PromMetrics) Run(ctx context.Context, bus *EventBus) {
	m.bus = bus
	sub := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub:
			m.observe(ev)
		}
	}
}

func (m *PromMetrics) observe(ev Event) {
	switch ev.Kind {
	case EventExecutionCompleted, EventExecutionFailed, EventExecutionCancelled:
		state := strings.ToLower(string(ev.Record.State))
		engine := string(ev.Record.EngineType)
		if engine == "" {
			engine = "unknown"
		}
		m.executions.WithLabelValues(engine, state).Inc()
		if ev.Record.Metrics.DurationMillis > 0 {
			d := time.Duration(ev.Record.Metrics.DurationMillis) * time.Millisecond
			m.duration.WithLabelValues(engine, state).Observe(d.Seconds())
		}
	}
}

// ObserveQueue publishes a queue snapshot's per-band sizes as gauges. Callers
// poll Facade.GetQueueStats on their own schedule and hand the result here.
func (m *PromMetrics) ObserveQueue(snap QueueSnapshot) {
	for priority, band := range snap.Bands {
		m.queueSize.WithLabelValues(priority.String()).Set(float64(band.Count))
	}
}

// ObserveWorkers publishes a worker-status breakdown as gauges.
func (m *PromMetrics) ObserveWorkers(byStatus map[WorkerStatus]int) {
	for status, count := range byStatus {
		m.workers.WithLabelValues(string(status)).Set(float64(count))
	}
}

// ObserveDropped records the event bus's current dropped-event counter as a
// monotonic increase against the last observed value. prometheus.Counter
// only moves forward; EventBus.Dropped is itself monotonic across the bus's
// lifetime, so the delta here is always non-negative.
func (m *PromMetrics) ObserveDropped(total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delta := float64(total) - m.lastDropped
	if delta > 0 {
		m.dropped.Add(delta)
	}
	m.lastDropped = float64(total)
}
