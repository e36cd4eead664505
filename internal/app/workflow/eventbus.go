package workflow

import (
	"sync"
	"time"
)

// EventKind enumerates the lifecycle events the bus fans out (spec §4.I).
type EventKind string

const (
	EventExecutionStarted   EventKind = "executionStarted"
	EventExecutionCompleted EventKind = "executionCompleted"
	EventExecutionFailed    EventKind = "executionFailed"
	EventExecutionCancelled EventKind = "executionCancelled"
	EventWorkerStarted      EventKind = "worker_started"
	EventWorkerStopped      EventKind = "worker_stopped"
	EventScalingCompleted   EventKind = "scaling_completed"
	EventScheduleError      EventKind = "schedule_error"
	EventStarted            EventKind = "started"
	EventStopped            EventKind = "stopped"
)

// Event is the payload delivered to every subscriber. Only the fields
// relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind        EventKind
	ExecutionID string
	At          time.Time
	Record      ExecutionRecord
	WorkerID    string
	Scaling     ScalingDecision
	Err         error
	Details     map[string]string
}

// subscriber is one registered consumer: a bounded buffer plus a dropped
// count, summed across subscribers by EventBus.Dropped. No event is
// published on the bus when an event is dropped.
type subscriber struct {
	ch      chan Event
	dropped int64
}

// EventBus is a process-local, non-blocking fan-out: subscribers are invoked
// in registration order, each backed by its own bounded channel so a slow
// consumer cannot delay execution progress. Overflow drops the oldest
// buffered event for that subscriber, grounded on the capability-bundle
// style of system/core.EventEngine's Publish/Subscribe but adapted to typed
// kinds and registration-order delivery instead of an untyped string key.
type EventBus struct {
	mu     sync.Mutex
	subs   []*subscriber
	bufLen int
}

// NewEventBus creates a bus whose subscriber channels hold bufLen events
// before dropping the oldest on overflow.
func NewEventBus(bufLen int) *EventBus {
	if bufLen <= 0 {
		bufLen = 64
	}
	return &EventBus{bufLen: bufLen}
}

// Subscribe registers a new consumer and returns its delivery channel. The
// channel is never closed by the bus; callers stop reading when done.
func (b *EventBus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscriber{ch: make(chan Event, b.bufLen)}
	b.subs = append(b.subs, s)
	return s.ch
}

// publish fans ev out to every subscriber in registration order. A full
// subscriber buffer has its oldest entry dropped (non-blocking) to make room
// for ev, per spec §4.I.
func (b *EventBus) publish(ev Event) {
	b.mu.Lock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			select {
			case <-s.ch:
				b.mu.Lock()
				s.dropped++
				b.mu.Unlock()
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// Dropped reports the total number of events dropped across all subscribers
// due to buffer overflow, since bus creation.
func (b *EventBus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total int64
	for _, s := range b.subs {
		total += s.dropped
	}
	return total
}
