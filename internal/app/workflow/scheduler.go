package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/service_layer/pkg/logger"
)

// Schedule is one registered cron-triggered submission (spec §4.G).
type Schedule struct {
	ID         string
	Expr       string
	Workflow   WorkflowDefinition
	EngineType EngineType
	Parameters Parameters
	Priority   Priority
	Disabled   bool

	nextFire time.Time
	lastFire time.Time
	schedule cron.Schedule
}

// CronScheduler materializes cron expressions into submissions against an
// ExecutionService, using robfig/cron/v3 only to compute each schedule's
// next-fire instant; the timer and firing loop stay in this type so the
// at-most-once, no-back-firing guarantees of spec §4.G remain under direct
// control rather than delegated to the library's own scheduler goroutine.
type CronScheduler struct {
	svc *ExecutionService
	bus *EventBus
	log *logger.Logger

	parser cron.Parser

	mu        sync.Mutex
	schedules map[string]*Schedule
	timer     *time.Timer
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
}

// NewCronScheduler builds a scheduler that submits to svc on each fire.
func NewCronScheduler(svc *ExecutionService, bus *EventBus, log *logger.Logger) *CronScheduler {
	if log == nil {
		log = logger.NewDefault("workflow-cron-scheduler")
	}
	return &CronScheduler{
		svc:       svc,
		bus:       bus,
		log:       log,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		schedules: make(map[string]*Schedule),
	}
}

// AddSchedule registers sch, computing its first next-fire from now. Returns
// VALIDATION_FAILED if expr does not parse.
func (c *CronScheduler) AddSchedule(sch *Schedule) error {
	parsed, err := c.parser.Parse(sch.Expr)
	if err != nil {
		return Wrap(ErrValidationFailed, fmt.Sprintf("invalid cron expression %q", sch.Expr), err)
	}
	sch.schedule = parsed
	sch.nextFire = parsed.Next(time.Now())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedules[sch.ID] = sch
	c.rearmLocked()
	return nil
}

// RemoveSchedule unregisters a schedule by id.
func (c *CronScheduler) RemoveSchedule(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.schedules, id)
	c.rearmLocked()
}

// SetDisabled pauses or resumes firing without losing schedule identity
// (spec §4.G invariant).
func (c *CronScheduler) SetDisabled(id string, disabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sch, ok := c.schedules[id]; ok {
		sch.Disabled = disabled
	}
}

// Stats reports each schedule's last/next fire time, for getSchedulerStats.
func (c *CronScheduler) Stats() []Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Schedule, 0, len(c.schedules))
	for _, sch := range c.schedules {
		out = append(out, *sch)
	}
	return out
}

// Start begins the single-timer firing loop.
func (c *CronScheduler) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.rearmLocked()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(runCtx)
	return nil
}

// Stop halts the firing loop.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// rearmLocked resets the single timer to fire at the earliest next-fire
// instant among enabled schedules. Must be called with c.mu held.
func (c *CronScheduler) rearmLocked() {
	if !c.running {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}

	var earliest time.Time
	for _, sch := range c.schedules {
		if sch.Disabled {
			continue
		}
		if earliest.IsZero() || sch.nextFire.Before(earliest) {
			earliest = sch.nextFire
		}
	}
	if earliest.IsZero() {
		c.timer = nil
		return
	}

	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	c.timer = time.AfterFunc(d, func() { c.fireDue() })
}

func (c *CronScheduler) loop(ctx context.Context) {
	defer c.wg.Done()
	<-ctx.Done()
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
}

// fireDue submits every schedule whose next-fire instant has arrived,
// advances each to its next (strictly greater) fire time regardless of
// submission outcome, and rearms the single timer. Each schedule fires at
// most once per interval even if the timer callback itself was delayed
// (e.g. by a clock jump): nextFire is recomputed from the firing instant
// ("now"), not from its own prior value, so missed instants are skipped
// rather than replayed.
func (c *CronScheduler) fireDue() {
	now := time.Now()

	c.mu.Lock()
	var due []*Schedule
	for _, sch := range c.schedules {
		if sch.Disabled {
			continue
		}
		if !sch.nextFire.After(now) {
			due = append(due, sch)
		}
	}
	c.mu.Unlock()

	for _, sch := range due {
		c.fireOne(sch, now)
	}

	c.mu.Lock()
	c.rearmLocked()
	c.mu.Unlock()
}

func (c *CronScheduler) fireOne(sch *Schedule, firedAt time.Time) {
	req := &ExecutionRequest{
		ID:         fmt.Sprintf("%s-%d", sch.ID, firedAt.UnixNano()),
		WorkflowID: sch.Workflow.ID,
		Workflow:   sch.Workflow,
		EngineType: sch.EngineType,
		Parameters: sch.Parameters,
		Priority:   sch.Priority,
		CreatedAt:  firedAt,
	}

	_, err := c.svc.submitExecution(req)

	c.mu.Lock()
	sch.lastFire = firedAt
	sch.nextFire = sch.schedule.Next(firedAt)
	c.mu.Unlock()

	if err != nil {
		c.log.WithError(err).WithField("schedule_id", sch.ID).Warn("scheduled submission failed")
		c.bus.publish(Event{Kind: EventScheduleError, At: firedAt, Details: map[string]string{"schedule_id": sch.ID, "error": err.Error()}})
	}
}
