package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/logger"
	"github.com/teranos/keywatch/sym"
)

// NextScheduler is implemented by stores that can report the soonest run,
// used only for the per-tick log line.
type NextScheduler interface {
	GetNextScheduled(ctx context.Context) (*Schedule, error)
}

// Ticker is the scheduler loop. On every tick it lists due schedules, takes
// the lock for each one not already held locally and starts its pipeline on
// a separate goroutine. A tick never waits for a pipeline.
type Ticker struct {
	store    Store
	locks    *LockCoordinator
	pipeline *Pipeline
	interval time.Duration
	recover  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // loop goroutine
	execWG sync.WaitGroup // in-flight pipelines

	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger // Logger with Pulse symbol pre-attached
	now      func() time.Time

	mu              sync.Mutex
	started         bool
	lastTickAt      time.Time
	ticksSinceStart int64
	dispatched      int64
	skipped         int64
	succeeded       int64
	exhausted       int64
	lastTickError   string
	running         map[string]Execution
	lastInFlight    int
}

// TickerConfig contains configuration for the scheduler loop
type TickerConfig struct {
	Interval         time.Duration // How often to look for due schedules (default: 1 minute)
	RecoverOnStartup bool          // Reset abandoned locks before the first tick
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:         time.Minute,
		RecoverOnStartup: true,
	}
}

// NewTicker creates a scheduler loop
func NewTicker(store Store, locks *LockCoordinator, pipeline *Pipeline, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, locks, pipeline, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context. Cancelling
// the parent stops ticking; in-flight pipelines still run to completion.
func NewTickerWithContext(ctx context.Context, store Store, locks *LockCoordinator, pipeline *Pipeline, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		store:    store,
		locks:    locks,
		pipeline: pipeline,
		interval: cfg.Interval,
		recover:  cfg.RecoverOnStartup,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   log,
		pulseLog: logger.AddPulseSymbol(log),
		now:      time.Now,
		running:  make(map[string]Execution),
	}
}

// Start recovers abandoned locks when configured, then begins the loop.
// Recovery runs before the first tick; if it fails the loop is not started.
func (t *Ticker) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("ticker already started")
	}
	t.started = true
	t.mu.Unlock()

	if t.recover {
		if _, err := t.locks.RecoverOnStartup(t.ctx); err != nil {
			return err
		}
	}

	t.wg.Add(1)
	go t.run()
	t.pulseLog.Infow(sym.PulseOpen+" Pulse ticker started", "interval", t.interval)
	return nil
}

// Stop stops ticking, then waits for every in-flight pipeline to finish
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()

	if n := t.inFlight(); n > 0 {
		t.pulseLog.Infow("Waiting for in-flight executions", logger.FieldCount, n)
	}
	t.execWG.Wait()
	t.pulseLog.Infow(sym.PulseClose + " Pulse ticker stopped")
}

// Wait blocks until every pipeline dispatched so far has finished
func (t *Ticker) Wait() {
	t.execWG.Wait()
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if err := t.Tick(t.now()); err != nil {
				// Store outages land here every tick until connectivity returns
				t.pulseLog.Warnw("Pulse tick error", logger.FieldError, err, logger.FieldTick, t.ticks())
			}
		}
	}
}

// Tick runs one scheduling pass at now. Pipelines are dispatched and not
// awaited. An error means the due list could not be read; nothing was dispatched.
func (t *Ticker) Tick(now time.Time) error {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	t.mu.Unlock()

	t.logNextInfo(now)

	due, err := t.store.ListDue(t.ctx, now)
	if err != nil {
		t.setTickError(err)
		return errors.Wrap(err, "failed to list due schedules")
	}
	t.setTickError(nil)

	for _, sched := range due {
		select {
		case <-t.ctx.Done():
			return nil
		default:
		}

		if t.locks.IsHeld(sched.ID) {
			t.countSkip()
			continue
		}

		acquired, err := t.locks.Acquire(t.ctx, sched.ID)
		if err != nil {
			t.pulseLog.Warnw("Failed to acquire schedule lock",
				logger.FieldScheduleID, sched.ID,
				logger.FieldError, err)
			continue
		}
		if !acquired {
			// Another runner has it, or it stopped qualifying since the list
			t.countSkip()
			continue
		}

		t.dispatch(sched)
	}

	return nil
}

func (t *Ticker) dispatch(sched *Schedule) {
	t.mu.Lock()
	t.dispatched++
	t.running[sched.ID] = Execution{ScheduleID: sched.ID, Keyword: sched.Keyword, StartedAt: t.now(), Outcome: OutcomeRunning}
	t.mu.Unlock()

	// Pipelines outlive the loop's cancellation so Stop can drain them
	execCtx := context.WithoutCancel(t.ctx)

	t.execWG.Add(1)
	go func() {
		defer t.execWG.Done()

		var outcome Outcome
		defer func() {
			if r := recover(); r != nil {
				outcome = OutcomeFailure
				t.pulseLog.Errorw("Execution goroutine panicked",
					logger.FieldScheduleID, sched.ID,
					logger.FieldError, fmt.Sprintf("%v", r))
			}
			t.finish(sched.ID, outcome)
		}()

		if exec := t.pipeline.Execute(execCtx, sched); exec != nil {
			outcome = exec.Outcome
		}
	}()
}

// finish drops a dispatched schedule from the in-flight set and counts its outcome
func (t *Ticker) finish(scheduleID string, outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.running, scheduleID)
	if outcome == OutcomeSuccess {
		t.succeeded++
	} else {
		t.exhausted++
	}
}

// logNextInfo logs time until the next scheduled execution when the
// in-flight count changes
func (t *Ticker) logNextInfo(now time.Time) {
	active := t.inFlight()

	t.mu.Lock()
	hasChanged := active != t.lastInFlight
	t.lastInFlight = active
	t.mu.Unlock()

	if !hasChanged {
		return
	}

	indicator := ""
	if active > 0 {
		n := min(active/5+1, 20)
		indicator = strings.TrimSpace(strings.Repeat(sym.Pulse+" ", n)) + " "
	}

	ns, ok := t.store.(NextScheduler)
	if !ok {
		t.pulseLog.Infow(fmt.Sprintf("%sPulse - %d executions active", indicator, active))
		return
	}

	next, err := ns.GetNextScheduled(t.ctx)
	if err != nil {
		t.pulseLog.Warnw("Failed to get next scheduled execution", logger.FieldError, err)
		return
	}
	if next == nil || next.NextRunAt == nil {
		t.pulseLog.Infow(fmt.Sprintf("%sPulse - no scheduled executions, %d active", indicator, active))
		return
	}

	until := next.NextRunAt.Sub(now)
	if until < 0 {
		until = 0
	}
	t.pulseLog.Infow(fmt.Sprintf("%sPulse - next execution '%s' in %s, %d active",
		indicator, next.Keyword, until.Round(time.Second), active))
}

func (t *Ticker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}

func (t *Ticker) ticks() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticksSinceStart
}

func (t *Ticker) countSkip() {
	t.mu.Lock()
	t.skipped++
	t.mu.Unlock()
}

func (t *Ticker) setTickError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.lastTickError = ""
		return
	}
	t.lastTickError = err.Error()
}

// Running returns the executions currently in flight in this process
func (t *Ticker) Running() []Execution {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Execution, 0, len(t.running))
	for _, exec := range t.running {
		out = append(out, exec)
	}
	return out
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	stats := map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval.String(),
		"dispatched":        t.dispatched,
		"skipped":           t.skipped,
		"succeeded":         t.succeeded,
		"exhausted":         t.exhausted,
		"in_flight":         len(t.running),
		"last_tick_error":   t.lastTickError,
	}
	t.mu.Unlock()

	stats["locks_held"] = len(t.locks.Held())
	if mem, err := readSystemMemory(); err == nil {
		stats["memory_used_gb"] = mem.UsedGB
		stats["memory_total_gb"] = mem.TotalGB
		stats["memory_percent"] = mem.Percent
	}
	return stats
}
