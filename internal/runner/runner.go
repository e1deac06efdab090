// Package runner drives the scheduler: a tick loop that recomputes
// schedules and fires due jobs, plus a small worker pool that drains
// the executor's pending queue (manual enqueues and delayed retries).
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"taskpilot/internal/job"
	"taskpilot/internal/scheduler"
	logx "taskpilot/pkg/logx"
)

// Config tunes the run loop.
type Config struct {
	Workers      int
	TickInterval time.Duration
	PollInterval time.Duration
	// DispatchRate limits how many queued executions per second the
	// workers may start; 0 means unlimited.
	DispatchRate  float64
	DispatchBurst int
}

// DefaultConfig matches minute-granularity cron schedules: a 15s tick
// is tight enough to never miss a minute boundary.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		TickInterval: 15 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.DispatchRate > 0 && c.DispatchBurst <= 0 {
		c.DispatchBurst = 1
	}
	return c
}

// Runner owns the background goroutines around a Scheduler. Start and
// Stop are idempotent.
type Runner struct {
	cfg     Config
	log     logx.Logger
	sched   *scheduler.Scheduler
	limiter *rate.Limiter

	started atomic.Bool
	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a runner over the scheduler.
func New(sched *scheduler.Scheduler, cfg Config, log logx.Logger) *Runner {
	cfg = cfg.normalized()
	if log.IsZero() {
		log = logx.Nop()
	}
	var limiter *rate.Limiter
	if cfg.DispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), cfg.DispatchBurst)
	}
	return &Runner{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "runner")),
		sched:   sched,
		limiter: limiter,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the tick loop and dispatch workers. A second call is a
// no-op; a stopped runner cannot be restarted.
func (r *Runner) Start(ctx context.Context) error {
	if r.stopped.Load() {
		return fmt.Errorf("runner already stopped")
	}
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}

	// Prime next-run times so the first tick sees fresh schedules.
	r.sched.UpdateSchedules(time.Now().UTC())

	r.wg.Add(1)
	go r.tickLoop(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.log.Info("runner started",
		logx.Int("workers", r.cfg.Workers),
		logx.Duration("tick", r.cfg.TickInterval))
	return nil
}

// Stop halts the loops and waits for in-flight work to finish.
func (r *Runner) Stop() {
	if !r.started.Load() {
		r.stopped.Store(true)
		return
	}
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
	r.log.Info("runner stopped")
}

func (r *Runner) tickLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tick panic",
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	now := time.Now().UTC()
	ran, err := r.sched.RunPending(ctx, now)
	if err != nil {
		r.log.Error("scheduled sweep failed", logx.Err(err))
		return
	}
	if len(ran) > 0 {
		r.log.Debug("scheduled sweep", logx.Int("ran", len(ran)))
	}
}

func (r *Runner) worker(ctx context.Context, idx int) {
	defer r.wg.Done()
	exec := r.sched.Executor()

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		id, trigger, ok := exec.NextReady()
		if !ok {
			tmr := time.NewTimer(r.cfg.PollInterval)
			select {
			case <-ctx.Done():
				tmr.Stop()
				return
			case <-r.stopCh:
				tmr.Stop()
				return
			case <-tmr.C:
			}
			continue
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
		}
		r.dispatch(id, trigger, idx)
	}
}

func (r *Runner) dispatch(id job.ID, trigger job.Trigger, idx int) {
	// Guard against handler panics: one bad job must not kill a worker.
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("dispatch panic",
				logx.String("job_id", id.String()),
				logx.Int("worker", idx),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	j, ok := r.sched.Get(id)
	if !ok {
		// Removed while queued.
		r.log.Debug("queued job vanished", logx.String("job_id", id.String()))
		return
	}
	if _, err := r.sched.Executor().ExecuteTrigger(j, trigger); err != nil {
		r.log.Warn("dispatch skipped",
			logx.String("job", j.Name()), logx.Err(err))
	}
}
