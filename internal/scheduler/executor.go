package scheduler

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"taskpilot/internal/eventbus"
	"taskpilot/internal/job"
	logx "taskpilot/pkg/logx"
)

// DefaultMaxConcurrent bounds parallel executions when not configured.
const DefaultMaxConcurrent = 16

// ExecutorConfig tunes concurrency and retry behavior.
type ExecutorConfig struct {
	MaxConcurrent          int
	DefaultTimeout         time.Duration
	RetryEnabled           bool
	RetryDelay             time.Duration
	RetryBackoffMultiplier float64
	MaxRetryDelay          time.Duration
}

// DefaultExecutorConfig mirrors a conservative production setup:
// 16-way concurrency, 5s base retry delay doubling up to an hour.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:          DefaultMaxConcurrent,
		DefaultTimeout:         5 * time.Minute,
		RetryEnabled:           true,
		RetryDelay:             5 * time.Second,
		RetryBackoffMultiplier: 2.0,
		MaxRetryDelay:          time.Hour,
	}
}

func (c ExecutorConfig) normalized() ExecutorConfig {
	def := DefaultExecutorConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.RetryBackoffMultiplier <= 0 {
		c.RetryBackoffMultiplier = def.RetryBackoffMultiplier
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	return c
}

// Backoff computes the delay before the given retry attempt:
// base * multiplier^attempt, capped at MaxRetryDelay. Attempt 0 gets
// the base delay.
func (c ExecutorConfig) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.RetryDelay
	}
	delay := float64(c.RetryDelay) * math.Pow(c.RetryBackoffMultiplier, float64(attempt))
	if max := float64(c.MaxRetryDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// Stats tracks executor counters. Safe for concurrent use.
type Stats struct {
	totalExecuted atomic.Uint64
	successful    atomic.Uint64
	failed        atomic.Uint64
	retried       atomic.Uint64
	running       atomic.Int64
	queued        atomic.Int64
}

func (s *Stats) recordSuccess() {
	s.totalExecuted.Add(1)
	s.successful.Add(1)
}

func (s *Stats) recordFailure() {
	s.totalExecuted.Add(1)
	s.failed.Add(1)
}

// SuccessRate is successful/total; 1.0 before anything has run.
func (s *Stats) SuccessRate() float64 {
	total := s.totalExecuted.Load()
	if total == 0 {
		return 1.0
	}
	return float64(s.successful.Load()) / float64(total)
}

// Snapshot returns a consistent-enough copy for reporting.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalExecuted: s.totalExecuted.Load(),
		Successful:    s.successful.Load(),
		Failed:        s.failed.Load(),
		Retried:       s.retried.Load(),
		Running:       int(s.running.Load()),
		Queued:        int(s.queued.Load()),
	}
}

// StatsSnapshot is an immutable view of Stats.
type StatsSnapshot struct {
	TotalExecuted uint64
	Successful    uint64
	Failed        uint64
	Retried       uint64
	Running       int
	Queued        int
}

type pendingExecution struct {
	jobID       job.ID
	trigger     job.Trigger
	scheduledAt time.Time
	attempt     int
}

type runningJob struct {
	runID     job.RunID
	startedAt time.Time
}

// Executor runs job handlers with concurrency accounting, a pending
// queue, and retry scheduling. It is safe for concurrent use; the jobs
// passed to Execute are not, so callers serialize per job.
type Executor struct {
	cfg ExecutorConfig
	log logx.Logger
	bus eventbus.Bus

	shutdown atomic.Bool

	runMu   sync.RWMutex
	running map[job.ID]runningJob

	queueMu sync.Mutex
	queue   []pendingExecution

	stats Stats
}

// NewExecutor creates an executor. A nil bus gets a private one.
func NewExecutor(cfg ExecutorConfig, log logx.Logger, bus eventbus.Bus) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Executor{
		cfg:     cfg.normalized(),
		log:     log.With(logx.String("comp", "executor")),
		bus:     bus,
		running: make(map[job.ID]runningJob),
	}
}

// Config returns the effective configuration.
func (e *Executor) Config() ExecutorConfig { return e.cfg }

// Stats exposes the counters.
func (e *Executor) Stats() *Stats { return &e.stats }

// Shutdown stops intake. It is one-way; there is no restart.
func (e *Executor) Shutdown() {
	if e.shutdown.CompareAndSwap(false, true) {
		e.log.Info("executor shutting down")
	}
}

// IsShuttingDown reports whether Shutdown was signalled.
func (e *Executor) IsShuttingDown() bool { return e.shutdown.Load() }

// RunningCount is the number of in-flight executions.
func (e *Executor) RunningCount() int {
	e.runMu.RLock()
	defer e.runMu.RUnlock()
	return len(e.running)
}

// QueueLen is the number of pending executions, due or not.
func (e *Executor) QueueLen() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// CanAccept reports whether a new execution could start now.
func (e *Executor) CanAccept() bool {
	return !e.IsShuttingDown() && e.RunningCount() < e.cfg.MaxConcurrent
}

// Enqueue queues a job for execution as soon as a dispatcher picks it
// up.
func (e *Executor) Enqueue(id job.ID, trigger job.Trigger) error {
	if e.IsShuttingDown() {
		return ErrShuttingDown
	}
	e.queueMu.Lock()
	e.queue = append(e.queue, pendingExecution{
		jobID:       id,
		trigger:     trigger,
		scheduledAt: time.Now().UTC(),
	})
	e.queueMu.Unlock()
	e.stats.queued.Add(1)

	e.publish(eventbus.TopicJobQueued, eventbus.JobEvent{
		JobID:   id.String(),
		Trigger: trigger.String(),
	})
	return nil
}

// EnqueueRetry queues a retry, delayed by the backoff for the attempt.
func (e *Executor) EnqueueRetry(id job.ID, attempt int) error {
	if e.IsShuttingDown() {
		return ErrShuttingDown
	}
	delay := e.cfg.Backoff(attempt)
	e.queueMu.Lock()
	e.queue = append(e.queue, pendingExecution{
		jobID:       id,
		trigger:     job.RetryAttempt(attempt),
		scheduledAt: time.Now().UTC().Add(delay),
		attempt:     attempt,
	})
	e.queueMu.Unlock()
	e.stats.queued.Add(1)
	e.stats.retried.Add(1)

	e.log.Debug("retry scheduled",
		logx.String("job_id", id.String()),
		logx.Int("attempt", attempt),
		logx.Duration("delay", delay))
	e.publish(eventbus.TopicJobRetry, eventbus.JobEvent{
		JobID:   id.String(),
		Attempt: attempt,
	})
	return nil
}

// NextReady pops the first queued execution whose scheduled time has
// passed, preserving queue order for the rest.
func (e *Executor) NextReady() (job.ID, job.Trigger, bool) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	now := time.Now().UTC()
	for i, p := range e.queue {
		if p.scheduledAt.After(now) {
			continue
		}
		e.queue = append(e.queue[:i], e.queue[i+1:]...)
		e.stats.queued.Add(-1)
		return p.jobID, p.trigger, true
	}
	return job.ID{}, job.Trigger{}, false
}

// ClearQueue drops all pending executions.
func (e *Executor) ClearQueue() {
	e.queueMu.Lock()
	n := len(e.queue)
	e.queue = nil
	e.queueMu.Unlock()
	e.stats.queued.Add(-int64(n))
	if n > 0 {
		e.log.Info("queue cleared", logx.Int("dropped", n))
	}
}

// RunningJobs lists the ids of in-flight executions.
func (e *Executor) RunningJobs() []job.ID {
	e.runMu.RLock()
	defer e.runMu.RUnlock()
	ids := make([]job.ID, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	return ids
}

// IsRunning reports whether the job has an in-flight execution.
func (e *Executor) IsRunning(id job.ID) bool {
	e.runMu.RLock()
	defer e.runMu.RUnlock()
	_, ok := e.running[id]
	return ok
}

// Cancel drops the job from the running set. The handler itself is not
// preempted; its eventual result is discarded by the caller.
func (e *Executor) Cancel(id job.ID) bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if _, ok := e.running[id]; !ok {
		return false
	}
	delete(e.running, id)
	return true
}

// Execute runs the job now with a manual trigger.
func (e *Executor) Execute(j *job.Job) (job.ExecutionRecord, error) {
	return e.ExecuteTrigger(j, job.Manual())
}

// ExecuteTrigger runs the job's handler synchronously and applies the
// outcome to the job.
//
// A handler failure is recorded on the job and in the returned record;
// the error return is reserved for setup problems: shutdown, disabled
// job, missing handler.
func (e *Executor) ExecuteTrigger(j *job.Job, trigger job.Trigger) (job.ExecutionRecord, error) {
	if e.IsShuttingDown() {
		return job.ExecutionRecord{}, ErrShuttingDown
	}
	if !j.Enabled() {
		return job.ExecutionRecord{}, &job.ValidationError{Field: "enabled", Message: "job is disabled"}
	}
	handler := j.Handler()
	if handler == nil {
		return job.ExecutionRecord{}, execErr("job %s has no handler", j.Name())
	}

	// The attempt rides on the trigger; StartExecution replaces any
	// failed state before the outcome lands.
	attempt := 0
	if trigger.Kind == job.TriggerRetry {
		attempt = trigger.Attempt
	}

	rec := j.StartExecution(trigger)
	e.stats.running.Add(1)
	e.runMu.Lock()
	e.running[j.ID()] = runningJob{runID: rec.RunID, startedAt: time.Now()}
	e.runMu.Unlock()

	e.log.Info("job started",
		logx.String("job", j.Name()),
		logx.String("run_id", rec.RunID.String()),
		logx.String("trigger", trigger.String()))
	e.publish(eventbus.TopicJobStarted, eventbus.JobEvent{
		JobID:   j.ID().String(),
		Name:    j.Name(),
		RunID:   rec.RunID.String(),
		Trigger: trigger.String(),
	})

	res, err := handler.Execute()

	e.runMu.Lock()
	delete(e.running, j.ID())
	e.runMu.Unlock()
	e.stats.running.Add(-1)

	if err == nil && res.Success {
		rec.Complete(res)
		j.CompleteExecution(&rec)
		e.stats.recordSuccess()

		took, _ := rec.Duration()
		e.log.Info("job completed",
			logx.String("job", j.Name()),
			logx.String("run_id", rec.RunID.String()),
			logx.Duration("took", took))
		e.publish(eventbus.TopicJobCompleted, eventbus.JobEvent{
			JobID: j.ID().String(),
			Name:  j.Name(),
			RunID: rec.RunID.String(),
			Took:  took,
		})
		return rec, nil
	}

	errMsg := "handler returned failure"
	if err != nil {
		errMsg = err.Error()
	} else if res.Stderr != "" {
		errMsg = res.Stderr
	}
	retryCount := attempt + 1
	rec.Fail(errMsg, retryCount, j.MaxRetries())
	j.FailExecution(errMsg, retryCount)
	j.AppendHistory(rec)
	e.stats.recordFailure()

	e.log.Warn("job failed",
		logx.String("job", j.Name()),
		logx.String("run_id", rec.RunID.String()),
		logx.Int("retry_count", retryCount),
		logx.String("error", errMsg))
	e.publish(eventbus.TopicJobFailed, eventbus.JobEvent{
		JobID:   j.ID().String(),
		Name:    j.Name(),
		RunID:   rec.RunID.String(),
		Attempt: retryCount,
		Error:   errMsg,
	})

	if e.cfg.RetryEnabled && j.CanRetry() {
		if err := e.EnqueueRetry(j.ID(), retryCount); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func (e *Executor) publish(topic string, ev eventbus.JobEvent) {
	e.bus.Publish(eventbus.Event{Topic: topic, Data: ev})
}
