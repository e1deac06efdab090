package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskpilot/internal/cron"
	"taskpilot/internal/eventbus"
	"taskpilot/internal/job"
	"taskpilot/internal/storage"
	logx "taskpilot/pkg/logx"
)

// DefaultMaxJobs caps the registry size when not configured.
const DefaultMaxJobs = 10000

// Config tunes the scheduler registry.
type Config struct {
	MaxJobs       int
	AutoSave      bool
	LoadOnStartup bool
	Executor      ExecutorConfig
}

// DefaultConfig returns the standard setup: autosave on, load on
// startup, default executor.
func DefaultConfig() Config {
	return Config{
		MaxJobs:       DefaultMaxJobs,
		AutoSave:      true,
		LoadOnStartup: true,
		Executor:      DefaultExecutorConfig(),
	}
}

// Scheduler owns the job registry: add/remove, name lookup, due-job
// evaluation, and persistence through a storage.Store. Execution is
// delegated to the Executor.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	exec  *Executor

	mu     sync.RWMutex
	jobs   map[job.ID]*job.Job
	byName map[string]job.ID
	order  []job.ID
	dirty  bool
}

// New creates a scheduler over the given store. When LoadOnStartup is
// set, persisted jobs are loaded before returning.
func New(store storage.Store, cfg Config, log logx.Logger, bus eventbus.Bus) (*Scheduler, error) {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	s := &Scheduler{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		store:  store,
		exec:   NewExecutor(cfg.Executor, log, bus),
		jobs:   make(map[job.ID]*job.Job),
		byName: make(map[string]job.ID),
	}
	if cfg.LoadOnStartup {
		n, err := s.Load(context.Background())
		if err != nil {
			return nil, err
		}
		if n > 0 {
			s.log.Info("jobs loaded", logx.Int("jobs", n))
		}
	}
	return s, nil
}

// Executor returns the execution engine.
func (s *Scheduler) Executor() *Executor { return s.exec }

// Load replaces the registry with the store's contents.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	snaps, err := s.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	jobs := make(map[job.ID]*job.Job, len(snaps))
	byName := make(map[string]job.ID, len(snaps))
	order := make([]job.ID, 0, len(snaps))
	for _, snap := range snaps {
		j, err := job.FromSnapshot(snap)
		if err != nil {
			return 0, fmt.Errorf("restore job %q: %w", snap.Name, err)
		}
		jobs[j.ID()] = j
		byName[j.Name()] = j.ID()
		order = append(order, j.ID())
	}

	s.mu.Lock()
	s.jobs = jobs
	s.byName = byName
	s.order = order
	s.dirty = false
	s.mu.Unlock()
	return len(jobs), nil
}

// Save persists all jobs to the store.
func (s *Scheduler) Save(ctx context.Context) error {
	s.mu.Lock()
	snaps := make([]job.Snapshot, 0, len(s.order))
	for _, id := range s.order {
		snaps = append(snaps, s.jobs[id].Snapshot())
	}
	s.dirty = false
	s.mu.Unlock()

	return s.store.Save(ctx, snaps)
}

func (s *Scheduler) autoSave(ctx context.Context) {
	s.mu.RLock()
	needed := s.cfg.AutoSave && s.dirty
	s.mu.RUnlock()
	if !needed {
		return
	}
	if err := s.Save(ctx); err != nil {
		s.log.Error("autosave failed", logx.Err(err))
	}
}

// Add registers a job. Names must be unique; the registry is capped at
// MaxJobs.
func (s *Scheduler) Add(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	if _, exists := s.byName[j.Name()]; exists {
		s.mu.Unlock()
		return &DuplicateError{Name: j.Name()}
	}
	if len(s.jobs) >= s.cfg.MaxJobs {
		s.mu.Unlock()
		return &job.ValidationError{Field: "jobs", Message: fmt.Sprintf("registry full (%d jobs)", s.cfg.MaxJobs)}
	}
	s.jobs[j.ID()] = j
	s.byName[j.Name()] = j.ID()
	s.order = append(s.order, j.ID())
	s.dirty = true
	s.mu.Unlock()

	s.log.Info("job added", logx.String("job", j.Name()), logx.String("job_id", j.ID().String()))
	s.autoSave(ctx)
	return nil
}

// Remove unregisters a job and returns it.
func (s *Scheduler) Remove(ctx context.Context, id job.ID) (*job.Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, &NotFoundError{ID: id}
	}
	delete(s.jobs, id)
	delete(s.byName, j.Name())
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.dirty = true
	s.mu.Unlock()

	s.log.Info("job removed", logx.String("job", j.Name()))
	s.autoSave(ctx)
	return j, nil
}

// RemoveByName unregisters a job by name.
func (s *Scheduler) RemoveByName(ctx context.Context, name string) (*job.Job, error) {
	s.mu.RLock()
	id, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return s.Remove(ctx, id)
}

// Get returns the job for the id.
func (s *Scheduler) Get(id job.ID) (*job.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

// GetByName returns the job for the name.
func (s *Scheduler) GetByName(name string) (*job.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.jobs[id], true
}

// Contains reports whether the id is registered.
func (s *Scheduler) Contains(id job.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[id]
	return ok
}

// ContainsName reports whether the name is registered.
func (s *Scheduler) ContainsName(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[name]
	return ok
}

// Len is the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// IsEmpty reports whether the registry is empty.
func (s *Scheduler) IsEmpty() bool { return s.Len() == 0 }

// Jobs returns all jobs in insertion order.
func (s *Scheduler) Jobs() []*job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*job.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	return out
}

// JobIDs returns all ids in insertion order.
func (s *Scheduler) JobIDs() []job.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]job.ID, len(s.order))
	copy(out, s.order)
	return out
}

// FilterJobs returns the jobs matching the filter, in insertion order.
func (s *Scheduler) FilterJobs(f job.Filter) []*job.Job {
	var out []*job.Job
	for _, j := range s.Jobs() {
		if f.Matches(j) {
			out = append(out, j)
		}
	}
	return out
}

// ByTag returns the jobs carrying the tag.
func (s *Scheduler) ByTag(tag string) []*job.Job {
	return s.FilterJobs(job.Filter{Tag: tag})
}

// ByPriority returns the jobs at the given priority.
func (s *Scheduler) ByPriority(p job.Priority) []*job.Job {
	return s.FilterJobs(job.Filter{Priority: &p})
}

// EnabledJobs returns the enabled jobs.
func (s *Scheduler) EnabledJobs() []*job.Job {
	enabled := true
	return s.FilterJobs(job.Filter{Enabled: &enabled})
}

// Run executes a job immediately with a manual trigger.
func (s *Scheduler) Run(ctx context.Context, id job.ID) (job.ExecutionRecord, error) {
	j, ok := s.Get(id)
	if !ok {
		return job.ExecutionRecord{}, &NotFoundError{ID: id}
	}
	rec, err := s.exec.Execute(j)
	if err != nil {
		return rec, err
	}
	s.markDirty()
	s.autoSave(ctx)
	return rec, nil
}

// RunByName executes a job immediately by name.
func (s *Scheduler) RunByName(ctx context.Context, name string) (job.ExecutionRecord, error) {
	j, ok := s.GetByName(name)
	if !ok {
		return job.ExecutionRecord{}, &NotFoundError{Name: name}
	}
	rec, err := s.exec.Execute(j)
	if err != nil {
		return rec, err
	}
	s.markDirty()
	s.autoSave(ctx)
	return rec, nil
}

// RunPending executes every job whose schedule is due, in insertion
// order, and returns the ids that ran without a setup error. The due
// set is snapshotted first so jobs added during the sweep wait for the
// next tick.
func (s *Scheduler) RunPending(ctx context.Context, now time.Time) ([]job.ID, error) {
	s.mu.RLock()
	var due []job.ID
	for _, id := range s.order {
		if s.jobs[id].IsDue(now) {
			due = append(due, id)
		}
	}
	s.mu.RUnlock()

	var ran []job.ID
	for _, id := range due {
		j, ok := s.Get(id)
		if !ok {
			continue
		}
		if _, err := s.exec.ExecuteTrigger(j, job.Scheduled()); err != nil {
			if errors.Is(err, ErrShuttingDown) {
				break
			}
			s.log.Warn("scheduled run skipped",
				logx.String("job", j.Name()), logx.Err(err))
			continue
		}
		ran = append(ran, id)
	}
	if len(ran) > 0 {
		s.markDirty()
	}
	s.UpdateSchedules(now)
	s.autoSave(ctx)
	return ran, nil
}

// UpdateSchedules recomputes next_run for enabled recurring jobs:
// cron jobs from their expression, interval jobs from last run.
func (s *Scheduler) UpdateSchedules(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if !j.Enabled() || !j.Schedule().IsRecurring() {
			continue
		}
		sched := j.Schedule()
		switch sched.Kind {
		case job.ScheduleCron:
			expr, err := cron.Parse(sched.Expression)
			if err != nil {
				s.log.Warn("bad cron expression",
					logx.String("job", j.Name()), logx.Err(err))
				continue
			}
			next, ok := expr.Next(now)
			if !ok {
				s.log.Warn("no next firing",
					logx.String("job", j.Name()),
					logx.String("expression", sched.Expression))
				continue
			}
			if !next.Equal(j.NextRun()) {
				j.SetNextRun(next)
				s.dirty = true
			}
		case job.ScheduleInterval:
			next := now
			if last := j.LastRun(); !last.IsZero() {
				next = last.Add(sched.Every)
			}
			if !next.Equal(j.NextRun()) {
				j.SetNextRun(next)
				s.dirty = true
			}
		}
	}
}

// Cancel stops a running job. Returns false with no error when the job
// exists but is not running.
func (s *Scheduler) Cancel(ctx context.Context, id job.ID) (bool, error) {
	j, ok := s.Get(id)
	if !ok {
		return false, &NotFoundError{ID: id}
	}
	if !s.exec.Cancel(id) {
		return false, nil
	}
	runID := j.State().RunID
	j.SetState(job.NewCancelled(job.CancelReason{Kind: job.CancelUserRequested}, runID))
	s.markDirty()

	s.log.Info("job cancelled", logx.String("job", j.Name()))
	s.bus.Publish(eventbus.Event{Topic: eventbus.TopicJobCancelled, Data: eventbus.JobEvent{
		JobID: id.String(),
		Name:  j.Name(),
		RunID: runID.String(),
	}})
	s.autoSave(ctx)
	return true, nil
}

// Enable marks the job runnable.
func (s *Scheduler) Enable(ctx context.Context, id job.ID) error {
	j, ok := s.Get(id)
	if !ok {
		return &NotFoundError{ID: id}
	}
	j.Enable()
	s.markDirty()
	s.autoSave(ctx)
	return nil
}

// Disable takes the job out of scheduling; running executions finish.
func (s *Scheduler) Disable(ctx context.Context, id job.ID) error {
	j, ok := s.Get(id)
	if !ok {
		return &NotFoundError{ID: id}
	}
	j.Disable()
	s.markDirty()
	s.autoSave(ctx)
	return nil
}

// Shutdown stops the executor and persists the registry.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.exec.Shutdown()
	return s.Save(ctx)
}

func (s *Scheduler) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Status summarizes the engine for dashboards and logs.
type Status struct {
	TotalJobs     int
	EnabledJobs   int
	RunningJobs   int
	QueuedJobs    int
	TotalExecuted uint64
	SuccessRate   float64
}

func (st Status) String() string {
	return fmt.Sprintf("%d jobs (%d enabled), %d running, %d queued, %d executed (%.0f%% ok)",
		st.TotalJobs, st.EnabledJobs, st.RunningJobs, st.QueuedJobs,
		st.TotalExecuted, st.SuccessRate*100)
}

// Status reports the current engine summary.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	total := len(s.jobs)
	enabled := 0
	for _, j := range s.jobs {
		if j.Enabled() {
			enabled++
		}
	}
	s.mu.RUnlock()

	snap := s.exec.Stats().Snapshot()
	return Status{
		TotalJobs:     total,
		EnabledJobs:   enabled,
		RunningJobs:   snap.Running,
		QueuedJobs:    snap.Queued,
		TotalExecuted: snap.TotalExecuted,
		SuccessRate:   s.exec.Stats().SuccessRate(),
	}
}
