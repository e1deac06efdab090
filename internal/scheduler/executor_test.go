package scheduler

import (
	"errors"
	"testing"
	"time"

	"taskpilot/internal/eventbus"
	"taskpilot/internal/job"
	logx "taskpilot/pkg/logx"
)

func newExecutor(t *testing.T, cfg ExecutorConfig) *Executor {
	t.Helper()
	return NewExecutor(cfg, logx.Nop(), nil)
}

func funcJob(t *testing.T, name string, fn func() error) *job.Job {
	t.Helper()
	j, err := job.NewBuilder().
		Name(name).
		Handler(job.NewFunc(fn)).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return j
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	cfg := ExecutorConfig{
		RetryDelay:             5 * time.Second,
		RetryBackoffMultiplier: 2.0,
		MaxRetryDelay:          time.Minute,
	}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, time.Minute},
		{10, time.Minute},
	}
	for _, tc := range cases {
		if got := cfg.Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, ExecutorConfig{})
	cfg := e.Config()
	if cfg.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("MaxConcurrent = %d", cfg.MaxConcurrent)
	}
	if cfg.RetryDelay != 5*time.Second {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay)
	}
	if cfg.MaxRetryDelay != time.Hour {
		t.Errorf("MaxRetryDelay = %v", cfg.MaxRetryDelay)
	}
}

func TestEnqueueOrder(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, DefaultExecutorConfig())

	ids := []job.ID{job.NewID(), job.NewID(), job.NewID()}
	for _, id := range ids {
		if err := e.Enqueue(id, job.Scheduled()); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if e.QueueLen() != 3 {
		t.Fatalf("QueueLen = %d", e.QueueLen())
	}
	for i, want := range ids {
		got, trigger, ok := e.NextReady()
		if !ok {
			t.Fatalf("NextReady #%d: nothing ready", i)
		}
		if got != want {
			t.Fatalf("NextReady #%d = %s, want %s", i, got, want)
		}
		if trigger.Kind != job.TriggerScheduled {
			t.Fatalf("trigger = %s", trigger)
		}
	}
	if _, _, ok := e.NextReady(); ok {
		t.Fatal("queue should be drained")
	}
	if got := e.Stats().Snapshot().Queued; got != 0 {
		t.Fatalf("queued counter = %d", got)
	}
}

func TestEnqueueRetryDelays(t *testing.T) {
	t.Parallel()
	cfg := DefaultExecutorConfig()
	cfg.RetryDelay = time.Hour
	e := newExecutor(t, cfg)

	if err := e.EnqueueRetry(job.NewID(), 1); err != nil {
		t.Fatalf("enqueue retry: %v", err)
	}
	if _, _, ok := e.NextReady(); ok {
		t.Fatal("retry must not be ready before its backoff elapses")
	}
	if e.QueueLen() != 1 {
		t.Fatalf("QueueLen = %d", e.QueueLen())
	}
	if got := e.Stats().Snapshot().Retried; got != 1 {
		t.Fatalf("retried counter = %d", got)
	}
}

func TestShutdownRejectsWork(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, DefaultExecutorConfig())
	e.Shutdown()

	if !e.IsShuttingDown() {
		t.Fatal("IsShuttingDown = false")
	}
	if err := e.Enqueue(job.NewID(), job.Manual()); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Enqueue err = %v", err)
	}
	if err := e.EnqueueRetry(job.NewID(), 1); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("EnqueueRetry err = %v", err)
	}
	j := funcJob(t, "noop", func() error { return nil })
	if _, err := e.Execute(j); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Execute err = %v", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, DefaultExecutorConfig())
	ran := false
	j := funcJob(t, "greet", func() error { ran = true; return nil })

	rec, err := e.Execute(j)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !ran {
		t.Fatal("handler did not run")
	}
	if rec.FinalState.Status != job.StatusCompleted {
		t.Fatalf("record status = %s", rec.FinalState.Status)
	}
	if j.State().Status != job.StatusCompleted {
		t.Fatalf("job status = %s", j.State().Status)
	}
	if len(j.History()) != 1 {
		t.Fatalf("history len = %d", len(j.History()))
	}
	snap := e.Stats().Snapshot()
	if snap.TotalExecuted != 1 || snap.Successful != 1 || snap.Failed != 0 {
		t.Fatalf("stats = %+v", snap)
	}
	if rate := e.Stats().SuccessRate(); rate != 1.0 {
		t.Fatalf("success rate = %v", rate)
	}
}

func TestExecuteFailureSchedulesRetry(t *testing.T) {
	t.Parallel()
	cfg := DefaultExecutorConfig()
	cfg.RetryDelay = time.Hour
	e := newExecutor(t, cfg)
	j := funcJob(t, "flaky", func() error { return errors.New("boom") })

	rec, err := e.Execute(j)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.FinalState.Status != job.StatusFailed {
		t.Fatalf("record status = %s", rec.FinalState.Status)
	}
	if rec.FinalState.Error != "boom" {
		t.Fatalf("record error = %q", rec.FinalState.Error)
	}
	if !j.IsFailed() || !j.State().WillRetry {
		t.Fatalf("job state = %+v", j.State())
	}
	if !j.CanRetry() {
		t.Fatal("job must still have retry budget")
	}
	if e.QueueLen() != 1 {
		t.Fatalf("QueueLen = %d, retry not enqueued", e.QueueLen())
	}
	if len(j.History()) != 1 {
		t.Fatalf("history len = %d, failure not recorded", len(j.History()))
	}
	snap := e.Stats().Snapshot()
	if snap.Failed != 1 || snap.Retried != 1 {
		t.Fatalf("stats = %+v", snap)
	}
	if rate := e.Stats().SuccessRate(); rate != 0 {
		t.Fatalf("success rate = %v", rate)
	}
}

func waitNextReady(t *testing.T, e *Executor) (job.ID, job.Trigger) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if id, trigger, ok := e.NextReady(); ok {
			return id, trigger
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("nothing became ready")
	return job.ID{}, job.Trigger{}
}

func TestRetryBudgetExhaustsAcrossAttempts(t *testing.T) {
	t.Parallel()
	cfg := DefaultExecutorConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.RetryBackoffMultiplier = 1.0
	e := newExecutor(t, cfg)
	j, err := job.NewBuilder().
		Name("doomed").
		Handler(job.NewFunc(func() error { return errors.New("boom") })).
		Retries(2).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, err := e.Execute(j); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if st := j.State(); st.RetryCount != 1 || !st.WillRetry {
		t.Fatalf("after first failure: retry_count=%d will_retry=%v", st.RetryCount, st.WillRetry)
	}

	id, trigger := waitNextReady(t, e)
	if id != j.ID() {
		t.Fatalf("popped %s, want %s", id, j.ID())
	}
	if trigger.Kind != job.TriggerRetry || trigger.Attempt != 1 {
		t.Fatalf("trigger = %+v", trigger)
	}
	if _, err := e.ExecuteTrigger(j, trigger); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if st := j.State(); st.RetryCount != 2 || st.WillRetry {
		t.Fatalf("after second failure: retry_count=%d will_retry=%v", st.RetryCount, st.WillRetry)
	}
	if !j.State().IsTerminal() || j.CanRetry() {
		t.Fatal("retry budget must be exhausted")
	}
	if e.QueueLen() != 0 {
		t.Fatalf("QueueLen = %d, exhausted job re-enqueued", e.QueueLen())
	}
}

func TestExecuteFailureExhausted(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, DefaultExecutorConfig())
	j, err := job.NewBuilder().
		Name("oneshot").
		Handler(job.NewFunc(func() error { return errors.New("boom") })).
		Retries(0).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, err := e.Execute(j); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if j.State().WillRetry {
		t.Fatal("exhausted job must not retry")
	}
	if !j.State().IsTerminal() {
		t.Fatal("exhausted failure must be terminal")
	}
	if e.QueueLen() != 0 {
		t.Fatalf("QueueLen = %d, nothing should be queued", e.QueueLen())
	}
}

func TestExecuteDisabled(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, DefaultExecutorConfig())
	j := funcJob(t, "paused-job", func() error { return nil })
	j.Disable()

	_, err := e.Execute(j)
	var verr *job.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestExecuteNoHandler(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, DefaultExecutorConfig())
	j, err := job.NewBuilder().Name("empty").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	_, err = e.Execute(j)
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("err = %v, want execution error", err)
	}
}

func TestCancelRunningOnly(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, DefaultExecutorConfig())
	if e.Cancel(job.NewID()) {
		t.Fatal("cancel of unknown job must be false")
	}

	release := make(chan struct{})
	done := make(chan struct{})
	j := funcJob(t, "longrunner", func() error {
		<-release
		return nil
	})
	go func() {
		defer close(done)
		_, _ = e.Execute(j)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !e.IsRunning(j.ID()) {
		if time.Now().After(deadline) {
			t.Fatal("job never started")
		}
		time.Sleep(time.Millisecond)
	}
	if got := e.RunningCount(); got != 1 {
		t.Fatalf("RunningCount = %d", got)
	}
	if !e.Cancel(j.ID()) {
		t.Fatal("cancel of running job must be true")
	}
	if e.IsRunning(j.ID()) {
		t.Fatal("job still in running set after cancel")
	}
	close(release)
	<-done
}

func TestClearQueue(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, DefaultExecutorConfig())
	_ = e.Enqueue(job.NewID(), job.Manual())
	_ = e.Enqueue(job.NewID(), job.Manual())
	e.ClearQueue()
	if e.QueueLen() != 0 {
		t.Fatalf("QueueLen = %d", e.QueueLen())
	}
	if got := e.Stats().Snapshot().Queued; got != 0 {
		t.Fatalf("queued counter = %d", got)
	}
}

func TestExecutePublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	e := NewExecutor(DefaultExecutorConfig(), logx.Nop(), bus)
	events, unsub := bus.Subscribe(8)
	defer unsub()

	j := funcJob(t, "observed", func() error { return nil })
	if _, err := e.Execute(j); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := []string{eventbus.TopicJobStarted, eventbus.TopicJobCompleted}
	for _, topic := range want {
		select {
		case ev := <-events:
			if ev.Topic != topic {
				t.Fatalf("topic = %s, want %s", ev.Topic, topic)
			}
			payload, ok := ev.Data.(eventbus.JobEvent)
			if !ok || payload.JobID != j.ID().String() {
				t.Fatalf("payload = %+v", ev.Data)
			}
		default:
			t.Fatalf("missing %s event", topic)
		}
	}
}
