package job

import (
	"encoding/json"
	"time"
)

// Result is the outcome of a single handler execution.
type Result struct {
	Success  bool            `json:"success"`
	ExitCode *int            `json:"exit_code,omitempty"`
	Stdout   string          `json:"stdout,omitempty"`
	Stderr   string          `json:"stderr,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
}

// SuccessResult returns a successful result with exit code 0.
func SuccessResult() Result {
	code := 0
	return Result{Success: true, ExitCode: &code}
}

// FailureResult returns a failed result with the error message on
// stderr and exit code 1.
func FailureResult(errMsg string) Result {
	code := 1
	return Result{Success: false, ExitCode: &code, Stderr: errMsg}
}

// WithOutput returns a copy with stdout set.
func (r Result) WithOutput(stdout string) Result {
	r.Stdout = stdout
	return r
}

// WithData returns a copy with the structured payload set.
func (r Result) WithData(data json.RawMessage) Result {
	r.Data = data
	return r
}

// WithDuration returns a copy with the duration set.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// TriggerKind enumerates what caused an execution.
type TriggerKind string

const (
	TriggerScheduled  TriggerKind = "scheduled"
	TriggerManual     TriggerKind = "manual"
	TriggerDependency TriggerKind = "dependency"
	TriggerRetry      TriggerKind = "retry"
	TriggerWebhook    TriggerKind = "webhook"
)

// Trigger records what caused an execution. The payload fields are
// populated per kind: Parent for dependency triggers, Attempt for
// retries, Source for webhooks.
type Trigger struct {
	Kind    TriggerKind `json:"kind"`
	Parent  string      `json:"parent,omitempty"`
	Attempt int         `json:"attempt,omitempty"`
	Source  string      `json:"source,omitempty"`
}

// Scheduled is a cron or interval firing.
func Scheduled() Trigger { return Trigger{Kind: TriggerScheduled} }

// Manual is an explicit run request.
func Manual() Trigger { return Trigger{Kind: TriggerManual} }

// DependencyOf marks an execution triggered by a parent job finishing.
func DependencyOf(parentID string) Trigger {
	return Trigger{Kind: TriggerDependency, Parent: parentID}
}

// RetryAttempt marks a retry of a failed run.
func RetryAttempt(attempt int) Trigger {
	return Trigger{Kind: TriggerRetry, Attempt: attempt}
}

// WebhookFrom marks an execution triggered by an external webhook.
func WebhookFrom(source string) Trigger {
	return Trigger{Kind: TriggerWebhook, Source: source}
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerDependency:
		return "dependency:" + t.Parent
	case TriggerRetry:
		return string(TriggerRetry)
	case TriggerWebhook:
		return "webhook:" + t.Source
	case "":
		return string(TriggerManual)
	default:
		return string(t.Kind)
	}
}

// ExecutionRecord is the durable trace of one run.
type ExecutionRecord struct {
	RunID      RunID     `json:"run_id"`
	JobID      ID        `json:"job_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	FinalState State     `json:"final_state"`
	Result     *Result   `json:"result,omitempty"`
	Trigger    Trigger   `json:"trigger"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

// NewRecord opens a record for a run that is starting now.
func NewRecord(jobID ID, trigger Trigger) ExecutionRecord {
	state := NewRunning()
	return ExecutionRecord{
		RunID:      state.RunID,
		JobID:      jobID,
		StartedAt:  state.StartedAt,
		FinalState: state,
		Trigger:    trigger,
	}
}

// Complete closes the record with a result.
func (r *ExecutionRecord) Complete(res Result) {
	r.FinishedAt = time.Now().UTC()
	r.Result = &res
	r.FinalState = r.FinalState.Complete(res.Stdout)
}

// Fail closes the record with a failure.
func (r *ExecutionRecord) Fail(errMsg string, retryCount, maxRetries int) {
	r.FinishedAt = time.Now().UTC()
	res := FailureResult(errMsg)
	r.Result = &res
	r.FinalState = r.FinalState.Fail(errMsg, retryCount, maxRetries)
}

// Duration reports the wall-clock time of the run; ok is false while
// the run is still in flight.
func (r *ExecutionRecord) Duration() (time.Duration, bool) {
	if r.FinishedAt.IsZero() {
		return 0, false
	}
	return r.FinishedAt.Sub(r.StartedAt), true
}
