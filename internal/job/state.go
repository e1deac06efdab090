package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunID identifies a single execution run.
type RunID = uuid.UUID

// NewRunID returns a fresh random run identifier.
func NewRunID() RunID { return uuid.New() }

// Status enumerates the phases of the job state machine.
type Status uint8

const (
	StatusPending Status = iota
	StatusQueued
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusPaused
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusQueued:    "queued",
	StatusRunning:   "running",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
	StatusCancelled: "cancelled",
	StatusPaused:    "paused",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for st, name := range statusNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown job status %q", string(b))
}

// CancelKind enumerates why a job was cancelled.
type CancelKind uint8

const (
	CancelUserRequested CancelKind = iota
	CancelTimeout
	CancelShutdown
	CancelDependencyFailed
	CancelSuperseded
	CancelOther
)

var cancelKindNames = map[CancelKind]string{
	CancelUserRequested:    "user_requested",
	CancelTimeout:          "timeout",
	CancelShutdown:         "shutdown",
	CancelDependencyFailed: "dependency_failed",
	CancelSuperseded:       "superseded",
	CancelOther:            "other",
}

func (k CancelKind) String() string {
	if name, ok := cancelKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("cancel(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k CancelKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *CancelKind) UnmarshalText(b []byte) error {
	for ck, name := range cancelKindNames {
		if name == string(b) {
			*k = ck
			return nil
		}
	}
	return fmt.Errorf("unknown cancel kind %q", string(b))
}

// CancelReason records why a job was cancelled. Detail carries the
// failed dependency id for CancelDependencyFailed and free text for
// CancelOther.
type CancelReason struct {
	Kind   CancelKind `json:"kind"`
	Detail string     `json:"detail,omitempty"`
}

func (r CancelReason) String() string {
	switch r.Kind {
	case CancelUserRequested:
		return "user requested"
	case CancelTimeout:
		return "timeout exceeded"
	case CancelShutdown:
		return "scheduler shutdown"
	case CancelDependencyFailed:
		return "dependency " + r.Detail + " failed"
	case CancelSuperseded:
		return "superseded by newer run"
	default:
		return r.Detail
	}
}

// State is one position in the job state machine. Only the fields
// relevant to Status are populated; the rest stay zero.
type State struct {
	Status Status `json:"status"`

	// Queued.
	QueuedAt time.Time `json:"queued_at,omitzero"`
	Position int       `json:"position,omitempty"` // 0 when untracked

	// Running; RunID is preserved into Completed/Failed.
	StartedAt time.Time `json:"started_at,omitzero"`
	RunID     RunID     `json:"run_id,omitzero"`
	PID       int       `json:"pid,omitempty"`
	Progress  int       `json:"progress,omitempty"` // 0-100, 0 when unreported

	// Completed.
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Duration   time.Duration `json:"duration,omitempty"`
	Output     string        `json:"output,omitempty"`

	// Failed.
	FailedAt   time.Time `json:"failed_at,omitzero"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
	WillRetry  bool      `json:"will_retry,omitempty"`

	// Cancelled.
	CancelledAt time.Time    `json:"cancelled_at,omitzero"`
	Reason      CancelReason `json:"reason,omitzero"`

	// Paused; the state to restore on resume.
	PausedAt time.Time `json:"paused_at,omitzero"`
	Previous *State    `json:"previous,omitempty"`
}

// NewPending returns the initial state.
func NewPending() State { return State{Status: StatusPending} }

// NewQueued marks the job as waiting for an executor slot.
func NewQueued() State {
	return State{Status: StatusQueued, QueuedAt: time.Now().UTC()}
}

// NewRunning starts a run with a fresh RunID.
func NewRunning() State {
	return State{
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		RunID:     NewRunID(),
	}
}

// Complete transitions to Completed, keeping the RunID and start time
// when transitioning out of Running.
func (s State) Complete(output string) State {
	runID, startedAt := s.RunID, s.StartedAt
	if s.Status != StatusRunning {
		runID, startedAt = NewRunID(), time.Now().UTC()
	}
	now := time.Now().UTC()
	d := now.Sub(startedAt)
	if d < 0 {
		d = 0
	}
	return State{
		Status:     StatusCompleted,
		RunID:      runID,
		FinishedAt: now,
		Duration:   d,
		Output:     output,
	}
}

// Fail transitions to Failed. WillRetry is decided here, from the retry
// count at the time of failure, and never recomputed.
func (s State) Fail(errMsg string, retryCount, maxRetries int) State {
	runID := s.RunID
	if s.Status != StatusRunning {
		runID = NewRunID()
	}
	return State{
		Status:     StatusFailed,
		RunID:      runID,
		FailedAt:   time.Now().UTC(),
		Error:      errMsg,
		RetryCount: retryCount,
		WillRetry:  retryCount < maxRetries,
	}
}

// NewCancelled records a cancellation. runID may be uuid.Nil when the
// job was not running.
func NewCancelled(reason CancelReason, runID RunID) State {
	return State{
		Status:      StatusCancelled,
		CancelledAt: time.Now().UTC(),
		Reason:      reason,
		RunID:       runID,
	}
}

// Pause wraps the current state so it can be restored later.
func (s State) Pause() State {
	prev := s
	return State{
		Status:   StatusPaused,
		PausedAt: time.Now().UTC(),
		Previous: &prev,
	}
}

// Resume restores the state saved by Pause. Resuming a non-paused
// state returns it unchanged.
func (s State) Resume() State {
	if s.Status != StatusPaused {
		return s
	}
	if s.Previous == nil {
		return NewPending()
	}
	return *s.Previous
}

// IsTerminal reports whether no further transitions are expected.
// Failed counts as terminal only once its retry budget is spent.
func (s State) IsTerminal() bool {
	switch s.Status {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed:
		return !s.WillRetry
	default:
		return false
	}
}

// IsActive reports whether the job is queued or running.
func (s State) IsActive() bool {
	return s.Status == StatusQueued || s.Status == StatusRunning
}

// IsCancellable reports whether a cancel request makes sense.
func (s State) IsCancellable() bool {
	switch s.Status {
	case StatusPending, StatusQueued, StatusRunning, StatusPaused:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s.Status {
	case StatusPending:
		return "Pending"
	case StatusQueued:
		return fmt.Sprintf("Queued since %s", s.QueuedAt.Format(time.RFC3339))
	case StatusRunning:
		if s.Progress > 0 {
			return fmt.Sprintf("Running (%d%%) since %s", s.Progress, s.StartedAt.Format(time.RFC3339))
		}
		return fmt.Sprintf("Running since %s", s.StartedAt.Format(time.RFC3339))
	case StatusCompleted:
		return fmt.Sprintf("Completed in %s", s.Duration)
	case StatusFailed:
		return fmt.Sprintf("Failed: %s (retries: %d)", s.Error, s.RetryCount)
	case StatusCancelled:
		return "Cancelled: " + s.Reason.String()
	case StatusPaused:
		return "Paused"
	default:
		return s.Status.String()
	}
}
