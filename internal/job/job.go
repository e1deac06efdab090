package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxNameLen bounds job names.
const MaxNameLen = 128

// DefaultRetries is the retry budget applied when none is configured.
const DefaultRetries = 3

// MaxHistory bounds the per-job execution history; the oldest record is
// evicted first.
const MaxHistory = 10

// ID identifies a job process-wide.
type ID uuid.UUID

// NewID returns a fresh random job identifier.
func NewID() ID { return ID(uuid.New()) }

// ParseID parses a job identifier from its string form.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, validationErr("id", "invalid UUID: %s", s)
	}
	return ID(u), nil
}

func (id ID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool { return id == ID(uuid.Nil) }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", string(b), err)
	}
	*id = ID(u)
	return nil
}

// Priority orders jobs for informational purposes; it does not preempt.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// ParsePriority parses a priority name.
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return 0, validationErr("priority", "unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ScheduleKind enumerates when a job runs.
type ScheduleKind string

const (
	ScheduleOnce     ScheduleKind = "once"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleManual   ScheduleKind = "manual"
)

// Schedule describes when a job runs. At is set for once schedules,
// Expression for cron, Every for intervals.
type Schedule struct {
	Kind       ScheduleKind  `json:"type"`
	At         time.Time     `json:"at,omitzero"`
	Expression string        `json:"expression,omitempty"`
	Every      time.Duration `json:"every,omitempty"`
}

// Once runs a single time at the given moment.
func Once(at time.Time) Schedule { return Schedule{Kind: ScheduleOnce, At: at.UTC()} }

// Cron runs on a cron expression. The expression is validated when the
// scheduler computes trigger times, not here.
func Cron(expression string) Schedule {
	return Schedule{Kind: ScheduleCron, Expression: expression}
}

// Interval runs at a fixed period.
func Interval(every time.Duration) Schedule {
	return Schedule{Kind: ScheduleInterval, Every: every}
}

// ManualOnly runs only when explicitly triggered.
func ManualOnly() Schedule { return Schedule{Kind: ScheduleManual} }

// IsRecurring reports whether the schedule fires more than once.
func (s Schedule) IsRecurring() bool {
	return s.Kind == ScheduleCron || s.Kind == ScheduleInterval
}

// Tags is an ordered, duplicate-free set of labels.
type Tags []string

// Add appends a tag unless already present.
func (t *Tags) Add(tag string) {
	if !t.Contains(tag) {
		*t = append(*t, tag)
	}
}

// Contains reports whether the tag is present.
func (t Tags) Contains(tag string) bool {
	for _, have := range t {
		if have == tag {
			return true
		}
	}
	return false
}

// Job is the schedulable unit of work. Mutate it only through its
// methods; invariants (history bound, updated_at maintenance, state
// transitions) live there.
type Job struct {
	id          ID
	name        string
	description string
	schedule    Schedule
	state       State
	priority    Priority
	maxRetries  int
	timeout     time.Duration // informational, not enforced
	tags        Tags
	enabled     bool
	createdAt   time.Time
	updatedAt   time.Time
	lastRun     time.Time
	nextRun     time.Time
	history     []ExecutionRecord

	handlerSpec *HandlerSpec
	handler     Handler
}

// New creates a job with default settings. Prefer NewBuilder for
// validated construction.
func New(name string, schedule Schedule) *Job {
	now := time.Now().UTC()
	return &Job{
		id:         NewID(),
		name:       name,
		schedule:   schedule,
		state:      NewPending(),
		priority:   PriorityNormal,
		maxRetries: DefaultRetries,
		enabled:    true,
		createdAt:  now,
		updatedAt:  now,
	}
}

// Getters.

func (j *Job) ID() ID                    { return j.id }
func (j *Job) Name() string              { return j.name }
func (j *Job) Description() string       { return j.description }
func (j *Job) Schedule() Schedule        { return j.schedule }
func (j *Job) State() State              { return j.state }
func (j *Job) Priority() Priority        { return j.priority }
func (j *Job) MaxRetries() int           { return j.maxRetries }
func (j *Job) Timeout() time.Duration    { return j.timeout }
func (j *Job) Tags() Tags                { return j.tags }
func (j *Job) Enabled() bool             { return j.enabled }
func (j *Job) CreatedAt() time.Time      { return j.createdAt }
func (j *Job) UpdatedAt() time.Time      { return j.updatedAt }
func (j *Job) LastRun() time.Time        { return j.lastRun }
func (j *Job) NextRun() time.Time        { return j.nextRun }
func (j *Job) Handler() Handler          { return j.handler }
func (j *Job) HandlerSpec() *HandlerSpec { return j.handlerSpec }

// History returns the recent execution records, oldest first.
func (j *Job) History() []ExecutionRecord { return j.history }

// Setters; every mutation refreshes UpdatedAt.

func (j *Job) SetDescription(desc string) {
	j.description = desc
	j.touch()
}

func (j *Job) SetSchedule(s Schedule) {
	j.schedule = s
	j.touch()
}

func (j *Job) SetPriority(p Priority) {
	j.priority = p
	j.touch()
}

// SetMaxRetries bounds the retry budget to 0-255.
func (j *Job) SetMaxRetries(n int) error {
	if n < 0 || n > 255 {
		return validationErr("max_retries", "must be 0-255, got %d", n)
	}
	j.maxRetries = n
	j.touch()
	return nil
}

func (j *Job) SetTimeout(d time.Duration) {
	j.timeout = d
	j.touch()
}

func (j *Job) Enable() {
	j.enabled = true
	j.touch()
}

func (j *Job) Disable() {
	j.enabled = false
	j.touch()
}

func (j *Job) AddTag(tag string) {
	j.tags.Add(tag)
	j.touch()
}

// SetHandler attaches a live handler. Serializable handlers also get a
// spec so they survive persistence; others must be re-attached after a
// reload.
func (j *Job) SetHandler(h Handler) {
	if spec, err := SpecFor(h); err == nil {
		j.handlerSpec = spec
	}
	j.handler = h
	j.touch()
}

// SetState force-sets the state. The scheduler uses this for pause,
// resume, and cancel transitions.
func (j *Job) SetState(s State) {
	j.state = s
	j.touch()
}

// SetNextRun records the next scheduled firing.
func (j *Job) SetNextRun(t time.Time) {
	j.nextRun = t.UTC()
	j.touch()
}

// StartExecution moves the job to Running and opens a record sharing
// the same run id.
func (j *Job) StartExecution(trigger Trigger) ExecutionRecord {
	rec := NewRecord(j.id, trigger)
	j.state = rec.FinalState
	j.touch()
	return rec
}

// CompleteExecution records a successful run and appends it to history.
func (j *Job) CompleteExecution(rec *ExecutionRecord) {
	j.lastRun = time.Now().UTC()
	var output string
	if rec.Result != nil {
		output = rec.Result.Stdout
	}
	j.state = j.state.Complete(output)
	j.AppendHistory(*rec)
	j.touch()
}

// FailExecution records a failed run. WillRetry is fixed here from the
// current retry count against the job's budget.
func (j *Job) FailExecution(errMsg string, retryCount int) {
	j.state = j.state.Fail(errMsg, retryCount, j.maxRetries)
	j.touch()
}

// AppendHistory adds a record, evicting the oldest beyond MaxHistory.
func (j *Job) AppendHistory(rec ExecutionRecord) {
	j.history = append(j.history, rec)
	if len(j.history) > MaxHistory {
		j.history = j.history[1:]
	}
}

// Queries.

// IsReady reports whether the job can be picked up for execution.
func (j *Job) IsReady() bool {
	return j.enabled && (j.state.Status == StatusPending || j.state.Status == StatusQueued)
}

func (j *Job) IsRunning() bool { return j.state.Status == StatusRunning }
func (j *Job) IsFailed() bool  { return j.state.Status == StatusFailed }

// CanRetry reports whether a failed job still has retry budget.
func (j *Job) CanRetry() bool {
	return j.state.Status == StatusFailed &&
		j.state.WillRetry &&
		j.state.RetryCount < j.maxRetries
}

// IsDue reports whether the schedule says the job should fire at now.
func (j *Job) IsDue(now time.Time) bool {
	if !j.enabled {
		return false
	}
	if j.state.Status == StatusRunning || j.state.Status == StatusPaused {
		return false
	}
	// A failure awaiting retry is owned by the retry queue, not the
	// schedule sweep.
	if j.state.Status == StatusFailed && j.state.WillRetry {
		return false
	}
	switch j.schedule.Kind {
	case ScheduleOnce:
		// A one-shot fires once; lastRun marks it spent.
		return j.lastRun.IsZero() && !j.schedule.At.After(now)
	case ScheduleManual:
		return false
	default:
		return !j.nextRun.IsZero() && !j.nextRun.After(now)
	}
}

// RetryCount returns the retry count of the current failure, 0 in any
// other state.
func (j *Job) RetryCount() int {
	if j.state.Status == StatusFailed {
		return j.state.RetryCount
	}
	return 0
}

// SuccessRate is the fraction of completed runs in history; ok is
// false with no history.
func (j *Job) SuccessRate() (float64, bool) {
	if len(j.history) == 0 {
		return 0, false
	}
	var successes int
	for _, rec := range j.history {
		if rec.FinalState.Status == StatusCompleted {
			successes++
		}
	}
	return float64(successes) / float64(len(j.history)), true
}

func (j *Job) String() string {
	return fmt.Sprintf("Job[%s] %s (%s) - %s", j.id, j.name, j.priority, j.state.Status)
}

func (j *Job) touch() { j.updatedAt = time.Now().UTC() }
