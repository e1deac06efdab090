package job

import (
	"strings"
	"time"
	"unicode"
)

// Builder constructs validated jobs.
//
//	j, err := job.NewBuilder().
//		Name("backup").
//		Description("daily database backup").
//		CronSchedule("0 2 * * *").
//		Priority(job.PriorityHigh).
//		Retries(5).
//		Tag("maintenance").
//		Build()
type Builder struct {
	name        string
	nameSet     bool
	description string
	schedule    Schedule
	scheduleSet bool
	priority    Priority
	maxRetries  int
	timeout     time.Duration
	tags        Tags
	enabled     bool
	handler     Handler
	command     *CommandHandler
}

// NewBuilder returns a builder with defaults: normal priority,
// DefaultRetries, enabled, manual schedule.
func NewBuilder() *Builder {
	return &Builder{
		priority:   PriorityNormal,
		maxRetries: DefaultRetries,
		enabled:    true,
	}
}

// Name sets the job name (required).
func (b *Builder) Name(name string) *Builder {
	b.name = name
	b.nameSet = true
	return b
}

// Description sets an optional description.
func (b *Builder) Description(desc string) *Builder {
	b.description = desc
	return b
}

// CronSchedule schedules on a cron expression.
func (b *Builder) CronSchedule(expression string) *Builder {
	b.schedule = Cron(expression)
	b.scheduleSet = true
	return b
}

// OnceAt schedules a single run.
func (b *Builder) OnceAt(at time.Time) *Builder {
	b.schedule = Once(at)
	b.scheduleSet = true
	return b
}

// Every schedules at a fixed interval.
func (b *Builder) Every(d time.Duration) *Builder {
	b.schedule = Interval(d)
	b.scheduleSet = true
	return b
}

// Manual restricts the job to explicit triggers.
func (b *Builder) Manual() *Builder {
	b.schedule = ManualOnly()
	b.scheduleSet = true
	return b
}

// Priority sets the priority.
func (b *Builder) Priority(p Priority) *Builder {
	b.priority = p
	return b
}

// Retries sets the retry budget.
func (b *Builder) Retries(n int) *Builder {
	b.maxRetries = n
	return b
}

// Timeout sets the informational timeout.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.timeout = d
	return b
}

// Tag adds a single tag.
func (b *Builder) Tag(tag string) *Builder {
	b.tags.Add(tag)
	return b
}

// TagAll adds several tags.
func (b *Builder) TagAll(tags ...string) *Builder {
	for _, tag := range tags {
		b.tags.Add(tag)
	}
	return b
}

// Enabled sets the enabled flag.
func (b *Builder) Enabled(enabled bool) *Builder {
	b.enabled = enabled
	return b
}

// Disabled starts the job disabled.
func (b *Builder) Disabled() *Builder {
	b.enabled = false
	return b
}

// Handler attaches a custom handler.
func (b *Builder) Handler(h Handler) *Builder {
	b.handler = h
	return b
}

// Command attaches a shell command handler.
func (b *Builder) Command(cmd string, args ...string) *Builder {
	b.command = NewCommand(cmd).Args(args...)
	return b
}

// Build validates the configuration and returns the job.
func (b *Builder) Build() (*Job, error) {
	if !b.nameSet {
		return nil, validationErr("name", "job name is required")
	}
	if err := validateName(b.name); err != nil {
		return nil, err
	}
	if b.maxRetries < 0 || b.maxRetries > 255 {
		return nil, validationErr("max_retries", "must be 0-255, got %d", b.maxRetries)
	}

	schedule := b.schedule
	if !b.scheduleSet {
		schedule = ManualOnly()
	}

	now := time.Now().UTC()
	j := &Job{
		id:          NewID(),
		name:        b.name,
		description: b.description,
		schedule:    schedule,
		state:       NewPending(),
		priority:    b.priority,
		maxRetries:  b.maxRetries,
		timeout:     b.timeout,
		tags:        b.tags,
		enabled:     b.enabled,
		createdAt:   now,
		updatedAt:   now,
	}
	if b.handler != nil {
		j.SetHandler(b.handler)
	}
	if b.command != nil {
		j.SetHandler(b.command)
	}
	return j, nil
}

func validateName(name string) error {
	if name == "" {
		return validationErr("name", "job name cannot be empty")
	}
	if len(name) > MaxNameLen {
		return validationErr("name", "job name exceeds %d characters", MaxNameLen)
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return validationErr("name", "job name must contain only alphanumeric characters, underscores, and hyphens")
		}
	}
	return nil
}

// Filter selects jobs by attribute; zero fields match everything.
type Filter struct {
	NamePattern string // substring match
	Status      *Status
	Priority    *Priority
	Tag         string
	Enabled     *bool
}

// Matches reports whether the job satisfies every set criterion.
func (f Filter) Matches(j *Job) bool {
	if f.NamePattern != "" && !strings.Contains(j.name, f.NamePattern) {
		return false
	}
	if f.Status != nil && j.state.Status != *f.Status {
		return false
	}
	if f.Priority != nil && j.priority != *f.Priority {
		return false
	}
	if f.Tag != "" && !j.tags.Contains(f.Tag) {
		return false
	}
	if f.Enabled != nil && j.enabled != *f.Enabled {
		return false
	}
	return true
}
