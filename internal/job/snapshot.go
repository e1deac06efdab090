package job

import (
	"time"
)

// Snapshot is the persistable form of a Job. Live handlers are not
// part of it; only the HandlerSpec of serializable handlers survives.
type Snapshot struct {
	ID          ID                `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Schedule    Schedule          `json:"schedule"`
	State       State             `json:"state"`
	Priority    Priority          `json:"priority"`
	MaxRetries  int               `json:"max_retries"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Tags        Tags              `json:"tags,omitempty"`
	Enabled     bool              `json:"enabled"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	LastRun     time.Time         `json:"last_run,omitzero"`
	NextRun     time.Time         `json:"next_run,omitzero"`
	History     []ExecutionRecord `json:"history,omitempty"`
	Handler     *HandlerSpec      `json:"handler,omitempty"`
}

// Snapshot captures the job for persistence.
func (j *Job) Snapshot() Snapshot {
	history := make([]ExecutionRecord, len(j.history))
	copy(history, j.history)
	tags := make(Tags, len(j.tags))
	copy(tags, j.tags)
	return Snapshot{
		ID:          j.id,
		Name:        j.name,
		Description: j.description,
		Schedule:    j.schedule,
		State:       j.state,
		Priority:    j.priority,
		MaxRetries:  j.maxRetries,
		Timeout:     j.timeout,
		Tags:        tags,
		Enabled:     j.enabled,
		CreatedAt:   j.createdAt,
		UpdatedAt:   j.updatedAt,
		LastRun:     j.lastRun,
		NextRun:     j.nextRun,
		History:     history,
		Handler:     j.handlerSpec,
	}
}

// FromSnapshot restores a job. Handlers are rebuilt from the spec when
// one is present; jobs persisted with in-process handlers come back
// without a live handler and must have one re-attached.
func FromSnapshot(s Snapshot) (*Job, error) {
	if err := validateName(s.Name); err != nil {
		return nil, err
	}
	if s.MaxRetries < 0 || s.MaxRetries > 255 {
		return nil, validationErr("max_retries", "must be 0-255, got %d", s.MaxRetries)
	}

	id := s.ID
	if id.IsZero() {
		id = NewID()
	}
	j := &Job{
		id:          id,
		name:        s.Name,
		description: s.Description,
		schedule:    s.Schedule,
		state:       s.State,
		priority:    s.Priority,
		maxRetries:  s.MaxRetries,
		timeout:     s.Timeout,
		tags:        s.Tags,
		enabled:     s.Enabled,
		createdAt:   s.CreatedAt,
		updatedAt:   s.UpdatedAt,
		lastRun:     s.LastRun,
		nextRun:     s.NextRun,
		history:     s.History,
		handlerSpec: s.Handler,
	}
	if s.Handler != nil {
		h, err := s.Handler.Build()
		if err != nil {
			return nil, err
		}
		j.handler = h
	}
	return j, nil
}
