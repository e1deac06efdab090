// Package storage persists job snapshots across restarts.
//
// Backends:
//   - "memory": process-local, for tests and ephemeral schedulers
//   - "json": a single JSON file, written atomically
//   - "sqlite": SQLite database file
//
// Save replaces the full snapshot set; the scheduler owns in-memory
// state and treats storage as a durable mirror.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskpilot/internal/job"
	logx "taskpilot/pkg/logx"
)

// Store is the persistence API used by the scheduler.
type Store interface {
	Load(ctx context.Context) ([]job.Snapshot, error)
	Save(ctx context.Context, snaps []job.Snapshot) error
	Clear(ctx context.Context) error
	Close() error
}

// Config configures storage.
//
// Driver values: "memory", "json", "sqlite". Empty defaults to memory.
type Config struct {
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"` // sqlite only; 0 means default
}

// StoreError wraps a failed storage operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "json", "file":
		return openJSON(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Count returns the number of persisted snapshots.
func Count(ctx context.Context, s Store) (int, error) {
	snaps, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// LoadOne fetches a single snapshot by job id; ok is false when the id
// is not persisted.
func LoadOne(ctx context.Context, s Store, id job.ID) (job.Snapshot, bool, error) {
	snaps, err := s.Load(ctx)
	if err != nil {
		return job.Snapshot{}, false, err
	}
	for _, snap := range snaps {
		if snap.ID == id {
			return snap, true, nil
		}
	}
	return job.Snapshot{}, false, nil
}

// Delete removes a single snapshot by job id; ok reports whether it
// was present.
func Delete(ctx context.Context, s Store, id job.ID) (bool, error) {
	snaps, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	kept := snaps[:0]
	found := false
	for _, snap := range snaps {
		if snap.ID == id {
			found = true
			continue
		}
		kept = append(kept, snap)
	}
	if !found {
		return false, nil
	}
	return true, s.Save(ctx, kept)
}

// IsEmpty reports whether the store holds no snapshots.
func IsEmpty(ctx context.Context, s Store) (bool, error) {
	n, err := Count(ctx, s)
	return n == 0, err
}

// Memory is an in-process store.
type Memory struct {
	mu    sync.Mutex
	snaps []job.Snapshot
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(ctx context.Context) ([]job.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]job.Snapshot, len(m.snaps))
	copy(out, m.snaps)
	return out, nil
}

func (m *Memory) Save(ctx context.Context, snaps []job.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = make([]job.Snapshot, len(snaps))
	copy(m.snaps, snaps)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = nil
	return nil
}

func (m *Memory) Close() error { return nil }
