package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"taskpilot/internal/job"
	logx "taskpilot/pkg/logx"
)

// jsonStore keeps all snapshots in one JSON file. Writes go through a
// temp file plus rename so a crash never leaves a half-written file.
type jsonStore struct {
	log  logx.Logger
	mu   sync.Mutex
	path string
}

func openJSON(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for json driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrap("open", err)
	}
	return &jsonStore{log: log, path: path}, nil
}

func (s *jsonStore) Load(ctx context.Context) ([]job.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("load", err)
	}
	if len(b) == 0 {
		return nil, nil
	}

	var snaps []job.Snapshot
	if err := json.Unmarshal(b, &snaps); err != nil {
		return nil, wrap("load", err)
	}
	return snaps, nil
}

func (s *jsonStore) Save(ctx context.Context, snaps []job.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snaps == nil {
		snaps = []job.Snapshot{}
	}
	b, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return wrap("save", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return wrap("save", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return wrap("save", err)
	}
	s.log.Debug("snapshots saved", logx.Int("jobs", len(snaps)), logx.String("path", s.path))
	return nil
}

func (s *jsonStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap("clear", err)
	}
	return nil
}

func (s *jsonStore) Close() error { return nil }
