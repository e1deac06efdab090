package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskpilot/internal/job"
	logx "taskpilot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrap("open", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, wrap("migrate", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Load(ctx context.Context) ([]job.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM jobs ORDER BY name`)
	if err != nil {
		return nil, wrap("load", err)
	}
	defer rows.Close()

	var snaps []job.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrap("load", err)
		}
		var snap job.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, wrap("load", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load", err)
	}
	return snaps, nil
}

func (s *sqliteStore) Save(ctx context.Context, snaps []job.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("save", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return wrap("save", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, snap := range snaps {
		raw, err := json.Marshal(snap)
		if err != nil {
			return wrap("save", err)
		}
		enabled := 0
		if snap.Enabled {
			enabled = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs(id, name, enabled, status, snapshot, updated_at) VALUES(?,?,?,?,?,?)`,
			snap.ID.String(), snap.Name, enabled, snap.State.Status.String(), string(raw), now,
		); err != nil {
			return wrap("save", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrap("save", err)
	}
	s.log.Debug("snapshots saved", logx.Int("jobs", len(snaps)))
	return nil
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
	return wrap("clear", err)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
