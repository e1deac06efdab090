package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"taskpilot/internal/job"
	logx "taskpilot/pkg/logx"
)

func sampleSnapshots(t *testing.T) []job.Snapshot {
	t.Helper()
	j1, err := job.NewBuilder().
		Name("backup").
		CronSchedule("0 2 * * *").
		Command("pg_dump", "mydb").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	j2, err := job.NewBuilder().
		Name("cleanup").
		Every(time.Hour).
		Priority(job.PriorityLow).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return []job.Snapshot{j1.Snapshot(), j2.Snapshot()}
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	snaps, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("fresh store has %d snapshots", len(snaps))
	}

	want := sampleSnapshots(t)
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d snapshots, want %d", len(got), len(want))
	}
	byName := map[string]job.Snapshot{}
	for _, snap := range got {
		byName[snap.Name] = snap
	}
	backup, ok := byName["backup"]
	if !ok {
		t.Fatal("backup snapshot missing")
	}
	if backup.Schedule.Expression != "0 2 * * *" {
		t.Fatalf("schedule = %q", backup.Schedule.Expression)
	}
	if backup.Handler == nil || backup.Handler.Type != "command" {
		t.Fatal("handler spec must survive")
	}
	if _, err := job.FromSnapshot(backup); err != nil {
		t.Fatalf("restore: %v", err)
	}

	n, err := Count(ctx, s)
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	one, ok, err := LoadOne(ctx, s, want[0].ID)
	if err != nil || !ok {
		t.Fatalf("LoadOne: ok=%v err=%v", ok, err)
	}
	if one.Name != want[0].Name {
		t.Fatalf("LoadOne name = %q", one.Name)
	}
	if _, ok, _ := LoadOne(ctx, s, job.NewID()); ok {
		t.Fatal("unknown id must not be found")
	}

	if ok, err := Delete(ctx, s, want[1].ID); err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if n, _ := Count(ctx, s); n != 1 {
		t.Fatalf("after Delete Count = %d", n)
	}
	if ok, err := Delete(ctx, s, want[1].ID); err != nil || ok {
		t.Fatalf("repeat Delete: ok=%v err=%v", ok, err)
	}
	if empty, err := IsEmpty(ctx, s); err != nil || empty {
		t.Fatalf("IsEmpty = %v, %v", empty, err)
	}

	// Save replaces, not appends.
	if err := s.Save(ctx, want[:1]); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	got, _ = s.Load(ctx)
	if len(got) != 1 {
		t.Fatalf("after re-save loaded %d snapshots", len(got))
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("after clear: %d snapshots, err %v", len(got), err)
	}
	if empty, err := IsEmpty(ctx, s); err != nil || !empty {
		t.Fatalf("after clear IsEmpty = %v, %v", empty, err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	testStore(t, NewMemory())
}

func TestJSONStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")
	s, err := Open(Config{Driver: "json", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	testStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	testStore(t, s)
}

func TestSQLiteIndexedColumns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	snaps := sampleSnapshots(t)
	snaps[1].Enabled = false
	if err := s.Save(ctx, snaps); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var enabled int
	var status string
	err = db.QueryRow(`SELECT enabled, status FROM jobs WHERE name = ?`, "backup").Scan(&enabled, &status)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if enabled != 1 || status != "pending" {
		t.Fatalf("backup row: enabled=%d status=%q", enabled, status)
	}
	err = db.QueryRow(`SELECT enabled FROM jobs WHERE name = ?`, "cleanup").Scan(&enabled)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if enabled != 0 {
		t.Fatalf("cleanup row: enabled=%d", enabled)
	}
}

func TestOpenDefaultsToMemory(t *testing.T) {
	t.Parallel()
	s, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Fatalf("default store is %T, want *Memory", s)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must fail")
	}
}

func TestJSONStoreRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "json"}, logx.Nop()); err == nil {
		t.Fatal("missing path must fail")
	}
}
