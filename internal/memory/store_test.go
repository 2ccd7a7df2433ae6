package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"agentcli/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "agent.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func snapshotAt(ts time.Time, entries ...domain.Entry) domain.Snapshot {
	return domain.Snapshot{Model: "m", MaxTokens: 1024, CreatedAt: ts, Messages: entries}
}

func TestSessionSink_UpsertsOneRowPerRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	sink := s.NewSink("/work/project")
	if sink.ID() == "" {
		t.Fatal("sink id must not be empty")
	}

	hello := domain.NewHumanText("hello")
	reply := domain.Entry{Speaker: domain.Model, Segments: []domain.Segment{
		domain.Text{Value: "hi"},
		domain.ToolRequest{ID: "t1", Name: "list_files", Arguments: map[string]any{"path": "."}},
	}}
	if err := sink.Write(ctx, snapshotAt(t0, hello)); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(ctx, snapshotAt(t0.Add(time.Minute), hello, reply)); err != nil {
		t.Fatal(err)
	}

	recs, err := s.ListSessions(ctx, "/work/project", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 session row, got %d", len(recs))
	}
	r := recs[0]
	if r.ID != sink.ID() || r.Messages != 2 || r.MaxTokens != 1024 {
		t.Errorf("unexpected record: %+v", r)
	}
	if !r.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want first snapshot time %v", r.CreatedAt, t0)
	}
	if !r.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v", r.UpdatedAt)
	}

	snap, err := s.LoadSession(ctx, sink.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap.Messages))
	}
	reqs := snap.Messages[1].ToolRequests()
	if len(reqs) != 1 || reqs[0].Name != "list_files" || reqs[0].Arguments["path"] != "." {
		t.Errorf("tool request did not survive the round trip: %+v", reqs)
	}
}

func TestListSessions_FiltersByProjectNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	older := s.NewSink("a")
	newer := s.NewSink("a")
	other := s.NewSink("b")
	for i, k := range []*SessionSink{older, newer, other} {
		if err := k.Write(ctx, snapshotAt(t0.Add(time.Duration(i)*time.Hour), domain.NewHumanText("x"))); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.ListSessions(ctx, "a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 sessions for project a, got %d", len(recs))
	}
	if recs[0].ID != newer.ID() || recs[1].ID != older.ID() {
		t.Errorf("wrong order: %s, %s", recs[0].ID, recs[1].ID)
	}
}

func TestLoadSession_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.LoadSession(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLogAudit_RecentAudit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []domain.AuditEntry{
		{Action: "command_allowed", ToolName: "run_shell_command", Command: "ls", Result: "allowed"},
		{Action: "command_blocked", ToolName: "run_shell_command", Command: "rm", Result: "blocked", Details: "command not allowed: rm"},
	}
	for _, e := range entries {
		if err := s.LogAudit(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0] != entries[1] || got[1] != entries[0] {
		t.Errorf("unexpected audit entries: %+v", got)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
