// Package memory keeps session snapshots and the safety audit trail in a
// local SQLite database.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"agentcli/internal/domain"
)

// ErrSessionNotFound is returned by LoadSession for unknown ids.
var ErrSessionNotFound = errors.New("session not found")

// SQLiteStore persists sessions and audit entries.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// NewSink starts a new session row for one run in project.
func (s *SQLiteStore) NewSink(project string) *SessionSink {
	return &SessionSink{store: s, id: uuid.NewString(), project: project}
}

// SessionSink upserts every snapshot of one run into a single row.
type SessionSink struct {
	store   *SQLiteStore
	id      string
	project string

	mu        sync.Mutex
	createdAt time.Time
}

func (k *SessionSink) ID() string { return k.id }

func (k *SessionSink) Write(ctx context.Context, snap domain.Snapshot) error {
	k.mu.Lock()
	if k.createdAt.IsZero() {
		k.createdAt = snap.CreatedAt
	}
	created := k.createdAt
	k.mu.Unlock()

	data, err := json.Marshal(snap.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	_, err = k.store.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project, model, max_tokens, created_at, updated_at, messages, message_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   model = excluded.model,
		   max_tokens = excluded.max_tokens,
		   updated_at = excluded.updated_at,
		   messages = excluded.messages,
		   message_count = excluded.message_count`,
		k.id, k.project, snap.Model, snap.MaxTokens, created.UTC(), snap.CreatedAt.UTC(), string(data), len(snap.Messages),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", k.id, err)
	}
	return nil
}

// ListSessions returns the most recently updated sessions of project.
func (s *SQLiteStore) ListSessions(ctx context.Context, project string, limit int) ([]domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model, max_tokens, message_count, created_at, updated_at
		 FROM sessions WHERE project = ? ORDER BY updated_at DESC LIMIT ?`,
		project, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SessionRecord
	for rows.Next() {
		var r domain.SessionRecord
		if err := rows.Scan(&r.ID, &r.Model, &r.MaxTokens, &r.Messages, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadSession returns the last snapshot written for id.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*domain.Snapshot, error) {
	var (
		snap domain.Snapshot
		raw  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT model, max_tokens, updated_at, messages FROM sessions WHERE id = ?`, id,
	).Scan(&snap.Model, &snap.MaxTokens, &snap.CreatedAt, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &snap.Messages); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &snap, nil
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, tool_name, command, result, details)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Action, entry.ToolName, entry.Command, entry.Result, entry.Details,
	)
	return err
}

// RecentAudit returns the newest audit entries first.
func (s *SQLiteStore) RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COALESCE(tool_name, ''), COALESCE(command, ''), COALESCE(result, ''), COALESCE(details, '')
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.Action, &e.ToolName, &e.Command, &e.Result, &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks that the database answers queries.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ domain.SessionSink = (*SessionSink)(nil)
	_ domain.AuditLogger = (*SQLiteStore)(nil)
)
