package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is applied in order; each step runs once, tracked in
// schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: sessions, audit_log",
		SQL: `
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			model       TEXT NOT NULL,
			max_tokens  INTEGER NOT NULL,
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL,
			messages    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			action      TEXT NOT NULL,
			tool_name   TEXT,
			command     TEXT,
			result      TEXT,
			details     TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at);
		`,
	},
	{
		Version:     2,
		Description: "v2: session project and message count",
		SQL: `
		ALTER TABLE sessions ADD COLUMN project TEXT DEFAULT '';
		ALTER TABLE sessions ADD COLUMN message_count INTEGER DEFAULT 0;
		CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project, updated_at);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Debug("applying migration", "version", m.Version, "description", m.Description)
		if err := applyMigration(db, m, logger); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs each statement in one transaction. Statements that
// fail only because the change already exists are skipped.
func applyMigration(db *sql.DB, m migration, logger *slog.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	for _, stmt := range splitSQL(m.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			msg := err.Error()
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			tx.Rollback()
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.Version, err)
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, 0 for a fresh
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}

func splitSQL(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
