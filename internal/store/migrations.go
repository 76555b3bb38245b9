package store

import (
	"database/sql"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS job_runs (
    id TEXT PRIMARY KEY,
    command TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    items_total INTEGER,
    items_failed INTEGER,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS tool_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT REFERENCES job_runs(id),
    started_at DATETIME NOT NULL,
    tool TEXT NOT NULL,
    target TEXT,
    command_line TEXT NOT NULL,
    exit_code INTEGER,
    duration_ms INTEGER,
    success BOOLEAN NOT NULL,
    dry_run BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_tool_runs_job ON tool_runs(job_id);
CREATE INDEX IF NOT EXISTS idx_tool_runs_started ON tool_runs(started_at);
`,
	},
	{
		Version:     2,
		Description: "Keep compressed stderr of failed tool runs",
		SQL: `
CREATE TABLE IF NOT EXISTS tool_output (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tool_run_id INTEGER REFERENCES tool_runs(id),
    created_at DATETIME NOT NULL,
    stream TEXT NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_tool_output_created ON tool_output(created_at);
`,
	},
	{
		Version:     3,
		Description: "Link tool runs to shared output by hash",
		SQL: `
ALTER TABLE tool_runs ADD COLUMN output_hash TEXT;

UPDATE tool_runs SET output_hash = (
    SELECT payload_hash FROM tool_output WHERE tool_output.tool_run_id = tool_runs.id
);
`,
	},
}

// Migrate applies pending migrations in order, each in its own transaction.
func (s *Store) Migrate() ([]int, error) {
	if err := s.ensureMigrationsTable(); err != nil {
		return nil, fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return nil, fmt.Errorf("get applied migrations: %w", err)
	}

	var done []int
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return done, fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return done, fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, s.clock.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return done, fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return done, fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
		done = append(done, m.Version)
	}

	return done, nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
