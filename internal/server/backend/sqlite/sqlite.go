// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite implements the backend store on SQLite for single-node
// deployments. The server is the only writer; the dispatcher's critical
// section is a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/eifl-dev/eifl/internal/server/backend"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertions.
var (
	_ backend.ProjectStore  = (*Store)(nil)
	_ backend.RepoStore     = (*Store)(nil)
	_ backend.PipelineStore = (*Store)(nil)
	_ backend.RunStore      = (*Store)(nil)
	_ backend.StepStore     = (*Store)(nil)
	_ backend.MetricStore   = (*Store)(nil)
	_ backend.RunnerStore   = (*Store)(nil)
	_ backend.SecretStore   = (*Store)(nil)
	_ backend.Store         = (*Store)(nil)
)

// timeLayout stores timestamps as UTC ISO-8601 with millisecond precision.
// The fixed width keeps lexicographic and chronological order identical,
// which the due-pipeline query relies on.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Store is a SQLite-backed implementation of backend.Store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens the database, configures pragmas, and runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// configurePragmas sets SQLite configuration options.
func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",         // Enable foreign key constraints
		"PRAGMA busy_timeout=5000",       // 5 second timeout for lock contention
		"PRAGMA auto_vacuum=INCREMENTAL", // Incremental auto-vacuum for space reclamation
		"PRAGMA synchronous=NORMAL",      // Balance between performance and durability
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS repos (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL UNIQUE,
			remote_url TEXT,
			default_branch TEXT NOT NULL DEFAULT 'main',
			created_at TEXT NOT NULL,
			UNIQUE (project_id, name),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			repo_id TEXT NOT NULL,
			name TEXT NOT NULL,
			config TEXT NOT NULL,
			next_run_at TEXT,
			created_at TEXT NOT NULL,
			UNIQUE (repo_id, name),
			FOREIGN KEY (repo_id) REFERENCES repos(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipelines_next_run_at ON pipelines(next_run_at)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			status TEXT NOT NULL,
			commit_sha TEXT,
			branch TEXT,
			triggered_by TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline_id ON runs(pipeline_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER,
			output TEXT NOT NULL DEFAULT '',
			started_at TEXT,
			finished_at TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_id ON metrics(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_key ON metrics(key)`,
		`CREATE TABLE IF NOT EXISTS baselines (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			key TEXT NOT NULL,
			baseline_value REAL NOT NULL,
			tolerance_pct REAL NOT NULL DEFAULT 10.0,
			updated_at TEXT NOT NULL,
			UNIQUE (pipeline_id, key),
			FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS runners (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			token TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			max_concurrency INTEGER NOT NULL DEFAULT 1,
			active_jobs INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			name TEXT NOT NULL,
			encrypted_value TEXT NOT NULL,
			iv TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (scope, scope_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_secrets_scope ON secrets(scope, scope_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// formatTime converts a *time.Time to a value for nullable TEXT columns.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

// mustFormat converts a time.Time to its stored representation.
func mustFormat(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime converts a nullable TEXT column back to a *time.Time.
func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// parseTimeStr converts a required TEXT column to time.Time.
func parseTimeStr(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// nullString converts an empty string to NULL for nullable columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation detects UNIQUE constraint failures from the driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
