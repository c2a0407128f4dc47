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

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eifl-dev/eifl/internal/server/backend"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// CreatePipeline inserts a new pipeline.
func (s *Store) CreatePipeline(ctx context.Context, p *backend.Pipeline) error {
	query := `
		INSERT INTO pipelines (id, repo_id, name, config, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.RepoID,
		p.Name,
		p.Config,
		formatTime(p.NextRunAt),
		mustFormat(p.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &eiflerrors.ConflictError{Resource: "pipeline", Reason: fmt.Sprintf("name %q already exists in repo", p.Name)}
		}
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	return nil
}

// GetPipeline retrieves a pipeline by ID.
func (s *Store) GetPipeline(ctx context.Context, id string) (*backend.Pipeline, error) {
	query := `
		SELECT id, repo_id, name, config, next_run_at, created_at
		FROM pipelines
		WHERE id = ?
	`
	return s.scanPipeline(s.db.QueryRowContext(ctx, query, id), id)
}

// GetPipelineByName retrieves a pipeline by repo and name.
func (s *Store) GetPipelineByName(ctx context.Context, repoID, name string) (*backend.Pipeline, error) {
	query := `
		SELECT id, repo_id, name, config, next_run_at, created_at
		FROM pipelines
		WHERE repo_id = ? AND name = ?
	`
	return s.scanPipeline(s.db.QueryRowContext(ctx, query, repoID, name), name)
}

func (s *Store) scanPipeline(row *sql.Row, ref string) (*backend.Pipeline, error) {
	var p backend.Pipeline
	var nextRunAt sql.NullString
	var createdAt string

	err := row.Scan(&p.ID, &p.RepoID, &p.Name, &p.Config, &nextRunAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &eiflerrors.NotFoundError{Resource: "pipeline", ID: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}

	p.NextRunAt = parseTime(nextRunAt)
	p.CreatedAt = parseTimeStr(createdAt)

	return &p, nil
}

// UpsertPipeline creates the pipeline or replaces the config and schedule
// of the existing (repo_id, name) row, keeping its identity. Returns the
// stored row either way.
func (s *Store) UpsertPipeline(ctx context.Context, p *backend.Pipeline) (*backend.Pipeline, error) {
	query := `
		INSERT INTO pipelines (id, repo_id, name, config, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, name) DO UPDATE SET
			config = excluded.config,
			next_run_at = excluded.next_run_at
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.RepoID,
		p.Name,
		p.Config,
		formatTime(p.NextRunAt),
		mustFormat(p.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert pipeline: %w", err)
	}

	return s.GetPipelineByName(ctx, p.RepoID, p.Name)
}

// ListPipelines returns the pipelines of a repo ordered by name.
func (s *Store) ListPipelines(ctx context.Context, repoID string) ([]*backend.Pipeline, error) {
	query := `
		SELECT id, repo_id, name, config, next_run_at, created_at
		FROM pipelines
		WHERE repo_id = ?
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	return scanPipelines(rows)
}

// SetPipelineNextRun updates next_run_at. A nil next clears the schedule.
func (s *Store) SetPipelineNextRun(ctx context.Context, id string, next *time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE pipelines SET next_run_at = ? WHERE id = ?`, formatTime(next), id)
	if err != nil {
		return fmt.Errorf("failed to set next run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "pipeline", ID: id}
	}

	return nil
}

// PipelinesDue returns pipelines whose next_run_at is at or before now.
// The fixed-width timestamp encoding makes the string comparison correct.
func (s *Store) PipelinesDue(ctx context.Context, now time.Time) ([]*backend.Pipeline, error) {
	query := `
		SELECT id, repo_id, name, config, next_run_at, created_at
		FROM pipelines
		WHERE next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, mustFormat(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list due pipelines: %w", err)
	}
	defer rows.Close()

	return scanPipelines(rows)
}

// DeletePipeline removes a pipeline and cascades to runs and baselines.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "pipeline", ID: id}
	}

	return nil
}

func scanPipelines(rows *sql.Rows) ([]*backend.Pipeline, error) {
	var pipelines []*backend.Pipeline
	for rows.Next() {
		var p backend.Pipeline
		var nextRunAt sql.NullString
		var createdAt string

		if err := rows.Scan(&p.ID, &p.RepoID, &p.Name, &p.Config, &nextRunAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		p.NextRunAt = parseTime(nextRunAt)
		p.CreatedAt = parseTimeStr(createdAt)
		pipelines = append(pipelines, &p)
	}

	return pipelines, rows.Err()
}
