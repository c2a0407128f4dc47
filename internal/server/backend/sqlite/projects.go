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

	"github.com/eifl-dev/eifl/internal/server/backend"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, p *backend.Project) error {
	query := `
		INSERT INTO projects (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		nullString(p.Description),
		mustFormat(p.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &eiflerrors.ConflictError{Resource: "project", Reason: fmt.Sprintf("name %q already exists", p.Name)}
		}
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*backend.Project, error) {
	query := `
		SELECT id, name, description, created_at
		FROM projects
		WHERE id = ?
	`
	return s.scanProject(s.db.QueryRowContext(ctx, query, id), id)
}

// GetProjectByName retrieves a project by its unique name.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*backend.Project, error) {
	query := `
		SELECT id, name, description, created_at
		FROM projects
		WHERE name = ?
	`
	return s.scanProject(s.db.QueryRowContext(ctx, query, name), name)
}

func (s *Store) scanProject(row *sql.Row, ref string) (*backend.Project, error) {
	var p backend.Project
	var description sql.NullString
	var createdAt string

	err := row.Scan(&p.ID, &p.Name, &description, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &eiflerrors.NotFoundError{Resource: "project", ID: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	if description.Valid {
		p.Description = description.String
	}
	p.CreatedAt = parseTimeStr(createdAt)

	return &p, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*backend.Project, error) {
	query := `
		SELECT id, name, description, created_at
		FROM projects
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*backend.Project
	for rows.Next() {
		var p backend.Project
		var description sql.NullString
		var createdAt string

		if err := rows.Scan(&p.ID, &p.Name, &description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		if description.Valid {
			p.Description = description.String
		}
		p.CreatedAt = parseTimeStr(createdAt)
		projects = append(projects, &p)
	}

	return projects, rows.Err()
}

// DeleteProject removes a project and everything hanging off it. Repos,
// pipelines, runs, steps, metrics, and baselines cascade through foreign
// keys; secrets reference their owner by scope and are cleaned up here.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM secrets
		WHERE (scope = 'project' AND scope_id = ?)
		   OR (scope = 'repo' AND scope_id IN (SELECT id FROM repos WHERE project_id = ?))
	`, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete project secrets: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "project", ID: id}
	}

	return tx.Commit()
}
