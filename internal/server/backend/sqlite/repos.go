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

// CreateRepo inserts a new repo.
func (s *Store) CreateRepo(ctx context.Context, r *backend.Repo) error {
	query := `
		INSERT INTO repos (id, project_id, name, path, remote_url, default_branch, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.ProjectID,
		r.Name,
		r.Path,
		nullString(r.RemoteURL),
		r.DefaultBranch,
		mustFormat(r.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &eiflerrors.ConflictError{Resource: "repo", Reason: fmt.Sprintf("name %q or path %q already exists", r.Name, r.Path)}
		}
		return fmt.Errorf("failed to create repo: %w", err)
	}
	return nil
}

// GetRepo retrieves a repo by ID.
func (s *Store) GetRepo(ctx context.Context, id string) (*backend.Repo, error) {
	query := `
		SELECT id, project_id, name, path, remote_url, default_branch, created_at
		FROM repos
		WHERE id = ?
	`
	return s.scanRepo(s.db.QueryRowContext(ctx, query, id), id)
}

// GetRepoByPath retrieves a repo by its unique local path.
func (s *Store) GetRepoByPath(ctx context.Context, path string) (*backend.Repo, error) {
	query := `
		SELECT id, project_id, name, path, remote_url, default_branch, created_at
		FROM repos
		WHERE path = ?
	`
	return s.scanRepo(s.db.QueryRowContext(ctx, query, path), path)
}

// GetRepoByRemoteURL retrieves a repo by remote URL.
func (s *Store) GetRepoByRemoteURL(ctx context.Context, remoteURL string) (*backend.Repo, error) {
	query := `
		SELECT id, project_id, name, path, remote_url, default_branch, created_at
		FROM repos
		WHERE remote_url = ?
	`
	return s.scanRepo(s.db.QueryRowContext(ctx, query, remoteURL), remoteURL)
}

func (s *Store) scanRepo(row *sql.Row, ref string) (*backend.Repo, error) {
	var r backend.Repo
	var remoteURL sql.NullString
	var createdAt string

	err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Path, &remoteURL, &r.DefaultBranch, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &eiflerrors.NotFoundError{Resource: "repo", ID: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repo: %w", err)
	}

	if remoteURL.Valid {
		r.RemoteURL = remoteURL.String
	}
	r.CreatedAt = parseTimeStr(createdAt)

	return &r, nil
}

// ListRepos returns the repos of a project ordered by creation time.
func (s *Store) ListRepos(ctx context.Context, projectID string) ([]*backend.Repo, error) {
	query := `
		SELECT id, project_id, name, path, remote_url, default_branch, created_at
		FROM repos
		WHERE project_id = ?
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repos: %w", err)
	}
	defer rows.Close()

	var repos []*backend.Repo
	for rows.Next() {
		var r backend.Repo
		var remoteURL sql.NullString
		var createdAt string

		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Path, &remoteURL, &r.DefaultBranch, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan repo: %w", err)
		}
		if remoteURL.Valid {
			r.RemoteURL = remoteURL.String
		}
		r.CreatedAt = parseTimeStr(createdAt)
		repos = append(repos, &r)
	}

	return repos, rows.Err()
}

// DeleteRepo removes a repo, its repo-scoped secrets, and everything that
// cascades through foreign keys.
func (s *Store) DeleteRepo(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE scope = 'repo' AND scope_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete repo secrets: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM repos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repo: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "repo", ID: id}
	}

	return tx.Commit()
}
