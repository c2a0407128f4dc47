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
	"encoding/json"
	"fmt"
	"time"

	"github.com/eifl-dev/eifl/internal/server/backend"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// CreateRunner registers a runner. Tags are stored as a JSON array.
func (s *Store) CreateRunner(ctx context.Context, r *backend.Runner) error {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
		INSERT INTO runners (id, name, token, status, tags, max_concurrency, active_jobs, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.Name,
		r.Token,
		string(r.Status),
		string(tags),
		r.MaxConcurrency,
		r.ActiveJobs,
		formatTime(r.LastSeen),
		mustFormat(r.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &eiflerrors.ConflictError{Resource: "runner", Reason: fmt.Sprintf("name %q already exists", r.Name)}
		}
		return fmt.Errorf("failed to create runner: %w", err)
	}
	return nil
}

// GetRunner retrieves a runner by ID.
func (s *Store) GetRunner(ctx context.Context, id string) (*backend.Runner, error) {
	query := `
		SELECT id, name, token, status, tags, max_concurrency, active_jobs, last_seen, created_at
		FROM runners
		WHERE id = ?
	`
	return s.scanRunner(s.db.QueryRowContext(ctx, query, id), id)
}

// GetRunnerByToken retrieves a runner by its bearer token.
func (s *Store) GetRunnerByToken(ctx context.Context, token string) (*backend.Runner, error) {
	query := `
		SELECT id, name, token, status, tags, max_concurrency, active_jobs, last_seen, created_at
		FROM runners
		WHERE token = ?
	`
	return s.scanRunner(s.db.QueryRowContext(ctx, query, token), "by token")
}

func (s *Store) scanRunner(row *sql.Row, ref string) (*backend.Runner, error) {
	var r backend.Runner
	var status, tags, createdAt string
	var lastSeen sql.NullString

	err := row.Scan(&r.ID, &r.Name, &r.Token, &status, &tags, &r.MaxConcurrency, &r.ActiveJobs, &lastSeen, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &eiflerrors.NotFoundError{Resource: "runner", ID: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get runner: %w", err)
	}

	r.Status = backend.RunnerStatus(status)
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	r.LastSeen = parseTime(lastSeen)
	r.CreatedAt = parseTimeStr(createdAt)

	return &r, nil
}

// ListRunners lists all runners ordered by name.
func (s *Store) ListRunners(ctx context.Context) ([]*backend.Runner, error) {
	query := `
		SELECT id, name, token, status, tags, max_concurrency, active_jobs, last_seen, created_at
		FROM runners
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runners: %w", err)
	}
	defer rows.Close()

	var runners []*backend.Runner
	for rows.Next() {
		var r backend.Runner
		var status, tags, createdAt string
		var lastSeen sql.NullString

		if err := rows.Scan(&r.ID, &r.Name, &r.Token, &status, &tags, &r.MaxConcurrency, &r.ActiveJobs, &lastSeen, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan runner: %w", err)
		}
		r.Status = backend.RunnerStatus(status)
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
		r.LastSeen = parseTime(lastSeen)
		r.CreatedAt = parseTimeStr(createdAt)
		runners = append(runners, &r)
	}

	return runners, rows.Err()
}

// TouchRunner refreshes last_seen, optionally updating status.
func (s *Store) TouchRunner(ctx context.Context, id string, status backend.RunnerStatus, now time.Time) error {
	var result sql.Result
	var err error

	if status != "" {
		result, err = s.db.ExecContext(ctx, `UPDATE runners SET last_seen = ?, status = ? WHERE id = ?`, mustFormat(now), string(status), id)
	} else {
		result, err = s.db.ExecContext(ctx, `UPDATE runners SET last_seen = ? WHERE id = ?`, mustFormat(now), id)
	}
	if err != nil {
		return fmt.Errorf("failed to touch runner: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "runner", ID: id}
	}

	return nil
}

// IncrementActiveJobs adds one to the runner's active job count.
func (s *Store) IncrementActiveJobs(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE runners SET active_jobs = active_jobs + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment active jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "runner", ID: id}
	}

	return nil
}

// DecrementActiveJobs subtracts one from the runner's active job count,
// clamped at zero so duplicate completion callbacks cannot drive it
// negative.
func (s *Store) DecrementActiveJobs(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE runners SET active_jobs = MAX(active_jobs - 1, 0) WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to decrement active jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "runner", ID: id}
	}

	return nil
}

// DeleteRunner removes a runner.
func (s *Store) DeleteRunner(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runners WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete runner: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "runner", ID: id}
	}

	return nil
}
