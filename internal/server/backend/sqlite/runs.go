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
	"strings"
	"time"

	"github.com/eifl-dev/eifl/internal/server/backend"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// CreateRun inserts the run and its step rows in one transaction so a
// half-created run is never observable.
func (s *Store) CreateRun(ctx context.Context, run *backend.Run, steps []*backend.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline_id, status, commit_sha, branch, triggered_by, started_at, finished_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.PipelineID,
		string(run.Status),
		nullString(run.CommitSHA),
		nullString(run.Branch),
		string(run.TriggeredBy),
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		mustFormat(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for _, step := range steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO steps (id, run_id, seq, name, command, status, exit_code, output, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			step.ID,
			step.RunID,
			step.Seq,
			step.Name,
			step.Command,
			string(step.Status),
			nullInt(step.ExitCode),
			step.Output,
			formatTime(step.StartedAt),
			formatTime(step.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create step %s: %w", step.Name, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*backend.Run, error) {
	query := `
		SELECT id, pipeline_id, status, commit_sha, branch, triggered_by, started_at, finished_at, created_at
		FROM runs
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)

	var run backend.Run
	var commitSHA, branch, startedAt, finishedAt sql.NullString
	var status, triggeredBy, createdAt string

	err := row.Scan(&run.ID, &run.PipelineID, &status, &commitSHA, &branch, &triggeredBy, &startedAt, &finishedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &eiflerrors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = backend.RunStatus(status)
	run.TriggeredBy = backend.TriggerSource(triggeredBy)
	if commitSHA.Valid {
		run.CommitSHA = commitSHA.String
	}
	if branch.Valid {
		run.Branch = branch.String
	}
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	run.CreatedAt = parseTimeStr(createdAt)

	return &run, nil
}

// runFilterClause builds the WHERE clause shared by ListRuns and CountRuns.
func runFilterClause(filter backend.RunFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.PipelineID != "" {
		conditions = append(conditions, "pipeline_id = ?")
		args = append(args, filter.PipelineID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.TriggeredBy != "" {
		conditions = append(conditions, "triggered_by = ?")
		args = append(args, string(filter.TriggeredBy))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListRuns lists runs matching the filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*backend.Run, error) {
	query := `
		SELECT id, pipeline_id, status, commit_sha, branch, triggered_by, started_at, finished_at, created_at
		FROM runs
	`
	where, args := runFilterClause(filter)
	query += where + " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// CountRuns counts the runs matching the filter, ignoring pagination.
func (s *Store) CountRuns(ctx context.Context, filter backend.RunFilter) (int, error) {
	where, args := runFilterClause(filter)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// ListPendingRuns returns pending runs oldest first, the dispatcher's
// FIFO order.
func (s *Store) ListPendingRuns(ctx context.Context) ([]*backend.Run, error) {
	query := `
		SELECT id, pipeline_id, status, commit_sha, branch, triggered_by, started_at, finished_at, created_at
		FROM runs
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// HasPendingOrRunningRun reports whether the pipeline has a non-terminal run.
func (s *Store) HasPendingOrRunningRun(ctx context.Context, pipelineID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM runs
			WHERE pipeline_id = ? AND status IN ('pending', 'running')
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, pipelineID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending runs: %w", err)
	}
	return exists, nil
}

// ReserveRun assigns a pending run to a runner. The conditional UPDATE is
// the whole concurrency story: it only succeeds while the run is still
// pending, so two concurrent polls cannot both take it. The runner's job
// count and status move in the same transaction.
func (s *Store) ReserveRun(ctx context.Context, runID, runnerID string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &eiflerrors.StoreError{Op: "reserve run", Cause: err}
	}
	defer tx.Rollback()

	ts := mustFormat(now)

	result, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'pending'
	`, ts, runID)
	if err != nil {
		return &eiflerrors.StoreError{Op: "reserve run", Cause: err}
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return &eiflerrors.StoreError{Op: "reserve run", Cause: err}
	}
	if rows == 0 {
		return backend.ErrRunTaken
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE runners SET active_jobs = active_jobs + 1, last_seen = ?
		WHERE id = ?
	`, ts, runnerID); err != nil {
		return &eiflerrors.StoreError{Op: "reserve run", Cause: err}
	}

	var active, capacity int
	err = tx.QueryRowContext(ctx, `SELECT active_jobs, max_concurrency FROM runners WHERE id = ?`, runnerID).Scan(&active, &capacity)
	if err == sql.ErrNoRows {
		return &eiflerrors.NotFoundError{Resource: "runner", ID: runnerID}
	}
	if err != nil {
		return &eiflerrors.StoreError{Op: "reserve run", Cause: err}
	}

	status := backend.RunnerOnline
	if active >= capacity {
		status = backend.RunnerBusy
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runners SET status = ? WHERE id = ?`, string(status), runnerID); err != nil {
		return &eiflerrors.StoreError{Op: "reserve run", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return &eiflerrors.StoreError{Op: "reserve run", Cause: err}
	}
	return nil
}

// TransitionRun moves a run to the target status when its current status is
// in the from set. Entering running stamps started_at once; entering a
// terminal status stamps finished_at.
func (s *Store) TransitionRun(ctx context.Context, runID string, from []backend.RunStatus, to backend.RunStatus, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one source status")
	}

	ts := mustFormat(now)
	set := "status = ?"
	args := []any{string(to)}

	if to == backend.RunRunning {
		set += ", started_at = COALESCE(started_at, ?)"
		args = append(args, ts)
	}
	if to.Terminal() {
		set += ", finished_at = ?"
		args = append(args, ts)
	}

	args = append(args, runID)
	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`UPDATE runs SET %s WHERE id = ? AND status IN (%s)`, set, strings.Join(placeholders, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func scanRuns(rows *sql.Rows) ([]*backend.Run, error) {
	var runs []*backend.Run
	for rows.Next() {
		var run backend.Run
		var commitSHA, branch, startedAt, finishedAt sql.NullString
		var status, triggeredBy, createdAt string

		if err := rows.Scan(&run.ID, &run.PipelineID, &status, &commitSHA, &branch, &triggeredBy, &startedAt, &finishedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = backend.RunStatus(status)
		run.TriggeredBy = backend.TriggerSource(triggeredBy)
		if commitSHA.Valid {
			run.CommitSHA = commitSHA.String
		}
		if branch.Valid {
			run.Branch = branch.String
		}
		run.StartedAt = parseTime(startedAt)
		run.FinishedAt = parseTime(finishedAt)
		run.CreatedAt = parseTimeStr(createdAt)
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// nullInt converts a *int to a value for nullable INTEGER columns.
func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}
