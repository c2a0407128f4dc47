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

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, id string) (*backend.Step, error) {
	query := `
		SELECT id, run_id, seq, name, command, status, exit_code, output, started_at, finished_at
		FROM steps
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)

	var step backend.Step
	var status string
	var exitCode sql.NullInt64
	var startedAt, finishedAt sql.NullString

	err := row.Scan(&step.ID, &step.RunID, &step.Seq, &step.Name, &step.Command, &status, &exitCode, &step.Output, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, &eiflerrors.NotFoundError{Resource: "step", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}

	step.Status = backend.StepStatus(status)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		step.ExitCode = &code
	}
	step.StartedAt = parseTime(startedAt)
	step.FinishedAt = parseTime(finishedAt)

	return &step, nil
}

// ListSteps returns the steps of a run in execution order.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*backend.Step, error) {
	query := `
		SELECT id, run_id, seq, name, command, status, exit_code, output, started_at, finished_at
		FROM steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*backend.Step
	for rows.Next() {
		var step backend.Step
		var status string
		var exitCode sql.NullInt64
		var startedAt, finishedAt sql.NullString

		if err := rows.Scan(&step.ID, &step.RunID, &step.Seq, &step.Name, &step.Command, &status, &exitCode, &step.Output, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Status = backend.StepStatus(status)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			step.ExitCode = &code
		}
		step.StartedAt = parseTime(startedAt)
		step.FinishedAt = parseTime(finishedAt)
		steps = append(steps, &step)
	}

	return steps, rows.Err()
}

// UpdateStepStatus sets the step's status and, when provided, its exit
// code. Entering running stamps started_at once; entering a final status
// stamps finished_at.
func (s *Store) UpdateStepStatus(ctx context.Context, id string, status backend.StepStatus, exitCode *int, now time.Time) error {
	ts := mustFormat(now)
	set := "status = ?"
	args := []any{string(status)}

	if exitCode != nil {
		set += ", exit_code = ?"
		args = append(args, *exitCode)
	}
	if status == backend.StepRunning {
		set += ", started_at = COALESCE(started_at, ?)"
		args = append(args, ts)
	}
	if status == backend.StepSuccess || status == backend.StepFailed || status == backend.StepSkipped {
		set += ", finished_at = ?"
		args = append(args, ts)
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE steps SET %s WHERE id = ?`, set), args...)
	if err != nil {
		return fmt.Errorf("failed to update step status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "step", ID: id}
	}

	return nil
}

// AppendStepOutput concatenates a chunk onto the step's output column.
func (s *Store) AppendStepOutput(ctx context.Context, id string, chunk string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE steps SET output = output || ? WHERE id = ?`, chunk, id)
	if err != nil {
		return fmt.Errorf("failed to append step output: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "step", ID: id}
	}

	return nil
}
