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

// CreateMetric appends a metric row for a run.
func (s *Store) CreateMetric(ctx context.Context, m *backend.Metric) error {
	query := `
		INSERT INTO metrics (id, run_id, key, value, unit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.RunID,
		m.Key,
		m.Value,
		nullString(m.Unit),
		mustFormat(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create metric: %w", err)
	}
	return nil
}

// ListMetrics returns the metrics recorded for a run.
func (s *Store) ListMetrics(ctx context.Context, runID string) ([]*backend.Metric, error) {
	query := `
		SELECT id, run_id, key, value, unit, created_at
		FROM metrics
		WHERE run_id = ?
		ORDER BY key ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	return scanMetrics(rows)
}

// ListMetricHistory returns up to limit values of a key across the
// pipeline's successful runs, newest first.
func (s *Store) ListMetricHistory(ctx context.Context, pipelineID, key string, limit int) ([]*backend.Metric, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT m.id, m.run_id, m.key, m.value, m.unit, m.created_at
		FROM metrics m
		JOIN runs r ON r.id = m.run_id
		WHERE r.pipeline_id = ? AND r.status = 'success' AND m.key = ?
		ORDER BY m.created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID, key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list metric history: %w", err)
	}
	defer rows.Close()

	return scanMetrics(rows)
}

func scanMetrics(rows *sql.Rows) ([]*backend.Metric, error) {
	var metrics []*backend.Metric
	for rows.Next() {
		var m backend.Metric
		var unit sql.NullString
		var createdAt string

		if err := rows.Scan(&m.ID, &m.RunID, &m.Key, &m.Value, &unit, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		if unit.Valid {
			m.Unit = unit.String
		}
		m.CreatedAt = parseTimeStr(createdAt)
		metrics = append(metrics, &m)
	}

	return metrics, rows.Err()
}

// UpsertBaseline creates or replaces the baseline for (pipeline, key).
func (s *Store) UpsertBaseline(ctx context.Context, b *backend.Baseline) error {
	query := `
		INSERT INTO baselines (id, pipeline_id, key, baseline_value, tolerance_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (pipeline_id, key) DO UPDATE SET
			baseline_value = excluded.baseline_value,
			tolerance_pct = excluded.tolerance_pct,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		b.ID,
		b.PipelineID,
		b.Key,
		b.BaselineValue,
		b.TolerancePct,
		mustFormat(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert baseline: %w", err)
	}
	return nil
}

// GetBaseline retrieves the baseline for (pipeline, key).
func (s *Store) GetBaseline(ctx context.Context, pipelineID, key string) (*backend.Baseline, error) {
	query := `
		SELECT id, pipeline_id, key, baseline_value, tolerance_pct, updated_at
		FROM baselines
		WHERE pipeline_id = ? AND key = ?
	`
	row := s.db.QueryRowContext(ctx, query, pipelineID, key)

	var b backend.Baseline
	var updatedAt string

	err := row.Scan(&b.ID, &b.PipelineID, &b.Key, &b.BaselineValue, &b.TolerancePct, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &eiflerrors.NotFoundError{Resource: "baseline", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}

	b.UpdatedAt = parseTimeStr(updatedAt)
	return &b, nil
}

// ListBaselines lists the baselines of a pipeline ordered by key.
func (s *Store) ListBaselines(ctx context.Context, pipelineID string) ([]*backend.Baseline, error) {
	query := `
		SELECT id, pipeline_id, key, baseline_value, tolerance_pct, updated_at
		FROM baselines
		WHERE pipeline_id = ?
		ORDER BY key ASC
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	defer rows.Close()

	var baselines []*backend.Baseline
	for rows.Next() {
		var b backend.Baseline
		var updatedAt string

		if err := rows.Scan(&b.ID, &b.PipelineID, &b.Key, &b.BaselineValue, &b.TolerancePct, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		b.UpdatedAt = parseTimeStr(updatedAt)
		baselines = append(baselines, &b)
	}

	return baselines, rows.Err()
}

// DeleteBaseline removes a baseline.
func (s *Store) DeleteBaseline(ctx context.Context, pipelineID, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM baselines WHERE pipeline_id = ? AND key = ?`, pipelineID, key)
	if err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "baseline", ID: key}
	}

	return nil
}
