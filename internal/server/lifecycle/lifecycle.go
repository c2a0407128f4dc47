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

// Package lifecycle owns run and step state transitions, metric ingestion,
// and baseline comparison. Creation is the trigger layer's job; everything
// after creation funnels through here.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/metrics"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// StatusNotifier receives run status changes for external reporting (the
// GitHub commit-status adapter). Implementations are best-effort and must
// never block or fail a state transition.
type StatusNotifier interface {
	NotifyRunStatus(ctx context.Context, run *backend.Run)
}

// MetricInput is one measurement reported by a runner on run completion.
type MetricInput struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Regression is one metric that landed outside its baseline tolerance.
type Regression struct {
	Key           string  `json:"key"`
	BaselineValue float64 `json:"baselineValue"`
	CurrentValue  float64 `json:"currentValue"`
	DeviationPct  float64 `json:"deviationPct"`
	TolerancePct  float64 `json:"tolerancePct"`
}

// BaselineCheck summarizes the baseline comparison of one completed run.
type BaselineCheck struct {
	Checked        int          `json:"checked"`
	Regressions    []Regression `json:"regressions"`
	HasRegressions bool         `json:"hasRegressions"`
}

// Engine applies the run and step state machines over the store.
type Engine struct {
	store    backend.Store
	notifier StatusNotifier
	logger   *slog.Logger
}

// NewEngine creates a lifecycle engine. notifier may be nil when no
// external status reporting is configured.
func NewEngine(store backend.Store, notifier StatusNotifier, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		logger:   log.WithComponent(logger, "lifecycle"),
	}
}

// CompleteRun applies a runner's terminal callback: it moves the run from
// running to success or failed, records the reported metrics, compares
// them against the pipeline's baselines, and releases the runner slot.
//
// A run that is no longer running (typically cancelled while the runner
// worked) is left untouched: the callback is accepted, the slot is still
// released, but no metrics are recorded and the baseline check is empty.
func (e *Engine) CompleteRun(ctx context.Context, runID string, status backend.RunStatus, inputs []MetricInput, runner *backend.Runner) (*BaselineCheck, error) {
	if status != backend.RunSuccess && status != backend.RunFailed {
		return nil, &eiflerrors.ValidationError{Field: "status", Message: "must be success or failed"}
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	changed, err := e.store.TransitionRun(ctx, runID, []backend.RunStatus{backend.RunRunning}, status, now)
	if err != nil {
		return nil, fmt.Errorf("failed to complete run: %w", err)
	}

	defer e.releaseRunner(ctx, runner, now)

	if !changed {
		e.logger.Info("ignoring completion for run no longer running",
			log.RunIDKey, runID,
			"current_status", string(run.Status),
			"reported_status", string(status))
		return &BaselineCheck{Regressions: []Regression{}}, nil
	}

	e.logger.Info("run completed",
		log.RunIDKey, runID,
		"status", string(status),
		log.DurationKey, durationMS(run.StartedAt, now))
	metrics.RecordRunCompleted(string(status))

	for _, in := range inputs {
		if err := e.RecordMetric(ctx, runID, in.Key, in.Value, in.Unit); err != nil {
			e.logger.Warn("failed to record metric", log.RunIDKey, runID, "key", in.Key, log.Error(err))
		}
	}

	check, err := e.checkBaselines(ctx, run.PipelineID, inputs)
	if err != nil {
		e.logger.Warn("baseline comparison failed", log.RunIDKey, runID, log.Error(err))
		check = &BaselineCheck{Regressions: []Regression{}}
	}

	e.notify(ctx, runID)
	return check, nil
}

// CancelRun moves a pending or running run to cancelled. Runners are not
// interrupted; their later callbacks are accepted without reviving the
// run.
func (e *Engine) CancelRun(ctx context.Context, runID string) (*backend.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, &eiflerrors.PreconditionFailedError{
			Reason: fmt.Sprintf("run is already %s", run.Status),
		}
	}

	now := time.Now().UTC()
	changed, err := e.store.TransitionRun(ctx, runID,
		[]backend.RunStatus{backend.RunPending, backend.RunRunning},
		backend.RunCancelled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel run: %w", err)
	}
	if !changed {
		return nil, &eiflerrors.PreconditionFailedError{Reason: "run finished before it could be cancelled"}
	}

	e.logger.Info("run cancelled", log.RunIDKey, runID)
	metrics.RecordRunCompleted(string(backend.RunCancelled))
	e.notify(ctx, runID)

	return e.store.GetRun(ctx, runID)
}

// UpdateStep applies a runner's step callback: status, optional exit code,
// and an optional output chunk.
func (e *Engine) UpdateStep(ctx context.Context, stepID string, status backend.StepStatus, exitCode *int, output string) error {
	switch status {
	case backend.StepRunning, backend.StepSuccess, backend.StepFailed, backend.StepSkipped:
	default:
		return &eiflerrors.ValidationError{Field: "status", Message: "must be running, success, failed, or skipped"}
	}

	if err := e.store.UpdateStepStatus(ctx, stepID, status, exitCode, time.Now().UTC()); err != nil {
		return err
	}

	if output != "" {
		return e.AppendOutput(ctx, stepID, output)
	}
	return nil
}

// AppendOutput concatenates a chunk onto the step's output.
func (e *Engine) AppendOutput(ctx context.Context, stepID, chunk string) error {
	if chunk == "" {
		return nil
	}
	if err := e.store.AppendStepOutput(ctx, stepID, chunk); err != nil {
		return err
	}
	metrics.RecordStepOutput(len(chunk))
	log.Trace(e.logger, "step output appended",
		slog.String(log.StepIDKey, stepID),
		slog.Int("bytes", len(chunk)))
	return nil
}

// RecordMetric appends one measurement for a run. No uniqueness applies;
// history per key accumulates across runs.
func (e *Engine) RecordMetric(ctx context.Context, runID, key string, value float64, unit string) error {
	if key == "" {
		return &eiflerrors.ValidationError{Field: "key", Message: "must not be empty"}
	}
	return e.store.CreateMetric(ctx, &backend.Metric{
		ID:        uuid.New().String(),
		RunID:     runID,
		Key:       key,
		Value:     value,
		Unit:      unit,
		CreatedAt: time.Now().UTC(),
	})
}

// SetBaseline creates or replaces the baseline for (pipeline, key).
// A nil tolerance keeps an existing baseline's tolerance, or applies the
// default for a new one.
func (e *Engine) SetBaseline(ctx context.Context, pipelineID, key string, value float64, tolerancePct *float64) (*backend.Baseline, error) {
	if key == "" {
		return nil, &eiflerrors.ValidationError{Field: "key", Message: "must not be empty"}
	}

	tolerance := backend.DefaultTolerancePct
	if tolerancePct != nil {
		if *tolerancePct < 0 {
			return nil, &eiflerrors.ValidationError{Field: "tolerance_pct", Message: "must not be negative"}
		}
		tolerance = *tolerancePct
	} else if existing, err := e.store.GetBaseline(ctx, pipelineID, key); err == nil {
		tolerance = existing.TolerancePct
	}

	b := &backend.Baseline{
		ID:            uuid.New().String(),
		PipelineID:    pipelineID,
		Key:           key,
		BaselineValue: value,
		TolerancePct:  tolerance,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := e.store.UpsertBaseline(ctx, b); err != nil {
		return nil, err
	}
	return e.store.GetBaseline(ctx, pipelineID, key)
}

// SetBaselinesFromRun upserts one baseline per metric key of a successful
// run, using the run's values. Existing tolerances are preserved.
func (e *Engine) SetBaselinesFromRun(ctx context.Context, runID string) ([]*backend.Baseline, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != backend.RunSuccess {
		return nil, &eiflerrors.PreconditionFailedError{
			Reason: fmt.Sprintf("run is %s, baselines come from successful runs", run.Status),
		}
	}

	recorded, err := e.store.ListMetrics(ctx, runID)
	if err != nil {
		return nil, err
	}

	var baselines []*backend.Baseline
	for _, m := range recorded {
		b, err := e.SetBaseline(ctx, run.PipelineID, m.Key, m.Value, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to set baseline for %s: %w", m.Key, err)
		}
		baselines = append(baselines, b)
	}
	return baselines, nil
}

// DeviationPct computes how far current strays from baseline, in percent.
// A zero baseline deviates 0% when current is also zero and 100% otherwise,
// which keeps the comparison total without dividing by zero.
func DeviationPct(baseline, current float64) float64 {
	if baseline == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(current-baseline) / math.Abs(baseline) * 100
}

// checkBaselines compares the run's reported metrics against the
// pipeline's baselines. Within tolerance means deviation <= tolerance.
func (e *Engine) checkBaselines(ctx context.Context, pipelineID string, inputs []MetricInput) (*BaselineCheck, error) {
	baselines, err := e.store.ListBaselines(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*backend.Baseline, len(baselines))
	for _, b := range baselines {
		byKey[b.Key] = b
	}

	check := &BaselineCheck{Regressions: []Regression{}}
	for _, in := range inputs {
		b, ok := byKey[in.Key]
		if !ok {
			continue
		}
		check.Checked++

		deviation := DeviationPct(b.BaselineValue, in.Value)
		if deviation > b.TolerancePct {
			check.Regressions = append(check.Regressions, Regression{
				Key:           in.Key,
				BaselineValue: b.BaselineValue,
				CurrentValue:  in.Value,
				DeviationPct:  deviation,
				TolerancePct:  b.TolerancePct,
			})
			metrics.RecordBaselineRegression()
			e.logger.Warn("metric outside baseline tolerance",
				"key", in.Key,
				"baseline", b.BaselineValue,
				"current", in.Value,
				"deviation_pct", deviation,
				"tolerance_pct", b.TolerancePct)
		}
	}

	check.HasRegressions = len(check.Regressions) > 0
	return check, nil
}

// releaseRunner gives the slot back after any completion callback and
// reports the runner online again, whatever its previous status.
func (e *Engine) releaseRunner(ctx context.Context, runner *backend.Runner, now time.Time) {
	if runner == nil {
		return
	}
	if err := e.store.DecrementActiveJobs(ctx, runner.ID); err != nil {
		e.logger.Warn("failed to decrement active jobs", log.RunnerKey, runner.Name, log.Error(err))
	}
	if err := e.store.TouchRunner(ctx, runner.ID, backend.RunnerOnline, now); err != nil {
		e.logger.Warn("failed to refresh runner", log.RunnerKey, runner.Name, log.Error(err))
	}
}

// notify hands the fresh run state to the status notifier, off the
// request path.
func (e *Engine) notify(ctx context.Context, runID string) {
	if e.notifier == nil {
		return
	}
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		e.logger.Warn("failed to load run for status notification", log.RunIDKey, runID, log.Error(err))
		return
	}
	go e.notifier.NotifyRunStatus(context.WithoutCancel(ctx), run)
}

func durationMS(started *time.Time, finished time.Time) int64 {
	if started == nil {
		return 0
	}
	return finished.Sub(*started).Milliseconds()
}
