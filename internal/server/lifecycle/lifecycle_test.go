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

package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/backend/sqlite"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "eifl.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, nil, logger), store
}

func seedPipeline(t *testing.T, store *sqlite.Store) *backend.Pipeline {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	project := &backend.Project{ID: uuid.New().String(), Name: "proj-" + uuid.New().String(), CreatedAt: now}
	require.NoError(t, store.CreateProject(ctx, project))

	repo := &backend.Repo{
		ID:            uuid.New().String(),
		ProjectID:     project.ID,
		Name:          "widgets",
		Path:          "proj/widgets-" + uuid.New().String() + ".git",
		DefaultBranch: "main",
		CreatedAt:     now,
	}
	require.NoError(t, store.CreateRepo(ctx, repo))

	pipeline := &backend.Pipeline{
		ID:        uuid.New().String(),
		RepoID:    repo.ID,
		Name:      "build",
		Config:    `{"name":"build","steps":[{"name":"test","run":"make test"}]}`,
		CreatedAt: now,
	}
	require.NoError(t, store.CreatePipeline(ctx, pipeline))

	return pipeline
}

func seedRun(t *testing.T, store *sqlite.Store, pipelineID string, status backend.RunStatus, stepCount int) *backend.Run {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	run := &backend.Run{
		ID:          uuid.New().String(),
		PipelineID:  pipelineID,
		Status:      status,
		CommitSHA:   "a1b2c3",
		Branch:      "main",
		TriggeredBy: backend.TriggerPush,
		CreatedAt:   now,
	}
	if status != backend.RunPending {
		run.StartedAt = &now
	}
	if status.Terminal() {
		run.FinishedAt = &now
	}

	var steps []*backend.Step
	for i := 0; i < stepCount; i++ {
		steps = append(steps, &backend.Step{
			ID:      uuid.New().String(),
			RunID:   run.ID,
			Seq:     i,
			Name:    fmt.Sprintf("step-%d", i),
			Command: "true",
			Status:  backend.StepPending,
		})
	}

	require.NoError(t, store.CreateRun(ctx, run, steps))
	return run
}

func seedRunner(t *testing.T, store *sqlite.Store, activeJobs, maxConcurrency int) *backend.Runner {
	t.Helper()

	runner := &backend.Runner{
		ID:             uuid.New().String(),
		Name:           "runner-" + uuid.New().String(),
		Token:          uuid.New().String(),
		Status:         backend.RunnerBusy,
		Tags:           []string{"linux"},
		MaxConcurrency: maxConcurrency,
		ActiveJobs:     activeJobs,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateRunner(context.Background(), runner))
	return runner
}

func TestCompleteRunSuccess(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunRunning, 1)
	runner := seedRunner(t, store, 1, 1)

	check, err := engine.CompleteRun(ctx, run.ID, backend.RunSuccess, []MetricInput{
		{Key: "build_seconds", Value: 42.5, Unit: "s"},
		{Key: "size.out_app", Value: 1024, Unit: "bytes"},
	}, runner)
	require.NoError(t, err)
	assert.Equal(t, 0, check.Checked, "no baselines configured yet")
	assert.False(t, check.HasRegressions)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.RunSuccess, got.Status)
	require.NotNil(t, got.FinishedAt)

	recorded, err := store.ListMetrics(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, recorded, 2)

	gotRunner, err := store.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotRunner.ActiveJobs)
	assert.Equal(t, backend.RunnerOnline, gotRunner.Status)
	assert.NotNil(t, gotRunner.LastSeen)
}

func TestCompleteRunBaselineRegression(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunRunning, 1)

	require.NoError(t, store.UpsertBaseline(ctx, &backend.Baseline{
		ID: uuid.New().String(), PipelineID: pipeline.ID,
		Key: "binary_size", BaselineValue: 100, TolerancePct: 10,
		UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.UpsertBaseline(ctx, &backend.Baseline{
		ID: uuid.New().String(), PipelineID: pipeline.ID,
		Key: "build_seconds", BaselineValue: 60, TolerancePct: 25,
		UpdatedAt: time.Now().UTC(),
	}))

	check, err := engine.CompleteRun(ctx, run.ID, backend.RunSuccess, []MetricInput{
		{Key: "binary_size", Value: 115},   // 15% over, tolerance 10 -> regression
		{Key: "build_seconds", Value: 70},  // ~16.7%, tolerance 25 -> fine
		{Key: "unbaselined", Value: 12345}, // no baseline -> not checked
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, check.Checked)
	assert.True(t, check.HasRegressions)
	require.Len(t, check.Regressions, 1)

	reg := check.Regressions[0]
	assert.Equal(t, "binary_size", reg.Key)
	assert.Equal(t, 100.0, reg.BaselineValue)
	assert.Equal(t, 115.0, reg.CurrentValue)
	assert.InDelta(t, 15.0, reg.DeviationPct, 0.0001)
	assert.Equal(t, 10.0, reg.TolerancePct)
}

func TestCompleteRunExactToleranceBoundary(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunRunning, 1)

	require.NoError(t, store.UpsertBaseline(ctx, &backend.Baseline{
		ID: uuid.New().String(), PipelineID: pipeline.ID,
		Key: "size", BaselineValue: 200, TolerancePct: 10,
		UpdatedAt: time.Now().UTC(),
	}))

	// Exactly 10% deviation is within tolerance.
	check, err := engine.CompleteRun(ctx, run.ID, backend.RunSuccess,
		[]MetricInput{{Key: "size", Value: 220}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, check.Checked)
	assert.False(t, check.HasRegressions)
}

func TestCompleteRunCancelledStaysCancelled(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunCancelled, 1)
	runner := seedRunner(t, store, 1, 2)

	check, err := engine.CompleteRun(ctx, run.ID, backend.RunSuccess, []MetricInput{
		{Key: "late_metric", Value: 1},
	}, runner)
	require.NoError(t, err, "late callbacks are accepted")
	assert.Equal(t, 0, check.Checked)
	assert.False(t, check.HasRegressions)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.RunCancelled, got.Status, "completion must not revive the run")

	recorded, err := store.ListMetrics(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, recorded)

	// The runner's slot is still released.
	gotRunner, err := store.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotRunner.ActiveJobs)
	assert.Equal(t, backend.RunnerOnline, gotRunner.Status)
}

func TestCompleteRunRejectsBadStatus(t *testing.T) {
	engine, store := newTestEngine(t)

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunRunning, 1)

	for _, status := range []backend.RunStatus{backend.RunPending, backend.RunRunning, backend.RunCancelled, "bogus"} {
		_, err := engine.CompleteRun(context.Background(), run.ID, status, nil, nil)
		var verr *eiflerrors.ValidationError
		assert.ErrorAs(t, err, &verr, "status %q must be rejected", status)
	}
}

func TestCompleteRunUnknownRun(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.CompleteRun(context.Background(), "no-such-run", backend.RunSuccess, nil, nil)
	var notFound *eiflerrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCancelRun(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunPending, 1)

	cancelled, err := engine.CancelRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.RunCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.FinishedAt)

	_, err = engine.CancelRun(ctx, run.ID)
	var precondition *eiflerrors.PreconditionFailedError
	assert.ErrorAs(t, err, &precondition)
}

func TestCancelRunningRun(t *testing.T) {
	engine, store := newTestEngine(t)

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunRunning, 1)

	cancelled, err := engine.CancelRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.RunCancelled, cancelled.Status)
}

func TestUpdateStepLifecycle(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunRunning, 2)

	steps, err := store.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	require.NoError(t, engine.UpdateStep(ctx, steps[0].ID, backend.StepRunning, nil, ""))
	require.NoError(t, engine.AppendOutput(ctx, steps[0].ID, "line one\n"))
	require.NoError(t, engine.AppendOutput(ctx, steps[0].ID, "line two\n"))

	exitCode := 0
	require.NoError(t, engine.UpdateStep(ctx, steps[0].ID, backend.StepSuccess, &exitCode, "done\n"))

	got, err := store.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, backend.StepSuccess, got.Status)
	assert.Equal(t, "line one\nline two\ndone\n", got.Output)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	// Skipped steps carry no exit code.
	require.NoError(t, engine.UpdateStep(ctx, steps[1].ID, backend.StepSkipped, nil, ""))
	got, err = store.GetStep(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, backend.StepSkipped, got.Status)
	assert.Nil(t, got.ExitCode)
	assert.NotNil(t, got.FinishedAt)
}

func TestUpdateStepRejectsPending(t *testing.T) {
	engine, store := newTestEngine(t)

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunRunning, 1)
	steps, err := store.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)

	err = engine.UpdateStep(context.Background(), steps[0].ID, backend.StepPending, nil, "")
	var verr *eiflerrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDeviationPct(t *testing.T) {
	tests := []struct {
		name     string
		baseline float64
		current  float64
		want     float64
	}{
		{"both zero", 0, 0, 0},
		{"zero baseline nonzero current", 0, 5, 100},
		{"zero baseline negative current", 0, -5, 100},
		{"exact match", 100, 100, 0},
		{"above", 100, 115, 15},
		{"below", 100, 85, 15},
		{"negative baseline", -100, -85, 15},
		{"crossing zero", 50, -50, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DeviationPct(tt.baseline, tt.current), 0.0001)
		})
	}
}

func TestSetBaseline(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pipeline := seedPipeline(t, store)

	b, err := engine.SetBaseline(ctx, pipeline.ID, "size", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, backend.DefaultTolerancePct, b.TolerancePct)

	custom := 5.0
	b, err = engine.SetBaseline(ctx, pipeline.ID, "size", 120, &custom)
	require.NoError(t, err)
	assert.Equal(t, 120.0, b.BaselineValue)
	assert.Equal(t, 5.0, b.TolerancePct)

	// Updating the value without a tolerance keeps the custom one.
	b, err = engine.SetBaseline(ctx, pipeline.ID, "size", 130, nil)
	require.NoError(t, err)
	assert.Equal(t, 130.0, b.BaselineValue)
	assert.Equal(t, 5.0, b.TolerancePct)

	negative := -1.0
	_, err = engine.SetBaseline(ctx, pipeline.ID, "size", 100, &negative)
	var verr *eiflerrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSetBaselinesFromRun(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	pipeline := seedPipeline(t, store)
	run := seedRun(t, store, pipeline.ID, backend.RunRunning, 1)

	_, err := engine.CompleteRun(ctx, run.ID, backend.RunSuccess, []MetricInput{
		{Key: "size", Value: 2048, Unit: "bytes"},
		{Key: "build_seconds", Value: 33},
	}, nil)
	require.NoError(t, err)

	baselines, err := engine.SetBaselinesFromRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, baselines, 2)

	b, err := store.GetBaseline(ctx, pipeline.ID, "size")
	require.NoError(t, err)
	assert.Equal(t, 2048.0, b.BaselineValue)
	assert.Equal(t, backend.DefaultTolerancePct, b.TolerancePct)

	// A failed run cannot seed baselines.
	failed := seedRun(t, store, pipeline.ID, backend.RunRunning, 1)
	_, err = engine.CompleteRun(ctx, failed.ID, backend.RunFailed, nil, nil)
	require.NoError(t, err)

	_, err = engine.SetBaselinesFromRun(ctx, failed.ID)
	var precondition *eiflerrors.PreconditionFailedError
	assert.ErrorAs(t, err, &precondition)
}
