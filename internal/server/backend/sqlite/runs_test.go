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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/server/backend"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

func TestCreateRunWithSteps(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)

	run := &backend.Run{
		ID:          uuid.New().String(),
		PipelineID:  pipeline.ID,
		Status:      backend.RunPending,
		CommitSHA:   "4bb7ea1e0d7a1bf0c8a2d4e6f8135792468ace00",
		Branch:      "main",
		TriggeredBy: backend.TriggerPush,
		CreatedAt:   msNow(),
	}
	steps := []*backend.Step{
		{ID: uuid.New().String(), RunID: run.ID, Seq: 0, Name: "test", Command: "make test", Status: backend.StepPending},
		{ID: uuid.New().String(), RunID: run.ID, Seq: 1, Name: "build", Command: "make build", Status: backend.StepPending},
	}
	require.NoError(t, store.CreateRun(ctx, run, steps))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)

	stored, err := store.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "test", stored[0].Name)
	assert.Equal(t, "build", stored[1].Name)
	assert.Equal(t, backend.StepPending, stored[0].Status)
	assert.Nil(t, stored[0].ExitCode)
	assert.Empty(t, stored[0].Output)
}

func TestGetRunNotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.GetRun(context.Background(), "missing")

	var notFound *eiflerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "run", notFound.Resource)
}

func TestListRunsNewestFirstWithPagination(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	base := msNow()

	var ids []string
	for i := 0; i < 5; i++ {
		run := seedRun(t, store, pipeline.ID, backend.RunSuccess, base.Add(time.Duration(i)*time.Second))
		ids = append(ids, run.ID)
	}

	all, err := store.ListRuns(ctx, backend.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[4].ID)

	page, err := store.ListRuns(ctx, backend.RunFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	page, err = store.ListRuns(ctx, backend.RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)
}

func TestListRunsFilters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	ciPipeline := seedPipeline(t, store, repo.ID)
	benchPipeline := seedPipeline(t, store, repo.ID)
	now := msNow()

	seedRun(t, store, ciPipeline.ID, backend.RunSuccess, now)
	seedRun(t, store, ciPipeline.ID, backend.RunFailed, now.Add(time.Second))
	scheduled := &backend.Run{
		ID: uuid.New().String(), PipelineID: benchPipeline.ID, Status: backend.RunSuccess,
		TriggeredBy: backend.TriggerSchedule, CreatedAt: now.Add(2 * time.Second),
	}
	require.NoError(t, store.CreateRun(ctx, scheduled, nil))

	byPipeline, err := store.ListRuns(ctx, backend.RunFilter{PipelineID: ciPipeline.ID})
	require.NoError(t, err)
	assert.Len(t, byPipeline, 2)

	byStatus, err := store.ListRuns(ctx, backend.RunFilter{Status: backend.RunFailed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, ciPipeline.ID, byStatus[0].PipelineID)

	byTrigger, err := store.ListRuns(ctx, backend.RunFilter{TriggeredBy: backend.TriggerSchedule})
	require.NoError(t, err)
	require.Len(t, byTrigger, 1)
	assert.Equal(t, scheduled.ID, byTrigger[0].ID)

	combined, err := store.ListRuns(ctx, backend.RunFilter{PipelineID: ciPipeline.ID, Status: backend.RunSuccess})
	require.NoError(t, err)
	assert.Len(t, combined, 1)
}

func TestCountRunsIgnoresPagination(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	now := msNow()

	for i := 0; i < 3; i++ {
		seedRun(t, store, pipeline.ID, backend.RunSuccess, now.Add(time.Duration(i)*time.Second))
	}
	seedRun(t, store, pipeline.ID, backend.RunFailed, now.Add(3*time.Second))

	count, err := store.CountRuns(ctx, backend.RunFilter{Status: backend.RunSuccess, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	total, err := store.CountRuns(ctx, backend.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestListPendingRunsOldestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	now := msNow()

	newer := seedRun(t, store, pipeline.ID, backend.RunPending, now.Add(time.Second))
	older := seedRun(t, store, pipeline.ID, backend.RunPending, now)
	seedRun(t, store, pipeline.ID, backend.RunRunning, now.Add(2*time.Second))

	pending, err := store.ListPendingRuns(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID, "dispatch order is FIFO")
	assert.Equal(t, newer.ID, pending[1].ID)
}

func TestHasPendingOrRunningRun(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	busy := seedPipeline(t, store, repo.ID)
	active := seedPipeline(t, store, repo.ID)
	idle := seedPipeline(t, store, repo.ID)
	now := msNow()

	seedRun(t, store, busy.ID, backend.RunPending, now)
	seedRun(t, store, active.ID, backend.RunRunning, now)
	seedRun(t, store, idle.ID, backend.RunSuccess, now)
	seedRun(t, store, idle.ID, backend.RunFailed, now.Add(time.Second))

	for pipelineID, want := range map[string]bool{busy.ID: true, active.ID: true, idle.ID: false} {
		got, err := store.HasPendingOrRunningRun(ctx, pipelineID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReserveRun(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	run := seedRun(t, store, pipeline.ID, backend.RunPending, msNow())
	runner := seedRunner(t, store, "builder-1", 1)
	rival := seedRunner(t, store, "builder-2", 1)

	now := msNow()
	require.NoError(t, store.ReserveRun(ctx, run.ID, runner.ID, now))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.RunRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, now, *got.StartedAt)

	reserved, err := store.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reserved.ActiveJobs)
	assert.Equal(t, backend.RunnerBusy, reserved.Status, "at capacity after taking the job")
	require.NotNil(t, reserved.LastSeen)

	// A second poll for the same run loses the conditional update.
	err = store.ReserveRun(ctx, run.ID, rival.ID, msNow())
	require.ErrorIs(t, err, backend.ErrRunTaken)

	untouched, err := store.GetRunner(ctx, rival.ID)
	require.NoError(t, err)
	assert.Zero(t, untouched.ActiveJobs, "losing reservation must not count a job")
}

func TestReserveRunUnderCapacityStaysOnline(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	run := seedRun(t, store, pipeline.ID, backend.RunPending, msNow())
	runner := seedRunner(t, store, "wide-builder", 2)

	require.NoError(t, store.ReserveRun(ctx, run.ID, runner.ID, msNow()))

	got, err := store.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ActiveJobs)
	assert.Equal(t, backend.RunnerOnline, got.Status)
}

func TestReserveRunUnknownRunner(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	run := seedRun(t, store, pipeline.ID, backend.RunPending, msNow())

	err := store.ReserveRun(ctx, run.ID, "missing", msNow())

	var notFound *eiflerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "runner", notFound.Resource)

	// The aborted transaction must leave the run pending.
	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.RunPending, got.Status)
}

func TestTransitionRun(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	run := seedRun(t, store, pipeline.ID, backend.RunPending, msNow())

	startAt := msNow()
	ok, err := store.TransitionRun(ctx, run.ID, []backend.RunStatus{backend.RunPending}, backend.RunRunning, startAt)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.RunRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, startAt, *got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	// A transition whose from set does not match is a no-op, not an error.
	ok, err = store.TransitionRun(ctx, run.ID, []backend.RunStatus{backend.RunPending}, backend.RunCancelled, msNow())
	require.NoError(t, err)
	assert.False(t, ok)

	finishAt := msNow().Add(time.Second)
	ok, err = store.TransitionRun(ctx, run.ID, []backend.RunStatus{backend.RunRunning}, backend.RunSuccess, finishAt)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.RunSuccess, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, startAt, *got.StartedAt, "terminal transition keeps the original start")
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, finishAt, *got.FinishedAt)
}

func TestTransitionRunCancelsPendingRun(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	run := seedRun(t, store, pipeline.ID, backend.RunPending, msNow())

	now := msNow()
	ok, err := store.TransitionRun(ctx, run.ID, []backend.RunStatus{backend.RunPending, backend.RunRunning}, backend.RunCancelled, now)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, backend.RunCancelled, got.Status)
	assert.Nil(t, got.StartedAt, "a run cancelled before dispatch never started")
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, now, *got.FinishedAt)
}

func TestTransitionRunRequiresSourceStatus(t *testing.T) {
	store := newStore(t)

	_, err := store.TransitionRun(context.Background(), "any", nil, backend.RunSuccess, msNow())
	require.Error(t, err)
}
