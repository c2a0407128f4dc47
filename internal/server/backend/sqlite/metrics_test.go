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

func seedMetric(t *testing.T, s *Store, runID, key string, value float64, unit string, createdAt time.Time) *backend.Metric {
	t.Helper()

	m := &backend.Metric{
		ID:        uuid.New().String(),
		RunID:     runID,
		Key:       key,
		Value:     value,
		Unit:      unit,
		CreatedAt: createdAt,
	}
	require.NoError(t, s.CreateMetric(context.Background(), m))
	return m
}

func TestListMetricsOrderedByKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	run := seedRun(t, store, pipeline.ID, backend.RunSuccess, msNow())
	other := seedRun(t, store, pipeline.ID, backend.RunSuccess, msNow())
	now := msNow()

	seedMetric(t, store, run.ID, "size.app.bin", 2048, "bytes", now)
	seedMetric(t, store, run.ID, "build_ms", 1200, "ms", now)
	seedMetric(t, store, run.ID, "coverage", 87.5, "", now)
	seedMetric(t, store, other.ID, "build_ms", 1100, "ms", now)

	metrics, err := store.ListMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	assert.Equal(t, "build_ms", metrics[0].Key)
	assert.Equal(t, "coverage", metrics[1].Key)
	assert.Equal(t, "size.app.bin", metrics[2].Key)

	assert.Equal(t, 1200.0, metrics[0].Value)
	assert.Equal(t, "ms", metrics[0].Unit)
	assert.Empty(t, metrics[1].Unit, "unitless metric stays unitless")
}

func TestListMetricHistory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	otherPipeline := seedPipeline(t, store, repo.ID)
	base := msNow()

	// Three successful runs, a failed run, and a foreign pipeline's run;
	// only successful runs of the target pipeline count as history.
	values := []float64{100, 110, 120}
	for i, v := range values {
		at := base.Add(time.Duration(i) * time.Second)
		run := seedRun(t, store, pipeline.ID, backend.RunSuccess, at)
		seedMetric(t, store, run.ID, "build_ms", v, "ms", at)
		seedMetric(t, store, run.ID, "coverage", 80+v/100, "", at)
	}
	failed := seedRun(t, store, pipeline.ID, backend.RunFailed, base.Add(3*time.Second))
	seedMetric(t, store, failed.ID, "build_ms", 999, "ms", base.Add(3*time.Second))
	foreign := seedRun(t, store, otherPipeline.ID, backend.RunSuccess, base.Add(4*time.Second))
	seedMetric(t, store, foreign.ID, "build_ms", 555, "ms", base.Add(4*time.Second))

	history, err := store.ListMetricHistory(ctx, pipeline.ID, "build_ms", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 120.0, history[0].Value, "newest first")
	assert.Equal(t, 110.0, history[1].Value)
	assert.Equal(t, 100.0, history[2].Value)

	limited, err := store.ListMetricHistory(ctx, pipeline.ID, "build_ms", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, 120.0, limited[0].Value)

	empty, err := store.ListMetricHistory(ctx, pipeline.ID, "unknown_key", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUpsertBaselineReplacesExisting(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)

	first := &backend.Baseline{
		ID: uuid.New().String(), PipelineID: pipeline.ID, Key: "build_ms",
		BaselineValue: 1200, TolerancePct: backend.DefaultTolerancePct, UpdatedAt: msNow(),
	}
	require.NoError(t, store.UpsertBaseline(ctx, first))

	got, err := store.GetBaseline(ctx, pipeline.ID, "build_ms")
	require.NoError(t, err)
	assert.Equal(t, first, got)

	tightened := &backend.Baseline{
		ID: uuid.New().String(), PipelineID: pipeline.ID, Key: "build_ms",
		BaselineValue: 1100, TolerancePct: 5, UpdatedAt: msNow().Add(time.Second),
	}
	require.NoError(t, store.UpsertBaseline(ctx, tightened))

	got, err = store.GetBaseline(ctx, pipeline.ID, "build_ms")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "the existing row keeps its identity")
	assert.Equal(t, 1100.0, got.BaselineValue)
	assert.Equal(t, 5.0, got.TolerancePct)
	assert.Equal(t, tightened.UpdatedAt, got.UpdatedAt)

	all, err := store.ListBaselines(ctx, pipeline.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetBaselineNotFound(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)

	_, err := store.GetBaseline(ctx, pipeline.ID, "build_ms")

	var notFound *eiflerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "baseline", notFound.Resource)
}

func TestListBaselinesOrderedByKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)
	other := seedPipeline(t, store, repo.ID)

	for _, key := range []string{"size.app.bin", "build_ms", "fetch_ms"} {
		require.NoError(t, store.UpsertBaseline(ctx, &backend.Baseline{
			ID: uuid.New().String(), PipelineID: pipeline.ID, Key: key,
			BaselineValue: 1, TolerancePct: backend.DefaultTolerancePct, UpdatedAt: msNow(),
		}))
	}
	require.NoError(t, store.UpsertBaseline(ctx, &backend.Baseline{
		ID: uuid.New().String(), PipelineID: other.ID, Key: "build_ms",
		BaselineValue: 1, TolerancePct: backend.DefaultTolerancePct, UpdatedAt: msNow(),
	}))

	baselines, err := store.ListBaselines(ctx, pipeline.ID)
	require.NoError(t, err)
	require.Len(t, baselines, 3)
	assert.Equal(t, "build_ms", baselines[0].Key)
	assert.Equal(t, "fetch_ms", baselines[1].Key)
	assert.Equal(t, "size.app.bin", baselines[2].Key)
}

func TestDeleteBaseline(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)
	pipeline := seedPipeline(t, store, repo.ID)

	require.NoError(t, store.UpsertBaseline(ctx, &backend.Baseline{
		ID: uuid.New().String(), PipelineID: pipeline.ID, Key: "build_ms",
		BaselineValue: 1200, TolerancePct: backend.DefaultTolerancePct, UpdatedAt: msNow(),
	}))

	require.NoError(t, store.DeleteBaseline(ctx, pipeline.ID, "build_ms"))

	var notFound *eiflerrors.NotFoundError
	_, err := store.GetBaseline(ctx, pipeline.ID, "build_ms")
	require.ErrorAs(t, err, &notFound)

	require.ErrorAs(t, store.DeleteBaseline(ctx, pipeline.ID, "build_ms"), &notFound)
}
