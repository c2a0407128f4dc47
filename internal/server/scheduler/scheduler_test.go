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

package scheduler

import (
	"context"
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
	"github.com/eifl-dev/eifl/internal/server/trigger"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// fakeGit resolves branch tips from an in-memory map keyed by
// repoPath+"/"+branch. Manifest reads are not needed here.
type fakeGit struct {
	heads map[string]string
}

func (f *fakeGit) ResolveHead(_ context.Context, repoPath, branch string) (string, error) {
	sha, ok := f.heads[repoPath+"/"+branch]
	if !ok {
		return "", &eiflerrors.NotFoundError{Resource: "branch", ID: branch}
	}
	return sha, nil
}

func (f *fakeGit) ReadFileAtRef(_ context.Context, _, ref, path string) ([]byte, error) {
	return nil, &eiflerrors.NotFoundError{Resource: "file", ID: path + "@" + ref}
}

func newTestScheduler(t *testing.T, interval time.Duration) (*Scheduler, *sqlite.Store, *fakeGit) {
	t.Helper()

	store, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "eifl.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	g := &fakeGit{heads: map[string]string{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runs := trigger.NewService(store, g, nil, logger)
	return New(store, g, runs, interval, logger), store, g
}

func seedRepo(t *testing.T, store *sqlite.Store, remoteURL string) *backend.Repo {
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
		RemoteURL:     remoteURL,
		DefaultBranch: "main",
		CreatedAt:     now,
	}
	require.NoError(t, store.CreateRepo(ctx, repo))
	return repo
}

const nightlyManifest = `{
	"name": "nightly",
	"triggers": {"schedule": [{"cron": "*/5 * * * *"}]},
	"steps": [{"name": "sync", "run": "make sync"}]
}`

// seedDuePipeline stores a pipeline whose next_run_at is already in the
// past, so the next pass picks it up.
func seedDuePipeline(t *testing.T, store *sqlite.Store, repoID, config string) *backend.Pipeline {
	t.Helper()

	past := time.Now().UTC().Add(-time.Minute)
	pipeline := &backend.Pipeline{
		ID:        uuid.New().String(),
		RepoID:    repoID,
		Name:      "nightly-" + uuid.New().String(),
		Config:    config,
		NextRunAt: &past,
		CreatedAt: past,
	}
	require.NoError(t, store.CreatePipeline(context.Background(), pipeline))
	return pipeline
}

func listRuns(t *testing.T, store *sqlite.Store, pipelineID string) []*backend.Run {
	t.Helper()
	runs, err := store.ListRuns(context.Background(), backend.RunFilter{PipelineID: pipelineID})
	require.NoError(t, err)
	return runs
}

func TestTickFiresDuePipeline(t *testing.T) {
	sched, store, g := newTestScheduler(t, 0)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	pipeline := seedDuePipeline(t, store, repo.ID, nightlyManifest)
	g.heads[repo.Path+"/main"] = "feedc0de"

	sched.Tick(ctx)

	runs := listRuns(t, store, pipeline.ID)
	require.Len(t, runs, 1)
	assert.Equal(t, backend.RunPending, runs[0].Status)
	assert.Equal(t, backend.TriggerSchedule, runs[0].TriggeredBy)
	assert.Equal(t, "feedc0de", runs[0].CommitSHA)
	assert.Equal(t, "main", runs[0].Branch)

	steps, err := store.ListSteps(ctx, runs[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "sync", steps[0].Name)

	stored, err := store.GetPipeline(ctx, pipeline.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestTickFiresOnceAcrossOverlappingTicks(t *testing.T) {
	sched, store, g := newTestScheduler(t, 0)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	pipeline := seedDuePipeline(t, store, repo.ID, nightlyManifest)
	g.heads[repo.Path+"/main"] = "feedc0de"

	sched.Tick(ctx)
	sched.Tick(ctx)
	require.Len(t, listRuns(t, store, pipeline.ID), 1)

	// Even if the row is forced due again while the first run is still
	// pending, the active-run check suppresses a second enqueue.
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.SetPipelineNextRun(ctx, pipeline.ID, &past))

	sched.Tick(ctx)
	require.Len(t, listRuns(t, store, pipeline.ID), 1)
}

func TestTickSkipsUnresolvableHead(t *testing.T) {
	sched, store, _ := newTestScheduler(t, 0)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	pipeline := seedDuePipeline(t, store, repo.ID, nightlyManifest)

	sched.Tick(ctx)

	assert.Empty(t, listRuns(t, store, pipeline.ID))

	// The schedule is still re-armed so the next period gets a fresh try.
	stored, err := store.GetPipeline(ctx, pipeline.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestTickFiresRemoteRepoWithoutSHA(t *testing.T) {
	sched, store, _ := newTestScheduler(t, 0)

	repo := seedRepo(t, store, "https://github.com/acme/widgets")
	pipeline := seedDuePipeline(t, store, repo.ID, nightlyManifest)

	sched.Tick(context.Background())

	runs := listRuns(t, store, pipeline.ID)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].CommitSHA)
	assert.Equal(t, "main", runs[0].Branch)
}

func TestTickKeepsInvalidManifestArmed(t *testing.T) {
	sched, store, _ := newTestScheduler(t, 0)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	pipeline := seedDuePipeline(t, store, repo.ID, `{"name":"broken"`)

	sched.Tick(ctx)

	assert.Empty(t, listRuns(t, store, pipeline.ID))

	// next_run_at stays in the past so the operator keeps seeing the
	// warning until a valid manifest lands.
	stored, err := store.GetPipeline(ctx, pipeline.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.Before(time.Now().UTC()))
}

func TestTickDisarmsWhenScheduleRemoved(t *testing.T) {
	sched, store, g := newTestScheduler(t, 0)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	pipeline := seedDuePipeline(t, store, repo.ID,
		`{"name":"nightly","steps":[{"name":"sync","run":"make sync"}]}`)
	g.heads[repo.Path+"/main"] = "feedc0de"

	sched.Tick(ctx)

	assert.Empty(t, listRuns(t, store, pipeline.ID))

	stored, err := store.GetPipeline(ctx, pipeline.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.NextRunAt)
}

func TestTickIgnoresFuturePipelines(t *testing.T) {
	sched, store, g := newTestScheduler(t, 0)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	g.heads[repo.Path+"/main"] = "feedc0de"

	future := time.Now().UTC().Add(time.Hour)
	pipeline := &backend.Pipeline{
		ID:        uuid.New().String(),
		RepoID:    repo.ID,
		Name:      "later",
		Config:    nightlyManifest,
		NextRunAt: &future,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreatePipeline(ctx, pipeline))

	sched.Tick(ctx)

	assert.Empty(t, listRuns(t, store, pipeline.ID))
}

func TestStartRunsStartupPass(t *testing.T) {
	sched, store, g := newTestScheduler(t, time.Minute)

	repo := seedRepo(t, store, "")
	pipeline := seedDuePipeline(t, store, repo.ID, nightlyManifest)
	g.heads[repo.Path+"/main"] = "feedc0de"

	sched.Start(context.Background())
	defer sched.Stop()

	require.Eventually(t, func() bool {
		runs, err := store.ListRuns(context.Background(), backend.RunFilter{PipelineID: pipeline.ID})
		return err == nil && len(runs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
