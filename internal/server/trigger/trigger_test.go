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

package trigger

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

	"github.com/eifl-dev/eifl/internal/git"
	"github.com/eifl-dev/eifl/internal/manifest"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/backend/sqlite"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// fakeGit serves manifests and branch tips from in-memory maps, keyed by
// repoPath+"@"+ref and repoPath+"/"+branch respectively.
type fakeGit struct {
	manifests map[string][]byte
	heads     map[string]string
}

func newFakeGit() *fakeGit {
	return &fakeGit{manifests: map[string][]byte{}, heads: map[string]string{}}
}

func (f *fakeGit) ReadFileAtRef(_ context.Context, repoPath, ref, path string) ([]byte, error) {
	data, ok := f.manifests[repoPath+"@"+ref]
	if !ok || path != manifest.FileName {
		return nil, &eiflerrors.NotFoundError{Resource: "file", ID: path + "@" + ref}
	}
	return data, nil
}

func (f *fakeGit) ResolveHead(_ context.Context, repoPath, branch string) (string, error) {
	sha, ok := f.heads[repoPath+"/"+branch]
	if !ok {
		return "", &eiflerrors.NotFoundError{Resource: "branch", ID: branch}
	}
	return sha, nil
}

func newTestService(t *testing.T) (*Service, *sqlite.Store, *fakeGit) {
	t.Helper()

	store, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "eifl.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	g := newFakeGit()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, g, nil, logger), store, g
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

func seedPipeline(t *testing.T, store *sqlite.Store, repoID, config string) *backend.Pipeline {
	t.Helper()

	cfg, err := manifest.Parse([]byte(config))
	require.NoError(t, err)

	pipeline := &backend.Pipeline{
		ID:        uuid.New().String(),
		RepoID:    repoID,
		Name:      cfg.Name,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreatePipeline(context.Background(), pipeline))
	return pipeline
}

const buildManifest = `{
	"name": "build",
	"steps": [
		{"name": "compile", "run": "make build"},
		{"name": "test", "run": "make test"}
	]
}`

func TestTriggerManualSnapshotsSteps(t *testing.T) {
	svc, store, g := newTestService(t)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	pipeline := seedPipeline(t, store, repo.ID, buildManifest)
	g.heads[repo.Path+"/main"] = "feedc0de"

	run, err := svc.TriggerManual(ctx, pipeline.ID)
	require.NoError(t, err)

	assert.Equal(t, backend.RunPending, run.Status)
	assert.Equal(t, backend.TriggerManual, run.TriggeredBy)
	assert.Equal(t, "feedc0de", run.CommitSHA)
	assert.Equal(t, "main", run.Branch)

	steps, err := store.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "compile", steps[0].Name)
	assert.Equal(t, "make build", steps[0].Command)
	assert.Equal(t, "test", steps[1].Name)
	assert.Equal(t, backend.StepPending, steps[1].Status)
}

func TestTriggerManualDisallowed(t *testing.T) {
	svc, store, _ := newTestService(t)

	repo := seedRepo(t, store, "")
	pipeline := seedPipeline(t, store, repo.ID,
		`{"name":"nightly","triggers":{"schedule":[{"cron":"0 2 * * *"}]},"steps":[{"name":"sync","run":"make sync"}]}`)

	_, err := svc.TriggerManual(context.Background(), pipeline.ID)
	var precondition *eiflerrors.PreconditionFailedError
	require.ErrorAs(t, err, &precondition)
}

func TestTriggerManualUnresolvableHead(t *testing.T) {
	svc, store, _ := newTestService(t)

	repo := seedRepo(t, store, "")
	pipeline := seedPipeline(t, store, repo.ID, buildManifest)

	run, err := svc.TriggerManual(context.Background(), pipeline.ID)
	require.NoError(t, err)
	assert.Empty(t, run.CommitSHA)
	assert.Equal(t, "main", run.Branch)
}

func TestTriggerManualRemoteRepo(t *testing.T) {
	svc, store, _ := newTestService(t)

	repo := seedRepo(t, store, "https://github.com/acme/widgets")
	pipeline := seedPipeline(t, store, repo.ID, buildManifest)

	// No HEAD is resolvable through the local adapter; a remote repo must
	// not consult it at all.
	run, err := svc.TriggerManual(context.Background(), pipeline.ID)
	require.NoError(t, err)
	assert.Empty(t, run.CommitSHA)
	assert.Equal(t, "main", run.Branch)
}

func TestTriggerManualUnknownPipeline(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.TriggerManual(context.Background(), uuid.New().String())
	var notFound *eiflerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestHandlePushCreatesPipelineAndRun(t *testing.T) {
	svc, store, g := newTestService(t)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	g.manifests[repo.Path+"@abc123"] = []byte(buildManifest)

	runs, err := svc.HandlePush(ctx, repo.Path, []git.Change{
		{OldRev: git.ZeroSHA, NewRev: "abc123", RefName: "refs/heads/main"},
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.Equal(t, backend.TriggerPush, runs[0].TriggeredBy)
	assert.Equal(t, "abc123", runs[0].CommitSHA)
	assert.Equal(t, "main", runs[0].Branch)

	pipeline, err := store.GetPipeline(ctx, runs[0].PipelineID)
	require.NoError(t, err)
	assert.Equal(t, "build", pipeline.Name)
	assert.Equal(t, repo.ID, pipeline.RepoID)
	assert.JSONEq(t, buildManifest, pipeline.Config)

	steps, err := store.ListSteps(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestHandlePushBranchFilter(t *testing.T) {
	svc, store, g := newTestService(t)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	config := `{
		"name": "release",
		"triggers": {"push": {"branches": ["main", "release-*"]}},
		"steps": [{"name": "ship", "run": "make ship"}]
	}`
	g.manifests[repo.Path+"@sha1"] = []byte(config)
	g.manifests[repo.Path+"@sha2"] = []byte(config)

	runs, err := svc.HandlePush(ctx, repo.Path, []git.Change{
		{OldRev: git.ZeroSHA, NewRev: "sha1", RefName: "refs/heads/feature/login"},
		{OldRev: git.ZeroSHA, NewRev: "sha2", RefName: "refs/heads/release-1.2"},
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "release-1.2", runs[0].Branch)
	assert.Equal(t, "sha2", runs[0].CommitSHA)
}

func TestHandlePushSkipsDeletesAndNonBranchRefs(t *testing.T) {
	svc, store, g := newTestService(t)

	repo := seedRepo(t, store, "")
	g.manifests[repo.Path+"@sha1"] = []byte(buildManifest)

	runs, err := svc.HandlePush(context.Background(), repo.Path, []git.Change{
		{OldRev: "sha0", NewRev: git.ZeroSHA, RefName: "refs/heads/main"},
		{OldRev: git.ZeroSHA, NewRev: "sha1", RefName: "refs/tags/v1.0.0"},
	})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestHandlePushMissingManifest(t *testing.T) {
	svc, store, _ := newTestService(t)

	repo := seedRepo(t, store, "")

	runs, err := svc.HandlePush(context.Background(), repo.Path, []git.Change{
		{OldRev: git.ZeroSHA, NewRev: "abc123", RefName: "refs/heads/main"},
	})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestHandlePushInvalidManifestContinuesBatch(t *testing.T) {
	svc, store, g := newTestService(t)

	repo := seedRepo(t, store, "")
	g.manifests[repo.Path+"@bad"] = []byte(`{"name":"broken"`)
	g.manifests[repo.Path+"@good"] = []byte(buildManifest)

	runs, err := svc.HandlePush(context.Background(), repo.Path, []git.Change{
		{OldRev: git.ZeroSHA, NewRev: "bad", RefName: "refs/heads/main"},
		{OldRev: git.ZeroSHA, NewRev: "good", RefName: "refs/heads/fix"},
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "good", runs[0].CommitSHA)
}

func TestHandlePushKeepsPipelineIdentity(t *testing.T) {
	svc, store, g := newTestService(t)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	g.manifests[repo.Path+"@v1"] = []byte(buildManifest)
	g.manifests[repo.Path+"@v2"] = []byte(`{"name":"build","steps":[{"name":"only","run":"make all"}]}`)

	first, err := svc.HandlePush(ctx, repo.Path, []git.Change{
		{OldRev: git.ZeroSHA, NewRev: "v1", RefName: "refs/heads/main"},
	})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.HandlePush(ctx, repo.Path, []git.Change{
		{OldRev: "v1", NewRev: "v2", RefName: "refs/heads/main"},
	})
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].PipelineID, second[0].PipelineID)

	pipeline, err := store.GetPipeline(ctx, second[0].PipelineID)
	require.NoError(t, err)
	assert.Contains(t, pipeline.Config, "make all")

	// The first run keeps its two-step snapshot even though the manifest
	// shrank to one step.
	steps, err := store.ListSteps(ctx, first[0].ID)
	require.NoError(t, err)
	assert.Len(t, steps, 2)

	steps, err = store.ListSteps(ctx, second[0].ID)
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestHandlePushArmsSchedule(t *testing.T) {
	svc, store, g := newTestService(t)
	ctx := context.Background()

	repo := seedRepo(t, store, "")
	g.manifests[repo.Path+"@sha1"] = []byte(`{
		"name": "nightly",
		"triggers": {"push": {}, "schedule": [{"cron": "0 2 * * *"}]},
		"steps": [{"name": "sync", "run": "make sync"}]
	}`)

	runs, err := svc.HandlePush(ctx, repo.Path, []git.Change{
		{OldRev: git.ZeroSHA, NewRev: "sha1", RefName: "refs/heads/main"},
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	pipeline, err := store.GetPipeline(ctx, runs[0].PipelineID)
	require.NoError(t, err)
	require.NotNil(t, pipeline.NextRunAt)
	assert.True(t, pipeline.NextRunAt.After(time.Now().Add(-time.Minute)))
}

func TestHandlePushUnknownRepo(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.HandlePush(context.Background(), "nope/missing.git", []git.Change{
		{OldRev: git.ZeroSHA, NewRev: "abc", RefName: "refs/heads/main"},
	})
	var notFound *eiflerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestHandleRemotePush(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	repo := seedRepo(t, store, "https://github.com/acme/widgets")
	matching := seedPipeline(t, store, repo.ID,
		`{"name":"ci","triggers":{"push":{"branches":["main"]}},"steps":[{"name":"test","run":"make test"}]}`)
	seedPipeline(t, store, repo.ID,
		`{"name":"release","triggers":{"push":{"branches":["release-*"]}},"steps":[{"name":"ship","run":"make ship"}]}`)

	// A row whose config has rotted must not poison the others.
	require.NoError(t, store.CreatePipeline(ctx, &backend.Pipeline{
		ID:        uuid.New().String(),
		RepoID:    repo.ID,
		Name:      "rotten",
		Config:    `{"name":`,
		CreatedAt: time.Now().UTC(),
	}))

	runs, err := svc.HandleRemotePush(ctx, repo, "main", "cafe1234", backend.TriggerGithubPush)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, matching.ID, runs[0].PipelineID)
	assert.Equal(t, backend.TriggerGithubPush, runs[0].TriggeredBy)
	assert.Equal(t, "cafe1234", runs[0].CommitSHA)
	assert.Equal(t, "main", runs[0].Branch)
}

func TestNextRunAt(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	after := time.Date(2025, 3, 1, 10, 0, 30, 0, time.UTC)

	parse := func(t *testing.T, config string) *manifest.Config {
		t.Helper()
		cfg, err := manifest.Parse([]byte(config))
		require.NoError(t, err)
		return cfg
	}

	t.Run("no schedule", func(t *testing.T) {
		cfg := parse(t, buildManifest)
		assert.Nil(t, NextRunAt(cfg, after, logger))
	})

	t.Run("earliest entry wins", func(t *testing.T) {
		cfg := parse(t, `{
			"name": "nightly",
			"triggers": {"schedule": [{"cron": "0 12 * * *"}, {"cron": "*/5 * * * *"}]},
			"steps": [{"name": "sync", "run": "make sync"}]
		}`)
		next := NextRunAt(cfg, after, logger)
		require.NotNil(t, next)
		assert.Equal(t, time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC), *next)
	})

	t.Run("invalid entries skipped", func(t *testing.T) {
		cfg := parse(t, `{
			"name": "nightly",
			"triggers": {"schedule": [{"cron": "not a cron"}, {"cron": "0 12 * * *"}]},
			"steps": [{"name": "sync", "run": "make sync"}]
		}`)
		next := NextRunAt(cfg, after, logger)
		require.NotNil(t, next)
		assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), *next)
	})

	t.Run("all entries invalid", func(t *testing.T) {
		cfg := parse(t, `{
			"name": "nightly",
			"triggers": {"schedule": [{"cron": "@bogus"}]},
			"steps": [{"name": "sync", "run": "make sync"}]
		}`)
		assert.Nil(t, NextRunAt(cfg, after, logger))
	})
}
