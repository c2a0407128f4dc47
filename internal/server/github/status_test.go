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

package github

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/backend/sqlite"
)

// capturedStatus records one POST the fake GitHub API received.
type capturedStatus struct {
	path string
	auth string
	body statusRequest
}

// fakeGitHub is a minimal statuses endpoint that records what it is sent.
type fakeGitHub struct {
	mu     sync.Mutex
	posts  []capturedStatus
	server *httptest.Server
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body statusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.posts = append(f.posts, capturedStatus{
			path: r.URL.Path,
			auth: r.Header.Get("Authorization"),
			body: body,
		})
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitHub) captured() []capturedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedStatus(nil), f.posts...)
}

func newTestNotifier(t *testing.T, apiURL string) (*Notifier, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "eifl.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := New(store, Config{
		Token:      "ghp_testtoken",
		PublicURL:  "https://ci.example.com/",
		APIBaseURL: apiURL,
	}, logger)
	require.NotNil(t, n)
	return n, store
}

// seedRun creates a project, repo with the given remote, pipeline, and a
// run at the given status and SHA.
func seedRun(t *testing.T, store *sqlite.Store, remoteURL string, status backend.RunStatus, sha string) *backend.Run {
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

	pipeline := &backend.Pipeline{
		ID:        uuid.New().String(),
		RepoID:    repo.ID,
		Name:      "build-" + uuid.New().String(),
		Config:    `{"name":"build","steps":[{"name":"compile","run":"make"}]}`,
		CreatedAt: now,
	}
	require.NoError(t, store.CreatePipeline(ctx, pipeline))

	run := &backend.Run{
		ID:          uuid.New().String(),
		PipelineID:  pipeline.ID,
		Status:      status,
		CommitSHA:   sha,
		Branch:      "main",
		TriggeredBy: backend.TriggerPush,
		CreatedAt:   now,
	}
	steps := []*backend.Step{
		{ID: uuid.New().String(), RunID: run.ID, Seq: 0, Name: "compile", Command: "make", Status: backend.StepPending},
	}
	require.NoError(t, store.CreateRun(ctx, run, steps))
	return run
}

func TestNotifyRunStatusPostsToGitHub(t *testing.T) {
	gh := newFakeGitHub(t)
	notifier, store := newTestNotifier(t, gh.server.URL)

	run := seedRun(t, store, "https://github.com/acme/widgets", backend.RunSuccess, "deadbeef")
	notifier.NotifyRunStatus(context.Background(), run)

	posts := gh.captured()
	require.Len(t, posts, 1)
	assert.Equal(t, "/repos/acme/widgets/statuses/deadbeef", posts[0].path)
	assert.Equal(t, "Bearer ghp_testtoken", posts[0].auth)
	assert.Equal(t, "success", posts[0].body.State)
	assert.Equal(t, "eifl", posts[0].body.Context)
	assert.Equal(t, "https://ci.example.com/runs/"+run.ID, posts[0].body.TargetURL)
}

func TestNotifyRunStatusStates(t *testing.T) {
	tests := []struct {
		status backend.RunStatus
		state  string
		posted bool
	}{
		{backend.RunPending, "pending", true},
		{backend.RunRunning, "pending", true},
		{backend.RunSuccess, "success", true},
		{backend.RunFailed, "failure", true},
		{backend.RunCancelled, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			gh := newFakeGitHub(t)
			notifier, store := newTestNotifier(t, gh.server.URL)

			run := seedRun(t, store, "https://github.com/acme/widgets", tt.status, "cafe0001")
			notifier.NotifyRunStatus(context.Background(), run)

			posts := gh.captured()
			if !tt.posted {
				assert.Empty(t, posts)
				return
			}
			require.Len(t, posts, 1)
			assert.Equal(t, tt.state, posts[0].body.State)
		})
	}
}

func TestNotifyRunStatusSkipsNonGithubRemotes(t *testing.T) {
	gh := newFakeGitHub(t)
	notifier, store := newTestNotifier(t, gh.server.URL)

	for _, remote := range []string{"", "https://gitlab.com/acme/widgets"} {
		run := seedRun(t, store, remote, backend.RunSuccess, "deadbeef")
		notifier.NotifyRunStatus(context.Background(), run)
	}

	assert.Empty(t, gh.captured())
}

func TestNotifyRunStatusSkipsWithoutSHA(t *testing.T) {
	gh := newFakeGitHub(t)
	notifier, store := newTestNotifier(t, gh.server.URL)

	run := seedRun(t, store, "https://github.com/acme/widgets", backend.RunSuccess, "")
	notifier.NotifyRunStatus(context.Background(), run)

	assert.Empty(t, gh.captured())
	notifier.NotifyRunStatus(context.Background(), nil)
}

func TestNewWithoutTokenReturnsNil(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Nil(t, New(nil, Config{}, logger))
}

func TestParseOwnerRepo(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		name  string
		ok    bool
	}{
		{"https://github.com/acme/widgets", "acme", "widgets", true},
		{"https://github.com/acme/widgets.git", "acme", "widgets", true},
		{"https://github.com/acme/widgets/", "acme", "widgets", true},
		{"https://gitlab.com/acme/widgets", "", "", false},
		{"git@github.com:acme/widgets.git", "", "", false},
		{"https://github.com/acme", "", "", false},
		{"https://github.com/acme/widgets/extra", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		owner, name, ok := ParseOwnerRepo(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.owner, owner, tt.url)
		assert.Equal(t, tt.name, name, tt.url)
	}
}
