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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/server/backend"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(server.URL, opts...)
	require.NoError(t, err)
	return c
}

func TestNewValidatesServerURL(t *testing.T) {
	_, err := New("")
	require.Error(t, err)

	c, err := New("http://ci.example.com:8475/")
	require.NoError(t, err)
	assert.Equal(t, "http://ci.example.com:8475", c.BaseURL())
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "login must not require a token")

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin-secret", body["secret"])

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"token":"jwt-token","expiresAt":"2026-01-02T15:04:05Z"}`)
	})

	token, expires, err := c.Login(context.Background(), "admin-secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Equal(t, 2026, expires.Year())
}

func TestAuthenticatedRequestsCarryBearerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		io.WriteString(w, `{"projects":[{"id":"p-1","name":"acme"}],"total":1}`)
	}, WithToken("jwt-token"))

	projects, err := c.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "acme", projects[0].Name)
}

func TestCreateRepoOmitsEmptyFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/p-1/repos", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"name": "widgets"}, body,
			"empty remoteUrl and defaultBranch must be omitted so the server applies its defaults")

		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"r-1","project_id":"p-1","name":"widgets","default_branch":"main"}`)
	})

	repo, err := c.CreateRepo(context.Background(), "p-1", "widgets", "", "")
	require.NoError(t, err)
	assert.Equal(t, "main", repo.DefaultBranch)
}

func TestApplyPipelineSendsRawManifest(t *testing.T) {
	manifestJSON := []byte(`{"name":"build","steps":[{"name":"compile","run":"make"}]}`)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/repos/r-1/pipelines", r.URL.Path)
		sent, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, string(manifestJSON), string(sent))

		io.WriteString(w, `{"id":"pl-1","repo_id":"r-1","name":"build"}`)
	})

	pipeline, err := c.ApplyPipeline(context.Background(), "r-1", manifestJSON)
	require.NoError(t, err)
	assert.Equal(t, "build", pipeline.Name)
}

func TestListRunsBuildsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "pl-1", q.Get("pipeline"))
		assert.Equal(t, "failed", q.Get("status"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "20", q.Get("offset"))
		assert.False(t, q.Has("trigger"), "zero-value filters are omitted")

		io.WriteString(w, `{"runs":[{"id":"run-1","status":"failed"}],"total":31}`)
	})

	list, err := c.ListRuns(context.Background(), RunListOptions{
		Pipeline: "pl-1",
		Status:   "failed",
		Limit:    10,
		Offset:   20,
	})
	require.NoError(t, err)
	assert.Equal(t, 31, list.Total)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, backend.RunFailed, list.Runs[0].Status)
}

func TestGetRunDecodesDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs/run-1", r.URL.Path)
		io.WriteString(w, `{
			"run": {"id":"run-1","status":"success"},
			"steps": [
				{"id":"s-1","run_id":"run-1","seq":0,"name":"build","status":"success"},
				{"id":"s-2","run_id":"run-1","seq":1,"name":"test","status":"success"}
			]
		}`)
	})

	detail, err := c.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", detail.Run.ID)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, "test", detail.Steps[1].Name)
}

func TestRegisterRunnerReturnsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "builder-1", body["name"])
		assert.Equal(t, []any{"linux", "docker"}, body["tags"])
		assert.Equal(t, float64(4), body["maxConcurrency"])

		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"runner":{"id":"rn-1","name":"builder-1","status":"offline"},"token":"runner-token"}`)
	})

	runner, token, err := c.RegisterRunner(context.Background(), "builder-1", []string{"linux", "docker"}, 4)
	require.NoError(t, err)
	assert.Equal(t, "rn-1", runner.ID)
	assert.Equal(t, "runner-token", token)
}

func TestStepOutputReturnsPlainText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/steps/s-1/output", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "compiling\nlinking\n")
	})

	out, err := c.StepOutput(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "compiling\nlinking\n", out)
}

func TestSetBaselineWire(t *testing.T) {
	tolerance := 5.0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/pipelines/pl-1/baselines/build_seconds", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"value": float64(42), "tolerancePct": float64(5)}, body)

		io.WriteString(w, `{"id":"b-1","pipeline_id":"pl-1","key":"build_seconds","baseline_value":42,"tolerance_pct":5}`)
	})

	baseline, err := c.SetBaseline(context.Background(), "pl-1", "build_seconds", 42, &tolerance)
	require.NoError(t, err)
	assert.Equal(t, 5.0, baseline.TolerancePct)
}

func TestSecretPathsFollowScope(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		io.WriteString(w, `{"secrets":[],"total":0}`)
	})

	_, err := c.ListSecrets(context.Background(), backend.ScopeProject, "p-1")
	require.NoError(t, err)
	_, err = c.ListSecrets(context.Background(), backend.ScopeRepo, "r-1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET /api/v1/projects/p-1/secrets",
		"GET /api/v1/repos/r-1/secrets",
	}, paths)
}

func TestErrorEnvelopeBecomesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":"NOT_FOUND","type":"NOT_FOUND","message":"project not found: p-x"}}`)
	})

	_, err := c.GetProject(context.Background(), "p-x")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Contains(t, apiErr.Message, "project not found")
}

func TestNonEnvelopeErrorKeepsStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream exploded")
	})

	err := c.DeleteRunner(context.Background(), "rn-1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Empty(t, apiErr.Code)
}
