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

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/server/lifecycle"
)

func TestNewClientValidatesInputs(t *testing.T) {
	_, err := NewClient("", "tok")
	require.Error(t, err)

	_, err = NewClient("http://127.0.0.1:8475", "")
	require.Error(t, err)

	c, err := NewClient("http://127.0.0.1:8475/", "tok")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8475", c.BaseURL(), "trailing slash is trimmed")
	assert.Equal(t, "tok", c.Token())
}

func TestClientPoll(t *testing.T) {
	var mu sync.Mutex
	var gotAuth, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job":{
			"run":{"id":"run-1","status":"running","triggered_by":"push"},
			"steps":[{"id":"step-1","name":"build","command":"make"}],
			"repoUrl":"/git/acme/widgets.git",
			"branch":"main",
			"pipelineConfig":{"name":"ci","steps":[{"name":"build","run":"make"}]},
			"secrets":{"API_KEY":"s3cret"}
		}}`))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "runner-token")
	require.NoError(t, err)

	job, err := c.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "run-1", job.Run.ID)
	require.Len(t, job.Steps, 1)
	assert.Equal(t, "step-1", job.Steps[0].ID)
	assert.Equal(t, "/git/acme/widgets.git", job.RepoURL)
	assert.Equal(t, "ci", job.PipelineConfig.Name)
	assert.Equal(t, "s3cret", job.Secrets["API_KEY"])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer runner-token", gotAuth)
	assert.Equal(t, "/api/v1/runner/poll", gotPath)
}

func TestClientPollNothingEligible(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job":null}`))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "runner-token")
	require.NoError(t, err)

	job, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClientUpdateStepWire(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "runner-token")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.UpdateStep(ctx, "step-1", "running", nil, ""))
	code := 2
	require.NoError(t, c.UpdateStep(ctx, "step-2", "failed", &code, "boom\n"))
	require.NoError(t, c.StreamOutput(ctx, "step-1", "chunk one"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 3)
	// Zero exit code and output are omitted on transitions.
	assert.Equal(t, map[string]any{"stepId": "step-1", "status": "running"}, bodies[0])
	assert.Equal(t, map[string]any{
		"stepId":   "step-2",
		"status":   "failed",
		"exitCode": float64(2),
		"output":   "boom\n",
	}, bodies[1])
	assert.Equal(t, map[string]any{"stepId": "step-1", "output": "chunk one"}, bodies[2])
}

func TestClientCompleteReturnsBaselineCheck(t *testing.T) {
	var mu sync.Mutex
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"baselineCheck":{
			"checked":2,
			"regressions":[{"key":"build_seconds","baselineValue":10,"currentValue":14,"deviationPct":40,"tolerancePct":10}],
			"hasRegressions":true
		}}`))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "runner-token")
	require.NoError(t, err)

	check, err := c.Complete(context.Background(), "run-1", "success", []lifecycle.MetricInput{
		{Key: "build_seconds", Value: 14, Unit: "seconds"},
	})
	require.NoError(t, err)
	require.NotNil(t, check)
	assert.Equal(t, 2, check.Checked)
	assert.True(t, check.HasRegressions)
	require.Len(t, check.Regressions, 1)
	assert.Equal(t, "build_seconds", check.Regressions[0].Key)
	assert.Equal(t, 40.0, check.Regressions[0].DeviationPct)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "run-1", body["runId"])
	assert.Equal(t, "success", body["status"])
	metrics, ok := body["metrics"].([]any)
	require.True(t, ok)
	require.Len(t, metrics, 1)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"RUN_NOT_RUNNING","message":"run is not running"}}`))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "runner-token")
	require.NoError(t, err)

	err = c.Heartbeat(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUN_NOT_RUNNING")
	assert.Contains(t, err.Error(), "run is not running")
}

func TestClientSurfacesNonEnvelopeErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "runner-token")
	require.NoError(t, err)

	err = c.Heartbeat(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
