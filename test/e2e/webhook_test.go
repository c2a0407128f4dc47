package e2e

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/test/e2e/harness"
)

// TestGitHubWebhookCreatesRun drives a signed push delivery for an
// external repo through the full stack. The pushed tree lives on GitHub,
// so the run is materialized from the stored pipeline config and left
// pending for a runner fleet this test never starts.
func TestGitHubWebhookCreatesRun(t *testing.T) {
	const webhookSecret = "hush-e2e"
	h := harness.New(t, harness.WithWebhookSecret(webhookSecret))
	ctx := context.Background()

	project, err := h.Client.CreateProject(ctx, "external", "")
	require.NoError(t, err)
	repo, err := h.Client.CreateRepo(ctx, project.ID, "widgets", "https://github.com/acme/widgets.git", "")
	require.NoError(t, err)

	_, err = h.Client.ApplyPipeline(ctx, repo.ID, []byte(`{
		"name": "widgets-ci",
		"triggers": {"push": {"branches": ["main"]}},
		"steps": [{"name": "build", "run": "make build"}]
	}`))
	require.NoError(t, err)

	const pushedSHA = "3f2a9c1d8e7b654321fedcba0987654321abcdef"
	payload, err := json.Marshal(map[string]any{
		"ref":   "refs/heads/main",
		"after": pushedSHA,
		"repository": map[string]string{
			"full_name": "acme/widgets",
			"clone_url": "https://github.com/acme/widgets.git",
		},
	})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(payload)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, h.Server.URL+"/api/v1/webhooks/github", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", signature)

	resp, err := h.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Runs  []*backend.Run `json:"runs"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 1, out.Total)
	run := out.Runs[0]
	assert.Equal(t, backend.RunPending, run.Status)
	assert.Equal(t, backend.TriggerGithubPush, run.TriggeredBy)
	assert.Equal(t, pushedSHA, run.CommitSHA)
	assert.Equal(t, "main", run.Branch)

	// The run is visible through the admin surface like any other.
	detail, err := h.Client.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Steps, 1)
	assert.Equal(t, "build", detail.Steps[0].Name)
	assert.Equal(t, backend.StepPending, detail.Steps[0].Status)
}
