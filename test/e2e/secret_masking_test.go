package e2e

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/git"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/test/e2e/harness"
)

// TestSecretsInjectedAndMasked proves both halves of secret handling on a
// real runner: the decrypted value reaches the step environment, and the
// streamed output never contains it.
func TestSecretsInjectedAndMasked(t *testing.T) {
	h := harness.New(t)
	ctx := context.Background()

	project, err := h.Client.CreateProject(ctx, "vault", "")
	require.NoError(t, err)
	repo := h.CreateHostedRepo(project.ID, "deploy")

	const tokenValue = "tok-e2e-registry-credential"
	_, err = h.Client.CreateSecret(ctx, backend.ScopeProject, project.ID, "REGISTRY_TOKEN", tokenValue)
	require.NoError(t, err)

	// The length check proves injection of the exact value without ever
	// committing it to the repository.
	manifest := `{
		"name": "deploy-ci",
		"steps": [
			{"name": "login", "run": "echo \"logging in with $REGISTRY_TOKEN\""},
			{"name": "verify", "run": "echo \"token length ${#REGISTRY_TOKEN}\""}
		]
	}`

	work := h.InitWorkTree(repo)
	sha := h.Commit(work, map[string]string{".eifl.json": manifest}, "add deploy pipeline")
	h.Push(work, "main")

	runs := h.NotifyPush(repo, "main", git.ZeroSHA, sha)
	require.Len(t, runs, 1)

	h.StartRunner("deploy-runner", nil)
	detail := h.WaitForRun(runs[0].ID)
	require.Equal(t, backend.RunSuccess, detail.Run.Status)

	login := h.StepByName(t, detail, "login")
	output := h.AssertStepOutputContains(t, login.ID, "logging in with ***")
	assert.NotContains(t, output, tokenValue, "secret value must never reach stored output")

	verify := h.StepByName(t, detail, "verify")
	h.AssertStepOutputContains(t, verify.ID, fmt.Sprintf("token length %d", len(tokenValue)))
}
