package harness

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/server/backend"
)

// CreateHostedRepo creates a server-hosted repository through the API,
// which initializes a real bare repository under ReposRoot.
func (h *Harness) CreateHostedRepo(projectID, name string) *backend.Repo {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	repo, err := h.Client.CreateRepo(ctx, projectID, name, "", "")
	require.NoError(h.t, err)
	return repo
}

// InitWorkTree prepares a local repository whose origin is the hosted bare
// repo, the way an operator with shell access to the server would work.
// The branch is pinned to main regardless of the host's init.defaultBranch.
func (h *Harness) InitWorkTree(repo *backend.Repo) string {
	h.t.Helper()

	dir := h.t.TempDir()
	h.git(dir, "init")
	h.git(dir, "symbolic-ref", "HEAD", "refs/heads/main")
	h.git(dir, "config", "user.name", "EIFL E2E")
	h.git(dir, "config", "user.email", "e2e@eifl.test")
	h.git(dir, "remote", "add", "origin", filepath.Join(h.ReposRoot, repo.Path))
	return dir
}

// Commit writes the given files into the work tree and commits them,
// returning the new tip SHA.
func (h *Harness) Commit(dir string, files map[string]string, message string) string {
	h.t.Helper()

	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(h.t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(h.t, os.WriteFile(full, []byte(content), 0o644))
	}
	h.git(dir, "add", "-A")
	h.git(dir, "commit", "-m", message)
	return strings.TrimSpace(h.git(dir, "rev-parse", "HEAD"))
}

// Push publishes the branch to origin. The bare repo's post-receive hook
// is a no-op under test; pair with NotifyPush to deliver the ref update.
func (h *Harness) Push(dir, branch string) {
	h.t.Helper()
	h.git(dir, "push", "origin", branch)
}

// git runs one git command in dir, failing the test on any error.
func (h *Harness) git(dir string, args ...string) string {
	h.t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		h.t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String()
}
