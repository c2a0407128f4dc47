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

// Package git adapts the git CLI for the pieces of repository access the
// server needs: bare repo hosting with a post-receive hook, blob reads at
// a ref, and HEAD resolution. Runners additionally use the clone helpers.
//
// Everything shells out to the git binary. The adapter never mutates a
// hosted repository; pushes arrive through the git transport and reach the
// server via the installed hook.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// ZeroSHA is the all-zero object name receive-pack uses for ref creation
// and deletion records.
const ZeroSHA = "0000000000000000000000000000000000000000"

// branchRefPrefix is the full ref namespace for branches.
const branchRefPrefix = "refs/heads/"

// Change is one ref update from a receive-pack, as reported on the
// post-receive hook's stdin.
type Change struct {
	OldRev  string `json:"oldrev"`
	NewRev  string `json:"newrev"`
	RefName string `json:"refname"`
}

// Branch returns the branch name when the ref is under refs/heads/.
func (c Change) Branch() (string, bool) {
	if !strings.HasPrefix(c.RefName, branchRefPrefix) {
		return "", false
	}
	return strings.TrimPrefix(c.RefName, branchRefPrefix), true
}

// IsDelete reports whether the change removes the ref.
func (c Change) IsDelete() bool {
	return c.NewRev == ZeroSHA
}

// HookConfig is baked into the generated post-receive hook so the hook can
// call back into the server.
type HookConfig struct {
	// ExecutablePath is the absolute path of the eifld binary the hook
	// execs to deliver the push notification.
	ExecutablePath string

	// ServerURL is the base URL of the hook ingress endpoint.
	ServerURL string

	// HookToken authenticates the hook delivery.
	HookToken string
}

// Adapter provides read access to the bare repositories under a single
// root directory. All repoPath arguments are relative to that root.
type Adapter struct {
	root string
	hook HookConfig
}

// New creates an adapter rooted at the repos directory.
func New(root string, hook HookConfig) *Adapter {
	return &Adapter{root: root, hook: hook}
}

// Root returns the repos directory. The HTTP facade hands it to
// git http-backend as GIT_PROJECT_ROOT.
func (a *Adapter) Root() string {
	return a.root
}

// RepoDir resolves a relative repo path against the root, rejecting paths
// that would escape it.
func (a *Adapter) RepoDir(repoPath string) (string, error) {
	if repoPath == "" {
		return "", &eiflerrors.ValidationError{Field: "path", Message: "must not be empty"}
	}
	clean := filepath.Clean(repoPath)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &eiflerrors.ValidationError{Field: "path", Message: "must stay inside the repos directory"}
	}
	return filepath.Join(a.root, clean), nil
}

// InitBare creates a bare repository, points HEAD at the default branch,
// and installs the post-receive hook.
func (a *Adapter) InitBare(ctx context.Context, repoPath, defaultBranch string) error {
	dir, err := a.RepoDir(repoPath)
	if err != nil {
		return err
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create repo directory: %w", err)
	}

	if _, stderr, err := runGit(ctx, dir, "init", "--bare"); err != nil {
		return fmt.Errorf("failed to init bare repo: %w: %s", err, strings.TrimSpace(stderr))
	}

	// symbolic-ref instead of init -b keeps old git versions working.
	if _, stderr, err := runGit(ctx, dir, "symbolic-ref", "HEAD", branchRefPrefix+defaultBranch); err != nil {
		return fmt.Errorf("failed to set default branch: %w: %s", err, strings.TrimSpace(stderr))
	}

	// Pushes go through the filesystem or SSH transport; the HTTP
	// endpoint stays fetch-only.
	if _, stderr, err := runGit(ctx, dir, "config", "http.receivepack", "false"); err != nil {
		return fmt.Errorf("failed to configure repo: %w: %s", err, strings.TrimSpace(stderr))
	}

	return a.installHook(dir, repoPath)
}

// hookScript is the generated post-receive hook. It forwards the ref
// records on stdin to `eifld hook post-receive`, which posts them to the
// hook ingress endpoint.
const hookScript = `#!/bin/sh
# Generated by eifld. Re-created on repo init; do not edit.
EIFL_SERVER_URL=%q EIFL_HOOK_TOKEN=%q EIFL_REPO_PATH=%q exec %q hook post-receive
`

func (a *Adapter) installHook(dir, repoPath string) error {
	hooksDir := filepath.Join(dir, "hooks")
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return fmt.Errorf("failed to create hooks directory: %w", err)
	}

	script := fmt.Sprintf(hookScript, a.hook.ServerURL, a.hook.HookToken, repoPath, a.hook.ExecutablePath)
	hookPath := filepath.Join(hooksDir, "post-receive")
	if err := os.WriteFile(hookPath, []byte(script), 0o755); err != nil {
		return fmt.Errorf("failed to install post-receive hook: %w", err)
	}
	return nil
}

// ReadFileAtRef returns the blob at path as of the given ref (usually a
// commit SHA). A missing path or unknown ref is a NotFoundError.
func (a *Adapter) ReadFileAtRef(ctx context.Context, repoPath, ref, path string) ([]byte, error) {
	dir, err := a.RepoDir(repoPath)
	if err != nil {
		return nil, err
	}

	stdout, stderr, err := runGit(ctx, dir, "show", ref+":"+path)
	if err != nil {
		if isNotFound(stderr) {
			return nil, &eiflerrors.NotFoundError{Resource: "file", ID: path + "@" + ref}
		}
		return nil, fmt.Errorf("failed to read %s at %s: %w: %s", path, ref, err, strings.TrimSpace(stderr))
	}
	return []byte(stdout), nil
}

// ResolveHead returns the commit SHA a branch points at, or a
// NotFoundError when the branch does not exist (e.g. an empty repo).
func (a *Adapter) ResolveHead(ctx context.Context, repoPath, branch string) (string, error) {
	dir, err := a.RepoDir(repoPath)
	if err != nil {
		return "", err
	}

	stdout, stderr, err := runGit(ctx, dir, "rev-parse", "--verify", branchRefPrefix+branch)
	if err != nil {
		if isNotFound(stderr) {
			return "", &eiflerrors.NotFoundError{Resource: "branch", ID: branch}
		}
		return "", fmt.Errorf("failed to resolve %s: %w: %s", branch, err, strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

// isNotFound classifies git's lookup failures. rev-parse --verify says
// "fatal: Needed a single revision"; show says "does not exist" or
// "invalid object name".
func isNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "does not exist") ||
		strings.Contains(s, "invalid object name") ||
		strings.Contains(s, "unknown revision") ||
		strings.Contains(s, "needed a single revision") ||
		strings.Contains(s, "not a valid object name") ||
		strings.Contains(s, "bad revision")
}

func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
