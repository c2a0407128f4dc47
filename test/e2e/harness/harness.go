// Package harness assembles a complete in-process EIFL deployment for
// end-to-end tests: a real sqlite store, real bare repositories served over
// the git smart HTTP transport, and the full API router behind an httptest
// server. Tests drive it through the same client the CLI uses and through
// real runner agents executing real shell steps.
//
// Every harness needs the git binary; New skips the test when it is missing.
package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/agent"
	"github.com/eifl-dev/eifl/internal/client"
	"github.com/eifl-dev/eifl/internal/config"
	"github.com/eifl-dev/eifl/internal/git"
	"github.com/eifl-dev/eifl/internal/secrets"
	"github.com/eifl-dev/eifl/internal/server/api"
	"github.com/eifl-dev/eifl/internal/server/auth"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/backend/sqlite"
	"github.com/eifl-dev/eifl/internal/server/dispatch"
	"github.com/eifl-dev/eifl/internal/server/lifecycle"
	"github.com/eifl-dev/eifl/internal/server/trigger"
	"github.com/eifl-dev/eifl/internal/server/webhook"
)

const (
	// JWTSecret signs admin tokens; tests log in with it where they need a
	// fresh credential instead of the pre-authenticated client.
	JWTSecret = "e2e-signing-secret"

	encryptionPassphrase = "e2e-passphrase-0123456789abcdefghij"

	// pollDelay paces the wait loops. Runner agents poll at the same rate.
	pollDelay = 100 * time.Millisecond
)

// Harness is one in-process EIFL server plus the state tests need to talk
// to it from every side: admin API, git transports, hook ingress, runners.
type Harness struct {
	t *testing.T

	// Server is the HTTP front of the whole deployment.
	Server *httptest.Server

	// Client is an admin-authenticated API client against Server.
	Client *client.Client

	// Store is the backing database, for the rare assertion that has no
	// API surface.
	Store *sqlite.Store

	// ReposRoot is the directory holding hosted bare repositories. Tests
	// push to them over the filesystem transport.
	ReposRoot string

	// HookToken authenticates post-receive deliveries.
	HookToken string

	timeout       time.Duration
	webhookSecret string
}

// New builds the deployment and registers cleanup on t. Options adjust the
// parts a test cares about; the defaults give a server with secrets
// encryption enabled and no webhook ingress.
func New(t *testing.T, opts ...Option) *Harness {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	h := &Harness{t: t, timeout: 60 * time.Second}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			t.Fatalf("apply harness option: %v", err)
		}
	}

	dir := t.TempDir()
	store, err := sqlite.New(sqlite.Config{Path: filepath.Join(dir, "eifl.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cipher, err := secrets.NewCipher(encryptionPassphrase)
	require.NoError(t, err)
	secretSvc := secrets.NewService(store, cipher, logger)

	jwt := auth.NewJWT(JWTSecret, time.Hour)
	hookToken := auth.DeriveHookToken(JWTSecret)

	// The generated post-receive hook execs an eifld binary, which e2e
	// tests do not build. A stand-in that swallows the ref records keeps
	// pushes quiet; tests deliver the payload through NotifyPush instead.
	noop := filepath.Join(dir, "eifld-noop")
	require.NoError(t, os.WriteFile(noop, []byte("#!/bin/sh\ncat >/dev/null\n"), 0o755))

	reposRoot := filepath.Join(dir, "repos")
	adapter := git.New(reposRoot, git.HookConfig{
		ExecutablePath: noop,
		ServerURL:      "http://127.0.0.1:0",
		HookToken:      hookToken,
	})

	trig := trigger.NewService(store, adapter, nil, logger)

	srv := &api.Server{
		Store:      store,
		Trigger:    trig,
		Lifecycle:  lifecycle.NewEngine(store, nil, logger),
		Dispatcher: dispatch.New(store, secretSvc, "", logger),
		Secrets:    secretSvc,
		Git:        adapter,
		Webhook:    webhook.New(store, trig, h.webhookSecret, logger),
		JWT:        jwt,
		Runners:    auth.NewRunners(store),
		HookToken:  hookToken,
		Version:    "e2e",
		Logger:     logger,
	}

	ts := httptest.NewServer(api.NewRouter(srv))
	t.Cleanup(ts.Close)

	adminToken, _, err := jwt.Mint(time.Now().UTC())
	require.NoError(t, err)

	c, err := client.New(ts.URL, client.WithToken(adminToken))
	require.NoError(t, err)

	h.Server = ts
	h.Client = c
	h.Store = store
	h.ReposRoot = reposRoot
	h.HookToken = hookToken
	return h
}

// StartRunner registers a runner and starts a real agent polling the
// server. The agent executes jobs exactly as in production: clone over the
// git HTTP transport, steps through `sh -c`, callbacks over HTTP. It is
// cancelled and drained via t.Cleanup.
func (h *Harness) StartRunner(name string, tags []string) *backend.Runner {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runner, token, err := h.Client.RegisterRunner(ctx, name, tags, 1)
	require.NoError(h.t, err)

	cfg := &config.AgentConfig{
		ServerURL:         h.Server.URL,
		Token:             token,
		WorkDir:           h.t.TempDir(),
		PollInterval:      pollDelay,
		HeartbeatInterval: time.Second,
	}
	a, err := agent.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(h.t, err)

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(runCtx) }()

	h.t.Cleanup(func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				h.t.Errorf("runner agent %s exited with error: %v", name, err)
			}
		case <-time.After(30 * time.Second):
			h.t.Errorf("runner agent %s did not drain in time", name)
		}
	})
	return runner
}

// WaitForRun polls until the run reaches a terminal status or the harness
// timeout expires.
func (h *Harness) WaitForRun(runID string) *client.RunDetail {
	h.t.Helper()

	deadline := time.Now().Add(h.timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		detail, err := h.Client.GetRun(ctx, runID)
		cancel()
		require.NoError(h.t, err)

		if detail.Run.Status.Terminal() {
			return detail
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("run %s still %s after %s", runID, detail.Run.Status, h.timeout)
		}
		time.Sleep(pollDelay)
	}
}

// NotifyPush delivers the post-receive payload the repo's hook would have
// sent for one ref update and returns the runs it created.
func (h *Harness) NotifyPush(repo *backend.Repo, branch, oldSHA, newSHA string) []*backend.Run {
	h.t.Helper()

	body, err := json.Marshal(map[string]any{
		"repoPath": repo.Path,
		"changes": []map[string]string{{
			"oldrev":  oldSHA,
			"newrev":  newSHA,
			"refname": "refs/heads/" + branch,
		}},
	})
	require.NoError(h.t, err)

	req, err := http.NewRequest(http.MethodPost, h.Server.URL+"/api/v1/internal/hooks/post-receive", bytes.NewReader(body))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-EIFL-Hook-Token", h.HookToken)

	resp, err := h.Server.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	require.Equal(h.t, http.StatusOK, resp.StatusCode)

	var out struct {
		Runs []*backend.Run `json:"runs"`
	}
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Runs
}
