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

// Package github posts commit statuses back to GitHub for runs whose repo
// has a github.com remote. Reporting is best-effort: a failed POST is
// logged and counted but never fails or delays a run transition.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/metrics"
	"github.com/eifl-dev/eifl/pkg/httpclient"
)

// statusContext is the "context" field GitHub groups statuses under.
const statusContext = "eifl"

// Config contains configuration for the status notifier.
type Config struct {
	// Token is the GitHub personal access token used to post statuses.
	Token string

	// PublicURL, when set, becomes the target_url on posted statuses so
	// the GitHub UI links back to the run.
	PublicURL string

	// APIBaseURL overrides the GitHub API endpoint (tests).
	APIBaseURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// Notifier posts commit statuses for run transitions. It satisfies the
// StatusNotifier interfaces in trigger and lifecycle.
type Notifier struct {
	store     backend.Store
	baseURL   string
	publicURL string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a status notifier. Returns nil when no token is configured
// so callers can pass the result straight to trigger/lifecycle, which
// treat a nil notifier as "reporting disabled".
func New(store backend.Store, cfg Config, logger *slog.Logger) *Notifier {
	if cfg.Token == "" {
		return nil
	}

	baseURL := "https://api.github.com"
	if cfg.APIBaseURL != "" {
		baseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	}

	base := cfg.HTTPClient
	if base == nil {
		httpCfg := httpclient.DefaultConfig()
		httpCfg.Timeout = 10 * time.Second
		httpCfg.UserAgent = "eifl-status/1.0"

		c, err := httpclient.New(httpCfg)
		if err != nil {
			// Fallback to basic client
			base = &http.Client{Timeout: 10 * time.Second}
		} else {
			base = c
		}
	}

	// The oauth2 static-token transport stamps Authorization on every
	// request; the retrying client underneath stays the transport base.
	clientCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	client.Timeout = base.Timeout

	return &Notifier{
		store:     store,
		baseURL:   baseURL,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
		client:    client,
		// GitHub allows considerably more, but statuses are fire-and-forget
		// so a conservative ceiling keeps a burst of run churn polite.
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		logger:  log.WithComponent(logger, "github-status"),
	}
}

// statusRequest is the POST /repos/{owner}/{repo}/statuses/{sha} body.
type statusRequest struct {
	State       string `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context"`
}

// NotifyRunStatus posts a commit status for the run's current state.
// No-ops when the run has no commit SHA or the repo's remote is not a
// github.com URL.
func (n *Notifier) NotifyRunStatus(ctx context.Context, run *backend.Run) {
	if run == nil || run.CommitSHA == "" {
		return
	}

	pipeline, err := n.store.GetPipeline(ctx, run.PipelineID)
	if err != nil {
		n.logger.Warn("status post skipped, pipeline lookup failed",
			"run_id", run.ID, "error", err)
		return
	}
	repo, err := n.store.GetRepo(ctx, pipeline.RepoID)
	if err != nil {
		n.logger.Warn("status post skipped, repo lookup failed",
			"run_id", run.ID, "error", err)
		return
	}

	owner, name, ok := ParseOwnerRepo(repo.RemoteURL)
	if !ok {
		return
	}

	state, description := statusFor(run.Status)
	if state == "" {
		// Cancelled runs get no GitHub state; "error" would read as a
		// pipeline fault rather than an operator action.
		return
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return
	}

	if err := n.post(ctx, owner, name, run, state, description); err != nil {
		metrics.RecordGithubStatusPost("error")
		n.logger.Warn("failed to post commit status",
			"run_id", run.ID,
			"repo", owner+"/"+name,
			"sha", run.CommitSHA,
			"error", err,
		)
		return
	}

	metrics.RecordGithubStatusPost("ok")
	n.logger.Debug("posted commit status",
		"run_id", run.ID,
		"repo", owner+"/"+name,
		"sha", run.CommitSHA,
		"state", state,
	)
}

func (n *Notifier) post(ctx context.Context, owner, name string, run *backend.Run, state, description string) error {
	body := statusRequest{
		State:       state,
		Description: description,
		Context:     statusContext,
	}
	if n.publicURL != "" {
		body.TargetURL = fmt.Sprintf("%s/runs/%s", n.publicURL, run.ID)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/statuses/%s",
		n.baseURL, owner, name, url.PathEscape(run.CommitSHA))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("repo or commit not found: %s/%s@%s", owner, name, run.CommitSHA)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("access denied posting status to %s/%s (check token permissions)", owner, name)
		case http.StatusTooManyRequests:
			return fmt.Errorf("GitHub API rate limit exceeded")
		default:
			return fmt.Errorf("GitHub API error (status %d): %s", resp.StatusCode, string(msg))
		}
	}
	return nil
}

// statusFor maps a run status to the GitHub commit state and a short
// human description. Cancelled maps to "" (not reported).
func statusFor(status backend.RunStatus) (state, description string) {
	switch status {
	case backend.RunPending, backend.RunRunning:
		return "pending", "EIFL run in progress"
	case backend.RunSuccess:
		return "success", "EIFL run passed"
	case backend.RunFailed:
		return "failure", "EIFL run failed"
	default:
		return "", ""
	}
}

// ParseOwnerRepo extracts the owner and repository name from a
// https://github.com/ remote URL. Returns ok=false for any other host
// or shape.
func ParseOwnerRepo(remoteURL string) (owner, name string, ok bool) {
	const prefix = "https://github.com/"
	if !strings.HasPrefix(remoteURL, prefix) {
		return "", "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(remoteURL, prefix), "/")
	rest = strings.TrimSuffix(rest, ".git")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
