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
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/eifl-dev/eifl/internal/git"
	internallog "github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/manifest"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/dispatch"
	"github.com/eifl-dev/eifl/internal/server/lifecycle"
	"github.com/eifl-dev/eifl/pkg/secrets"
)

// outputFlushInterval bounds how stale streamed output can get while a
// step is quiet.
const outputFlushInterval = 2 * time.Second

// jobRunner executes one job: clone, steps in order, callbacks.
type jobRunner struct {
	client *Client
	job    *dispatch.Job
	logger *slog.Logger

	workDir        string
	keepWorkspaces bool
}

// run drives the job from clone to terminal callback. Errors are handled
// by failing the run; the dispatcher has already moved it to running, so
// there is no path back to pending from here.
func (j *jobRunner) run(ctx context.Context) {
	pipelineName := ""
	if j.job.PipelineConfig != nil {
		pipelineName = j.job.PipelineConfig.Name
	}
	logger := internallog.WithRunContext(j.logger, j.job.Run.ID, pipelineName)
	start := time.Now()

	workspace := filepath.Join(j.workDir, j.job.Run.ID)
	defer func() {
		if j.keepWorkspaces {
			logger.Debug("keeping workspace", "path", workspace)
			return
		}
		if err := os.RemoveAll(workspace); err != nil {
			logger.Warn("failed to remove workspace", internallog.Error(err))
		}
	}()

	logger.Info("job started",
		"trigger", j.job.Run.TriggeredBy,
		"branch", j.job.Run.Branch,
		"commit", j.job.Run.CommitSHA,
		"steps", len(j.job.Steps))

	status, metrics := j.execute(ctx, workspace, logger)

	// Completion must go through even when ctx was cancelled mid-step;
	// otherwise the run stays running and the slot stays taken.
	callbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	check, err := j.client.Complete(callbackCtx, j.job.Run.ID, status, metrics)
	if err != nil {
		logger.Error("failed to report run completion", internallog.Error(err))
		return
	}

	logger.Info("job finished",
		"status", status,
		"metrics", len(metrics),
		internallog.Duration(internallog.DurationKey, time.Since(start).Milliseconds()))
	if check != nil && check.HasRegressions {
		for _, reg := range check.Regressions {
			logger.Warn("baseline regression",
				"metric", reg.Key,
				"baseline", reg.BaselineValue,
				"current", reg.CurrentValue,
				"deviation_pct", reg.DeviationPct,
				"tolerance_pct", reg.TolerancePct)
		}
	}
}

// execute materializes the workspace and walks the steps. It returns the
// terminal run status and the metrics collected from step output and
// size captures.
func (j *jobRunner) execute(ctx context.Context, workspace string, logger *slog.Logger) (string, []lifecycle.MetricInput) {
	cloneURL, err := j.cloneURL()
	if err != nil {
		logger.Error("failed to resolve clone URL", internallog.Error(err))
		j.failRemainingSteps(ctx, 0, "workspace setup failed: "+err.Error())
		return string(backend.RunFailed), nil
	}

	if err := os.MkdirAll(j.workDir, 0o755); err != nil {
		logger.Error("failed to create work dir", internallog.Error(err))
		j.failRemainingSteps(ctx, 0, "workspace setup failed: "+err.Error())
		return string(backend.RunFailed), nil
	}

	cloneCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	err = git.Clone(cloneCtx, cloneURL, workspace, j.job.Branch)
	cancel()
	if err != nil {
		logger.Error("clone failed", internallog.Error(err))
		j.failRemainingSteps(ctx, 0, "clone failed: "+err.Error())
		return string(backend.RunFailed), nil
	}
	if j.job.CommitSHA != "" {
		if err := git.Checkout(ctx, workspace, j.job.CommitSHA); err != nil {
			logger.Error("checkout failed", internallog.Error(err))
			j.failRemainingSteps(ctx, 0, "checkout failed: "+err.Error())
			return string(backend.RunFailed), nil
		}
	}

	condVars := map[string]string{
		"trigger": string(j.job.Run.TriggeredBy),
		"branch":  j.job.Run.Branch,
	}

	var metrics []lifecycle.MetricInput
	failed := false
	for i, step := range j.job.Steps {
		stepLogger := logger.With(internallog.StepIDKey, step.ID, "step", step.Name)

		if failed {
			// Later steps are not attempted once one fails.
			j.reportStep(ctx, step.ID, backend.StepSkipped, nil, "")
			continue
		}

		cfg := j.manifestStep(i)
		if cfg.If != "" && !evalCondition(cfg.If, condVars) {
			stepLogger.Info("step skipped", "condition", cfg.If)
			j.reportStep(ctx, step.ID, backend.StepSkipped, nil, "")
			continue
		}

		stepMetrics, ok := j.runStep(ctx, workspace, step, cfg, stepLogger)
		metrics = append(metrics, stepMetrics...)
		if !ok {
			failed = true
		}
	}

	if failed {
		return string(backend.RunFailed), metrics
	}
	return string(backend.RunSuccess), metrics
}

// runStep executes one step via `sh -c`, streaming its output and
// collecting metric emissions. ok is false when the command exits
// non-zero or cannot run.
func (j *jobRunner) runStep(ctx context.Context, workspace string, step *backend.Step, cfg manifest.Step, logger *slog.Logger) ([]lifecycle.MetricInput, bool) {
	j.reportStep(ctx, step.ID, backend.StepRunning, nil, "")
	logger.Info("step started")

	masker := secrets.NewMasker(j.job.Secrets)
	out := newStreamer(func(chunk string) {
		if !masker.Empty() {
			chunk = masker.MaskString(chunk)
		}
		// Chunks outlive a cancelled job context so tail output of a
		// killed step still lands.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := j.client.StreamOutput(sendCtx, step.ID, chunk); err != nil {
			logger.Warn("failed to stream output chunk", internallog.Error(err))
		}
	})
	scanner := newMetricScanner(out)

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Command)
	cmd.Dir = workspace
	cmd.Env = j.stepEnv()
	cmd.Stdout = scanner
	cmd.Stderr = out

	// Flush buffered output periodically so quiet steps still stream.
	flushDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(outputFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-flushDone:
				return
			case <-ticker.C:
				out.Flush()
			}
		}
	}()

	runErr := cmd.Run()
	close(flushDone)
	scanner.Close()
	out.Flush()

	metrics := scanner.Metrics()

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		logger.Info("step failed", "exit_code", exitCode)
		j.reportStep(ctx, step.ID, backend.StepFailed, &exitCode, "")
		return metrics, false
	}

	if len(cfg.CaptureSizes) > 0 {
		sizes := captureSizes(workspace, cfg.CaptureSizes)
		metrics = append(metrics, sizes...)
		logger.Debug("captured file sizes", "patterns", len(cfg.CaptureSizes), "files", len(sizes))
	}

	exitCode := 0
	logger.Info("step succeeded")
	j.reportStep(ctx, step.ID, backend.StepSuccess, &exitCode, "")
	return metrics, true
}

// reportStep sends a step transition, surviving a cancelled job context.
func (j *jobRunner) reportStep(ctx context.Context, stepID string, status backend.StepStatus, exitCode *int, output string) {
	callbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := j.client.UpdateStep(callbackCtx, stepID, string(status), exitCode, output); err != nil {
		j.logger.Warn("failed to report step transition",
			internallog.StepIDKey, stepID, "status", status, internallog.Error(err))
	}
}

// failRemainingSteps marks every not-yet-terminal step failed (the first)
// or skipped (the rest) when the workspace cannot be prepared, so the run
// does not end failed with all steps still pending.
func (j *jobRunner) failRemainingSteps(ctx context.Context, from int, reason string) {
	for i := from; i < len(j.job.Steps); i++ {
		step := j.job.Steps[i]
		if i == from {
			code := -1
			j.reportStep(ctx, step.ID, backend.StepFailed, &code, reason+"\n")
			continue
		}
		j.reportStep(ctx, step.ID, backend.StepSkipped, nil, "")
	}
}

// manifestStep returns the manifest config backing the i-th step. Steps
// are materialized from the manifest in order, so index pairing holds;
// a stale manifest mismatch degrades to a zero config (no condition, no
// captures) rather than guessing.
func (j *jobRunner) manifestStep(i int) manifest.Step {
	cfg := j.job.PipelineConfig
	if cfg == nil || i >= len(cfg.Steps) {
		return manifest.Step{}
	}
	if cfg.Steps[i].Name != j.job.Steps[i].Name {
		return manifest.Step{}
	}
	return cfg.Steps[i]
}

// stepEnv merges the process environment, the job's decrypted secrets,
// and the EIFL_* job variables. Secrets are applied before job vars so a
// secret cannot mask run identity.
func (j *jobRunner) stepEnv() []string {
	env := os.Environ()
	for name, value := range j.job.Secrets {
		env = append(env, name+"="+value)
	}

	pipelineName := ""
	if j.job.PipelineConfig != nil {
		pipelineName = j.job.PipelineConfig.Name
	}
	env = append(env,
		"EIFL_RUN_ID="+j.job.Run.ID,
		"EIFL_PIPELINE="+pipelineName,
		"EIFL_TRIGGER="+string(j.job.Run.TriggeredBy),
		"EIFL_BRANCH="+j.job.Run.Branch,
		"EIFL_COMMIT_SHA="+j.job.Run.CommitSHA,
		"CI=true",
	)
	return env
}

// cloneURL resolves the job's repoUrl to something `git clone` can fetch.
// Server-hosted repos arrive as "/git/<path>" and need the server base
// URL plus the runner token as basic auth; absolute URLs pass through
// untouched (the dispatcher already injected a GitHub token if any).
func (j *jobRunner) cloneURL() (string, error) {
	repoURL := j.job.RepoURL
	if repoURL == "" {
		return "", fmt.Errorf("job has no repo URL")
	}

	if !strings.HasPrefix(repoURL, "/") {
		return repoURL, nil
	}

	base, err := url.Parse(j.client.BaseURL())
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + repoURL
	base.User = url.UserPassword("runner", j.client.Token())
	return base.String(), nil
}
