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

// Package dispatch hands pending runs to polling runners. It is the one
// place with a cross-request ordering requirement: among concurrent polls,
// a pending run is issued to at most one runner.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/manifest"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/metrics"
)

// Job is the payload issued to a runner for one reserved run. Steps are in
// declared order; Secrets is the decrypted project-then-repo merge.
type Job struct {
	Run            *backend.Run      `json:"run"`
	Steps          []*backend.Step   `json:"steps"`
	RepoURL        string            `json:"repoUrl"`
	CommitSHA      string            `json:"commitSha,omitempty"`
	Branch         string            `json:"branch,omitempty"`
	PipelineConfig *manifest.Config  `json:"pipelineConfig"`
	Secrets        map[string]string `json:"secrets"`
}

// SecretSource produces the decrypted secret map for a repo.
type SecretSource interface {
	MergedForRepo(ctx context.Context, repo *backend.Repo) (map[string]string, error)
}

// Dispatcher matches pending runs to eligible runners.
type Dispatcher struct {
	store       backend.Store
	secrets     SecretSource
	githubToken string
	logger      *slog.Logger
}

// New creates a dispatcher. githubToken, when non-empty, is injected into
// github.com clone URLs so runners can fetch private repos.
func New(store backend.Store, secrets SecretSource, githubToken string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		secrets:     secrets,
		githubToken: githubToken,
		logger:      log.WithComponent(logger, "dispatch"),
	}
}

// Poll reserves the oldest pending run the runner is eligible for and
// materializes its job payload. A nil job with nil error means there is
// nothing for this runner right now.
//
// Eligibility is tag subset: the manifest's runner_tags must all be held
// by the runner; a manifest without tags matches anyone. FIFO is
// best-effort per runner, a run can skip over a runner that cannot satisfy
// its tags.
func (d *Dispatcher) Poll(ctx context.Context, runner *backend.Runner) (*Job, error) {
	now := time.Now().UTC()
	if err := d.store.TouchRunner(ctx, runner.ID, "", now); err != nil {
		return nil, err
	}

	if runner.ActiveJobs >= runner.MaxConcurrency {
		metrics.RecordDispatchPoll("at_capacity")
		return nil, nil
	}

	pending, err := d.store.ListPendingRuns(ctx)
	if err != nil {
		return nil, err
	}

	for _, run := range pending {
		pipeline, err := d.store.GetPipeline(ctx, run.PipelineID)
		if err != nil {
			d.logger.Warn("skipping run with unloadable pipeline",
				log.RunIDKey, run.ID,
				log.Error(err))
			continue
		}

		cfg, err := manifest.Parse([]byte(pipeline.Config))
		if err != nil {
			d.logger.Warn("skipping run with unparseable pipeline config",
				log.RunIDKey, run.ID,
				log.PipelineKey, pipeline.ID,
				log.Error(err))
			continue
		}
		if !hasTags(runner.Tags, cfg.RunnerTags) {
			continue
		}

		if err := d.store.ReserveRun(ctx, run.ID, runner.ID, now); err != nil {
			if errors.Is(err, backend.ErrRunTaken) {
				// Another poll won this one between our read and the
				// conditional update. Keep walking the queue.
				metrics.RecordDispatchRace()
				continue
			}
			return nil, err
		}

		job, err := d.buildJob(ctx, run.ID, pipeline, cfg)
		if err != nil {
			return nil, err
		}

		metrics.RecordDispatchPoll("job")
		d.logger.Info("run dispatched",
			log.RunIDKey, run.ID,
			log.PipelineKey, pipeline.Name,
			log.RunnerKey, runner.Name)
		return job, nil
	}

	metrics.RecordDispatchPoll("no_job")
	return nil, nil
}

// buildJob assembles the payload for a freshly reserved run. Secrets are
// best-effort: a failure to load them is logged and the job ships with an
// empty map rather than stalling the reserved run.
func (d *Dispatcher) buildJob(ctx context.Context, runID string, pipeline *backend.Pipeline, cfg *manifest.Config) (*Job, error) {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := d.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	repo, err := d.store.GetRepo(ctx, pipeline.RepoID)
	if err != nil {
		return nil, err
	}

	secretEnv, err := d.secrets.MergedForRepo(ctx, repo)
	if err != nil {
		d.logger.Warn("failed to load secrets, dispatching without them",
			log.RunIDKey, runID,
			log.RepoKey, repo.ID,
			log.Error(err))
		secretEnv = map[string]string{}
	}

	return &Job{
		Run:            run,
		Steps:          steps,
		RepoURL:        d.repoURL(repo),
		CommitSHA:      run.CommitSHA,
		Branch:         run.Branch,
		PipelineConfig: cfg,
		Secrets:        secretEnv,
	}, nil
}

// repoURL resolves where the runner clones from: the configured remote, or
// the server's own /git/<path> transport for hosted repos. A GitHub remote
// gets the token injected as oauth2 basic-auth user-info.
func (d *Dispatcher) repoURL(repo *backend.Repo) string {
	if repo.RemoteURL == "" {
		return "/git/" + repo.Path
	}
	const githubPrefix = "https://github.com/"
	if d.githubToken != "" && strings.HasPrefix(repo.RemoteURL, githubPrefix) {
		return "https://oauth2:" + d.githubToken + "@" + strings.TrimPrefix(repo.RemoteURL, "https://")
	}
	return repo.RemoteURL
}

// hasTags reports whether the runner holds every required tag.
func hasTags(runnerTags, required []string) bool {
	if len(required) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(runnerTags))
	for _, tag := range runnerTags {
		held[tag] = struct{}{}
	}
	for _, tag := range required {
		if _, ok := held[tag]; !ok {
			return false
		}
	}
	return true
}
