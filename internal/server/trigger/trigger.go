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

// Package trigger materializes runs. Every path that creates a run (push
// hook, GitHub webhook, manual API, scheduler) funnels through the same
// service so steps are snapshotted and counted identically.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eifl-dev/eifl/internal/cronexpr"
	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/manifest"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/metrics"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// Git is the slice of the git adapter the trigger layer reads through.
type Git interface {
	ReadFileAtRef(ctx context.Context, repoPath, ref, path string) ([]byte, error)
	ResolveHead(ctx context.Context, repoPath, branch string) (string, error)
}

// StatusNotifier mirrors lifecycle.StatusNotifier for freshly created runs.
type StatusNotifier interface {
	NotifyRunStatus(ctx context.Context, run *backend.Run)
}

// Service creates pending runs from manifests.
type Service struct {
	store    backend.Store
	git      Git
	notifier StatusNotifier
	logger   *slog.Logger
}

// NewService creates a trigger service. notifier may be nil.
func NewService(store backend.Store, git Git, notifier StatusNotifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		git:      git,
		notifier: notifier,
		logger:   log.WithComponent(logger, "trigger"),
	}
}

// CreateRun inserts a pending run and one pending step per manifest step,
// in declared order, in a single transaction. The manifest's steps are
// snapshotted into the run; later manifest edits do not touch it.
func (s *Service) CreateRun(ctx context.Context, pipeline *backend.Pipeline, cfg *manifest.Config, source backend.TriggerSource, commitSHA, branch string) (*backend.Run, error) {
	now := time.Now().UTC()

	run := &backend.Run{
		ID:          uuid.New().String(),
		PipelineID:  pipeline.ID,
		Status:      backend.RunPending,
		CommitSHA:   commitSHA,
		Branch:      branch,
		TriggeredBy: source,
		CreatedAt:   now,
	}

	steps := make([]*backend.Step, 0, len(cfg.Steps))
	for i, st := range cfg.Steps {
		steps = append(steps, &backend.Step{
			ID:      uuid.New().String(),
			RunID:   run.ID,
			Seq:     i,
			Name:    st.Name,
			Command: st.Run,
			Status:  backend.StepPending,
		})
	}

	if err := s.store.CreateRun(ctx, run, steps); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	s.logger.Info("run created",
		log.RunIDKey, run.ID,
		log.PipelineKey, pipeline.Name,
		"trigger", string(source),
		"commit", commitSHA,
		"branch", branch)
	metrics.RecordRunCreated(string(source))

	if s.notifier != nil {
		go s.notifier.NotifyRunStatus(context.WithoutCancel(ctx), run)
	}
	return run, nil
}

// TriggerManual creates a run for a pipeline by operator request. The
// manifest must allow it: triggers absent means everything is permitted,
// otherwise triggers.manual must be true.
func (s *Service) TriggerManual(ctx context.Context, pipelineID string) (*backend.Run, error) {
	pipeline, err := s.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	cfg, err := manifest.Parse([]byte(pipeline.Config))
	if err != nil {
		return nil, fmt.Errorf("stored manifest is invalid: %w", err)
	}
	if !cfg.AllowsManual() {
		return nil, &eiflerrors.PreconditionFailedError{Reason: "pipeline does not allow manual triggers"}
	}

	repo, err := s.store.GetRepo(ctx, pipeline.RepoID)
	if err != nil {
		return nil, err
	}

	// Best effort: a local repo without commits still gets a run, the
	// runner just clones the default branch tip.
	commitSHA := ""
	branch := repo.DefaultBranch
	if repo.RemoteURL == "" {
		sha, err := s.git.ResolveHead(ctx, repo.Path, repo.DefaultBranch)
		if err != nil {
			var notFound *eiflerrors.NotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
			s.logger.Warn("manual trigger without resolvable HEAD",
				log.RepoKey, repo.Path, "branch", repo.DefaultBranch)
		} else {
			commitSHA = sha
		}
	}

	return s.CreateRun(ctx, pipeline, cfg, backend.TriggerManual, commitSHA, branch)
}

// NextRunAt computes the earliest upcoming firing across the manifest's
// schedule entries, after the given instant. Unparseable entries are
// logged and skipped; nil means the pipeline has no (valid) schedule.
func NextRunAt(cfg *manifest.Config, after time.Time, logger *slog.Logger) *time.Time {
	var next *time.Time
	for _, expr := range cfg.Schedules() {
		candidate, err := cronexpr.NextAfter(expr, after)
		if err != nil {
			logger.Warn("skipping invalid cron expression", "cron", expr, log.Error(err))
			metrics.RecordSchedulerSkip("invalid_cron")
			continue
		}
		if next == nil || candidate.Before(*next) {
			c := candidate
			next = &c
		}
	}
	return next
}
