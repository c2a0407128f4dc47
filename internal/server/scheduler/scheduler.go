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

// Package scheduler fires cron-scheduled pipeline runs. It runs as a
// background goroutine inside eifld, executing one pass at startup and
// then on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/manifest"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/metrics"
	"github.com/eifl-dev/eifl/internal/server/trigger"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// DefaultInterval is the pause between scheduling passes.
const DefaultInterval = 60 * time.Second

// Git is the slice of the git adapter the scheduler resolves tips through.
type Git interface {
	ResolveHead(ctx context.Context, repoPath, branch string) (string, error)
}

// Scheduler turns due pipelines into pending runs.
type Scheduler struct {
	store    backend.Store
	git      Git
	runs     *trigger.Service
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. A non-positive interval selects DefaultInterval.
func New(store backend.Store, git Git, runs *trigger.Service, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		store:    store,
		git:      git,
		runs:     runs,
		interval: interval,
		logger:   log.WithComponent(logger, "scheduler"),
	}
}

// Start begins the background loop: one pass immediately, then one per
// interval until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.Tick(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Tick executes one scheduling pass. Each due pipeline is re-armed before
// any run is created, so a pass that overlaps the next period can never
// enqueue the same firing twice. A failure on one pipeline is logged and
// never aborts the pass.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.RecordSchedulerTick(time.Since(start).Seconds()) }()

	now := time.Now().UTC()
	due, err := s.store.PipelinesDue(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due pipelines", log.Error(err))
		return
	}

	for _, pipeline := range due {
		if err := s.fire(ctx, pipeline, now); err != nil {
			s.logger.Error("scheduled run failed",
				log.PipelineKey, pipeline.ID,
				log.Error(err))
		}
	}
}

// fire handles one due pipeline: re-arm, resolve the tip, suppress when a
// run is already in flight, otherwise create the scheduled run.
func (s *Scheduler) fire(ctx context.Context, pipeline *backend.Pipeline, now time.Time) error {
	cfg, err := manifest.Parse([]byte(pipeline.Config))
	if err != nil {
		// Leave next_run_at as-is: the pipeline keeps showing up (and
		// keeps warning) until a valid manifest is pushed.
		metrics.RecordSchedulerSkip("invalid_manifest")
		s.logger.Warn("stored pipeline config no longer parses",
			log.PipelineKey, pipeline.ID,
			log.Error(err))
		return nil
	}

	next := trigger.NextRunAt(cfg, now, s.logger)
	if err := s.store.SetPipelineNextRun(ctx, pipeline.ID, next); err != nil {
		return fmt.Errorf("failed to advance next_run_at: %w", err)
	}
	if next == nil {
		// No valid schedule entry remains, either removed from the
		// manifest or unparseable. The row was disarmed above; firing a
		// run for a schedule that no longer exists would surprise.
		metrics.RecordSchedulerSkip("disarmed")
		s.logger.Info("no upcoming firing, pipeline disarmed",
			log.PipelineKey, pipeline.ID)
		return nil
	}

	repo, err := s.store.GetRepo(ctx, pipeline.RepoID)
	if err != nil {
		return err
	}

	commitSHA := ""
	if repo.RemoteURL == "" {
		sha, err := s.git.ResolveHead(ctx, repo.Path, repo.DefaultBranch)
		if err != nil {
			var notFound *eiflerrors.NotFoundError
			if errors.As(err, &notFound) {
				metrics.RecordSchedulerSkip("no_head")
				s.logger.Warn("skipping schedule, branch has no commits",
					log.PipelineKey, pipeline.ID,
					log.RepoKey, repo.Path,
					"branch", repo.DefaultBranch)
				return nil
			}
			return err
		}
		commitSHA = sha
	}

	active, err := s.store.HasPendingOrRunningRun(ctx, pipeline.ID)
	if err != nil {
		return err
	}
	if active {
		metrics.RecordSchedulerSkip("active_run")
		s.logger.Debug("skipping schedule, pipeline already has an active run",
			log.PipelineKey, pipeline.ID)
		return nil
	}

	_, err = s.runs.CreateRun(ctx, pipeline, cfg, backend.TriggerSchedule, commitSHA, repo.DefaultBranch)
	return err
}
