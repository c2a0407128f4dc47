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

package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eifl-dev/eifl/internal/git"
	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/manifest"
	"github.com/eifl-dev/eifl/internal/server/backend"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// HandlePush materializes runs for one receive-pack against a hosted repo.
// Each ref record is handled independently: a branch creation or update
// whose tip carries a parseable manifest that opts into the pushed branch
// yields a pending run. Deletions, non-branch refs, missing manifests, and
// manifests that do not match the branch are skipped. A failing record is
// logged and dropped without aborting the rest of the batch, so the returned
// slice may be non-empty even when some records produced nothing.
func (s *Service) HandlePush(ctx context.Context, repoPath string, changes []git.Change) ([]*backend.Run, error) {
	repo, err := s.store.GetRepoByPath(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo %q: %w", repoPath, err)
	}

	var runs []*backend.Run
	for _, change := range changes {
		branch, ok := change.Branch()
		if !ok {
			s.logger.Debug("ignoring push to non-branch ref",
				log.RepoKey, repo.ID,
				"refname", change.RefName)
			continue
		}
		if change.IsDelete() {
			s.logger.Debug("ignoring branch deletion",
				log.RepoKey, repo.ID,
				"branch", branch)
			continue
		}

		run, err := s.runForPush(ctx, repo, branch, change.NewRev)
		if err != nil {
			s.logger.Warn("dropping push record",
				log.RepoKey, repo.ID,
				"branch", branch,
				"commit", change.NewRev,
				log.Error(err))
			continue
		}
		if run != nil {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// runForPush reads the manifest at the pushed tip and, when it opts into
// the branch, upserts the pipeline and creates the run. A nil run with nil
// error means the record was legitimately skipped.
func (s *Service) runForPush(ctx context.Context, repo *backend.Repo, branch, sha string) (*backend.Run, error) {
	data, err := s.git.ReadFileAtRef(ctx, repo.Path, sha, manifest.FileName)
	if err != nil {
		var notFound *eiflerrors.NotFoundError
		if errors.As(err, &notFound) {
			s.logger.Debug("no manifest at pushed commit",
				log.RepoKey, repo.ID,
				"branch", branch,
				"commit", sha)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest at %s: %w", sha, err)
	}

	cfg, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest at %s: %w", sha, err)
	}
	if !cfg.ShouldTriggerOnPush(branch) {
		s.logger.Debug("manifest does not trigger on branch",
			log.RepoKey, repo.ID,
			log.PipelineKey, cfg.Name,
			"branch", branch)
		return nil, nil
	}

	pipeline, err := s.storePipeline(ctx, repo, cfg, string(data))
	if err != nil {
		return nil, err
	}
	return s.CreateRun(ctx, pipeline, cfg, backend.TriggerPush, sha, branch)
}

// storePipeline upserts the pushed manifest under (repo, name). next_run_at
// is recomputed from the manifest's schedules so a freshly pushed cron entry
// is armed without waiting for a scheduler pass, and a removed schedule
// disarms the pipeline.
func (s *Service) storePipeline(ctx context.Context, repo *backend.Repo, cfg *manifest.Config, raw string) (*backend.Pipeline, error) {
	now := time.Now().UTC()
	stored, err := s.store.UpsertPipeline(ctx, &backend.Pipeline{
		ID:        uuid.New().String(),
		RepoID:    repo.ID,
		Name:      cfg.Name,
		Config:    raw,
		NextRunAt: NextRunAt(cfg, now, s.logger),
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert pipeline %q: %w", cfg.Name, err)
	}
	return stored, nil
}

// HandleRemotePush materializes runs for a push reported by a remote host's
// webhook. The pushed tree is not hosted here, so the stored pipeline
// configs stand in for the manifest at the pushed commit; a repo with no
// registered pipelines yields no runs.
func (s *Service) HandleRemotePush(ctx context.Context, repo *backend.Repo, branch, sha string, source backend.TriggerSource) ([]*backend.Run, error) {
	pipelines, err := s.store.ListPipelines(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}

	var runs []*backend.Run
	for _, pipeline := range pipelines {
		cfg, err := manifest.Parse([]byte(pipeline.Config))
		if err != nil {
			s.logger.Warn("stored pipeline config no longer parses",
				log.PipelineKey, pipeline.ID,
				log.Error(err))
			continue
		}
		if !cfg.ShouldTriggerOnPush(branch) {
			continue
		}

		run, err := s.CreateRun(ctx, pipeline, cfg, source, sha, branch)
		if err != nil {
			s.logger.Warn("failed to create run for remote push",
				log.PipelineKey, pipeline.ID,
				"branch", branch,
				log.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}
