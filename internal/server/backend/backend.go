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

// Package backend defines the persistence model and store interfaces for
// the EIFL server.
//
// # Interface Hierarchy
//
// The package uses interface segregation so components declare only what
// they touch:
//
//   - RunStore / StepStore: run and step lifecycle (dispatcher, callbacks)
//   - PipelineStore: manifest persistence and due-schedule queries (scheduler)
//   - RunnerStore: registration, heartbeats, and the active-jobs counters
//   - MetricStore / SecretStore: measurements and encrypted values
//
// Store composes all of them for the full-featured SQLite implementation.
package backend

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrRunTaken is returned by ReserveRun when the conditional update changed
// zero rows, meaning a concurrent poll reserved the run first. The caller
// moves on to the next candidate.
var ErrRunTaken = errors.New("run already reserved")

// ProjectStore manages projects.
type ProjectStore interface {
	// CreateProject creates a new project. Duplicate names conflict.
	CreateProject(ctx context.Context, p *Project) error

	// GetProject retrieves a project by ID.
	GetProject(ctx context.Context, id string) (*Project, error)

	// GetProjectByName retrieves a project by its unique name.
	GetProjectByName(ctx context.Context, name string) (*Project, error)

	// ListProjects lists all projects ordered by creation time.
	ListProjects(ctx context.Context) ([]*Project, error)

	// DeleteProject deletes a project and cascades to everything under it.
	DeleteProject(ctx context.Context, id string) error
}

// RepoStore manages repositories.
type RepoStore interface {
	// CreateRepo creates a new repo. (project_id, name) and path are unique.
	CreateRepo(ctx context.Context, r *Repo) error

	// GetRepo retrieves a repo by ID.
	GetRepo(ctx context.Context, id string) (*Repo, error)

	// GetRepoByPath retrieves a repo by its unique local path.
	GetRepoByPath(ctx context.Context, path string) (*Repo, error)

	// GetRepoByRemoteURL retrieves a repo by remote URL. Used by the GitHub
	// webhook ingress to map a delivery to a hosted repo.
	GetRepoByRemoteURL(ctx context.Context, remoteURL string) (*Repo, error)

	// ListRepos lists the repos of a project.
	ListRepos(ctx context.Context, projectID string) ([]*Repo, error)

	// DeleteRepo deletes a repo and cascades.
	DeleteRepo(ctx context.Context, id string) error
}

// PipelineStore manages pipelines and their schedule bookkeeping.
type PipelineStore interface {
	// CreatePipeline creates a new pipeline. (repo_id, name) is unique.
	CreatePipeline(ctx context.Context, p *Pipeline) error

	// GetPipeline retrieves a pipeline by ID.
	GetPipeline(ctx context.Context, id string) (*Pipeline, error)

	// GetPipelineByName retrieves a pipeline by repo and name.
	GetPipelineByName(ctx context.Context, repoID, name string) (*Pipeline, error)

	// UpsertPipeline creates the pipeline or, when (repo_id, name) already
	// exists, replaces its config and next_run_at. Returns the stored row.
	UpsertPipeline(ctx context.Context, p *Pipeline) (*Pipeline, error)

	// ListPipelines lists the pipelines of a repo.
	ListPipelines(ctx context.Context, repoID string) ([]*Pipeline, error)

	// SetPipelineNextRun updates next_run_at. The scheduler calls this
	// BEFORE creating the scheduled run.
	SetPipelineNextRun(ctx context.Context, id string, next *time.Time) error

	// PipelinesDue returns pipelines with next_run_at <= now.
	PipelinesDue(ctx context.Context, now time.Time) ([]*Pipeline, error)

	// DeletePipeline deletes a pipeline and cascades.
	DeletePipeline(ctx context.Context, id string) error
}

// RunStore manages runs, including the dispatcher's atomic reservation.
type RunStore interface {
	// CreateRun inserts the run and its steps in declared order within a
	// single transaction.
	CreateRun(ctx context.Context, run *Run, steps []*Step) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns lists runs with optional filtering, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// CountRuns counts the runs matching the filter, ignoring Limit/Offset.
	CountRuns(ctx context.Context, filter RunFilter) (int, error)

	// ListPendingRuns returns pending runs ordered by created_at ascending.
	// This ordering is the dispatcher's preferred FIFO order.
	ListPendingRuns(ctx context.Context) ([]*Run, error)

	// HasPendingOrRunningRun reports whether the pipeline has any run in a
	// non-terminal state. The scheduler uses it to avoid duplicate
	// scheduled runs across overlapping ticks.
	HasPendingOrRunningRun(ctx context.Context, pipelineID string) (bool, error)

	// ReserveRun atomically assigns a pending run to a runner: it moves the
	// run pending -> running (setting started_at), increments the runner's
	// active_jobs, and marks the runner busy iff the new count reaches its
	// max_concurrency, all in one transaction. Returns ErrRunTaken when the
	// run was no longer pending.
	ReserveRun(ctx context.Context, runID, runnerID string, now time.Time) error

	// TransitionRun conditionally moves a run from any of the given states
	// to the target state, maintaining started_at/finished_at. It reports
	// whether a row changed; false means the run was not in an allowed
	// state (or does not exist).
	TransitionRun(ctx context.Context, runID string, from []RunStatus, to RunStatus, now time.Time) (bool, error)
}

// StepStore manages steps.
type StepStore interface {
	// GetStep retrieves a step by ID.
	GetStep(ctx context.Context, id string) (*Step, error)

	// ListSteps returns the steps of a run in execution order.
	ListSteps(ctx context.Context, runID string) ([]*Step, error)

	// UpdateStepStatus sets the step status, exit code, and timestamps.
	// A nil exitCode leaves the column untouched.
	UpdateStepStatus(ctx context.Context, id string, status StepStatus, exitCode *int, now time.Time) error

	// AppendStepOutput appends a chunk to the step's output. Appends are
	// additive; readers may observe partial output.
	AppendStepOutput(ctx context.Context, id string, chunk string) error
}

// MetricStore manages metrics and baselines.
type MetricStore interface {
	// CreateMetric appends a metric row. No uniqueness across runs.
	CreateMetric(ctx context.Context, m *Metric) error

	// ListMetrics returns the metrics recorded for a run.
	ListMetrics(ctx context.Context, runID string) ([]*Metric, error)

	// ListMetricHistory returns up to limit values for a key across the
	// pipeline's successful runs, newest first.
	ListMetricHistory(ctx context.Context, pipelineID, key string, limit int) ([]*Metric, error)

	// UpsertBaseline creates or replaces the baseline for (pipeline, key).
	UpsertBaseline(ctx context.Context, b *Baseline) error

	// GetBaseline retrieves a baseline by pipeline and key.
	GetBaseline(ctx context.Context, pipelineID, key string) (*Baseline, error)

	// ListBaselines lists the baselines of a pipeline.
	ListBaselines(ctx context.Context, pipelineID string) ([]*Baseline, error)

	// DeleteBaseline removes a baseline.
	DeleteBaseline(ctx context.Context, pipelineID, key string) error
}

// RunnerStore manages runners and their load accounting.
type RunnerStore interface {
	// CreateRunner registers a runner. Name and token are unique.
	CreateRunner(ctx context.Context, r *Runner) error

	// GetRunner retrieves a runner by ID.
	GetRunner(ctx context.Context, id string) (*Runner, error)

	// GetRunnerByToken retrieves a runner by its bearer token.
	GetRunnerByToken(ctx context.Context, token string) (*Runner, error)

	// ListRunners lists all runners.
	ListRunners(ctx context.Context) ([]*Runner, error)

	// TouchRunner refreshes last_seen. When status is non-empty it is
	// updated in the same statement.
	TouchRunner(ctx context.Context, id string, status RunnerStatus, now time.Time) error

	// IncrementActiveJobs adds one to active_jobs.
	IncrementActiveJobs(ctx context.Context, id string) error

	// DecrementActiveJobs subtracts one from active_jobs, clamped at zero.
	DecrementActiveJobs(ctx context.Context, id string) error

	// DeleteRunner removes a runner.
	DeleteRunner(ctx context.Context, id string) error
}

// SecretStore manages encrypted secrets.
type SecretStore interface {
	// CreateSecret inserts a secret. A duplicate (scope, scope_id, name)
	// conflicts.
	CreateSecret(ctx context.Context, s *Secret) error

	// UpdateSecretValue replaces the ciphertext of an existing secret.
	UpdateSecretValue(ctx context.Context, scope SecretScope, scopeID, name, encryptedValue, iv string, now time.Time) error

	// GetSecret retrieves a secret by scope and name.
	GetSecret(ctx context.Context, scope SecretScope, scopeID, name string) (*Secret, error)

	// ListSecrets lists the secrets at a scope.
	ListSecrets(ctx context.Context, scope SecretScope, scopeID string) ([]*Secret, error)

	// DeleteSecret removes a secret.
	DeleteSecret(ctx context.Context, scope SecretScope, scopeID, name string) error
}

// Store is the full interface the SQLite implementation satisfies.
type Store interface {
	ProjectStore
	RepoStore
	PipelineStore
	RunStore
	StepStore
	MetricStore
	RunnerStore
	SecretStore
	io.Closer

	// Ping verifies the underlying database is reachable.
	Ping(ctx context.Context) error
}
