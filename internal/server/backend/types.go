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

package backend

import (
	"regexp"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunCancelled
}

// Valid reports whether the value is one of the known run statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunSuccess, RunFailed, RunCancelled:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of a step. It mirrors RunStatus and
// adds "skipped" for steps whose `if` condition evaluated false.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Valid reports whether the value is one of the known step statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepRunning, StepSuccess, StepFailed, StepSkipped:
		return true
	}
	return false
}

// TriggerSource identifies what created a run.
type TriggerSource string

const (
	TriggerPush       TriggerSource = "push"
	TriggerSchedule   TriggerSource = "schedule"
	TriggerManual     TriggerSource = "manual"
	TriggerGithubPush TriggerSource = "github-push"
)

// Valid reports whether the value is one of the known trigger sources.
func (t TriggerSource) Valid() bool {
	switch t {
	case TriggerPush, TriggerSchedule, TriggerManual, TriggerGithubPush:
		return true
	}
	return false
}

// RunnerStatus is the reported availability of a runner. "busy" means the
// runner was at capacity the last time a job was handed to it; it regresses
// to "online" on any run completion.
type RunnerStatus string

const (
	RunnerOnline  RunnerStatus = "online"
	RunnerOffline RunnerStatus = "offline"
	RunnerBusy    RunnerStatus = "busy"
)

// SecretScope identifies which entity a secret is attached to.
type SecretScope string

const (
	ScopeProject SecretScope = "project"
	ScopeRepo    SecretScope = "repo"
)

// Valid reports whether the value is one of the known secret scopes.
func (s SecretScope) Valid() bool {
	return s == ScopeProject || s == ScopeRepo
}

// SecretNameRe constrains secret names to environment-variable shape.
var SecretNameRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Project is the top-level container. Deleting a project cascades to its
// repos, pipelines, runs, and secrets.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repo either hosts a local bare repository at Path (relative to the
// repos dir) or references a remote via RemoteURL.
type Repo struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	RemoteURL     string    `json:"remote_url,omitempty"`
	DefaultBranch string    `json:"default_branch"`
	CreatedAt     time.Time `json:"created_at"`
}

// Pipeline binds a repo to a manifest. Config holds the raw manifest JSON
// and is re-parsed on read. NextRunAt is the earliest future cron firing,
// or nil when the pipeline has no schedule.
type Pipeline struct {
	ID        string     `json:"id"`
	RepoID    string     `json:"repo_id"`
	Name      string     `json:"name"`
	Config    string     `json:"config"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Run is one execution attempt of a pipeline against a specific commit.
// StartedAt is set iff the run has ever been running; FinishedAt is set
// iff the status is terminal.
type Run struct {
	ID          string        `json:"id"`
	PipelineID  string        `json:"pipeline_id"`
	Status      RunStatus     `json:"status"`
	CommitSHA   string        `json:"commit_sha,omitempty"`
	Branch      string        `json:"branch,omitempty"`
	TriggeredBy TriggerSource `json:"triggered_by"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Step is one shell command within a run. Seq fixes the execution order;
// Output accumulates by append-only concatenation.
type Step struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Seq        int        `json:"seq"`
	Name       string     `json:"name"`
	Command    string     `json:"command"`
	Status     StepStatus `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Output     string     `json:"output,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Metric is a numeric measurement captured from a run. (RunID, Key) is not
// unique; history per key accumulates across runs.
type Metric struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Baseline is the per-pipeline reference value a metric is compared
// against. (PipelineID, Key) is unique.
type Baseline struct {
	ID            string    `json:"id"`
	PipelineID    string    `json:"pipeline_id"`
	Key           string    `json:"key"`
	BaselineValue float64   `json:"baseline_value"`
	TolerancePct  float64   `json:"tolerance_pct"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultTolerancePct applies when a baseline is created without an
// explicit tolerance.
const DefaultTolerancePct = 10.0

// Runner is an external worker process authenticated by Token.
// ActiveJobs never exceeds MaxConcurrency in steady state and the store
// clamps it at zero on decrement.
type Runner struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Token          string       `json:"-"`
	Status         RunnerStatus `json:"status"`
	Tags           []string     `json:"tags"`
	MaxConcurrency int          `json:"max_concurrency"`
	ActiveJobs     int          `json:"active_jobs"`
	LastSeen       *time.Time   `json:"last_seen,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// HasTags reports whether the runner holds every tag in required.
// An empty requirement matches any runner.
func (r *Runner) HasTags(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(r.Tags))
	for _, t := range r.Tags {
		have[t] = struct{}{}
	}
	for _, t := range required {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// Secret is an encrypted value scoped to a project or repo.
// EncryptedValue and IV are base64 strings.
type Secret struct {
	ID             string      `json:"id"`
	Scope          SecretScope `json:"scope"`
	ScopeID        string      `json:"scope_id"`
	Name           string      `json:"name"`
	EncryptedValue string      `json:"-"`
	IV             string      `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// RunFilter contains filtering options for listing runs.
type RunFilter struct {
	PipelineID  string
	Status      RunStatus
	TriggeredBy TriggerSource
	Limit       int
	Offset      int
}
