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

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/eifl-dev/eifl/internal/server/backend"
)

// Projects

func (c *Client) ListProjects(ctx context.Context) ([]*backend.Project, error) {
	var resp struct {
		Projects []*backend.Project `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

func (c *Client) CreateProject(ctx context.Context, name, description string) (*backend.Project, error) {
	body := struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}{name, description}

	var project backend.Project
	if err := c.do(ctx, http.MethodPost, "/api/v1/projects", body, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*backend.Project, error) {
	var project backend.Project
	if err := c.do(ctx, http.MethodGet, "/api/v1/projects/"+url.PathEscape(id), nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/projects/"+url.PathEscape(id), nil, nil)
}

// Repos

func (c *Client) ListRepos(ctx context.Context, projectID string) ([]*backend.Repo, error) {
	var resp struct {
		Repos []*backend.Repo `json:"repos"`
	}
	path := "/api/v1/projects/" + url.PathEscape(projectID) + "/repos"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Repos, nil
}

// CreateRepo registers a repo under a project. An empty remoteURL creates
// a server-hosted bare repository.
func (c *Client) CreateRepo(ctx context.Context, projectID, name, remoteURL, defaultBranch string) (*backend.Repo, error) {
	body := struct {
		Name          string `json:"name"`
		RemoteURL     string `json:"remoteUrl,omitempty"`
		DefaultBranch string `json:"defaultBranch,omitempty"`
	}{name, remoteURL, defaultBranch}

	var repo backend.Repo
	path := "/api/v1/projects/" + url.PathEscape(projectID) + "/repos"
	if err := c.do(ctx, http.MethodPost, path, body, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

func (c *Client) GetRepo(ctx context.Context, id string) (*backend.Repo, error) {
	var repo backend.Repo
	if err := c.do(ctx, http.MethodGet, "/api/v1/repos/"+url.PathEscape(id), nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

func (c *Client) DeleteRepo(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/repos/"+url.PathEscape(id), nil, nil)
}

// Pipelines

func (c *Client) ListPipelines(ctx context.Context, repoID string) ([]*backend.Pipeline, error) {
	var resp struct {
		Pipelines []*backend.Pipeline `json:"pipelines"`
	}
	path := "/api/v1/repos/" + url.PathEscape(repoID) + "/pipelines"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pipelines, nil
}

// ApplyPipeline upserts a pipeline from a raw manifest document. The
// server validates the manifest and keys the pipeline on its name.
func (c *Client) ApplyPipeline(ctx context.Context, repoID string, manifestJSON []byte) (*backend.Pipeline, error) {
	var pipeline backend.Pipeline
	path := "/api/v1/repos/" + url.PathEscape(repoID) + "/pipelines"
	if err := c.doRaw(ctx, http.MethodPost, path, manifestJSON, &pipeline); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

func (c *Client) GetPipeline(ctx context.Context, id string) (*backend.Pipeline, error) {
	var pipeline backend.Pipeline
	if err := c.do(ctx, http.MethodGet, "/api/v1/pipelines/"+url.PathEscape(id), nil, &pipeline); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

func (c *Client) DeletePipeline(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/pipelines/"+url.PathEscape(id), nil, nil)
}

// TriggerPipeline creates a manual run.
func (c *Client) TriggerPipeline(ctx context.Context, id string) (*backend.Run, error) {
	var run backend.Run
	path := "/api/v1/pipelines/" + url.PathEscape(id) + "/trigger"
	if err := c.do(ctx, http.MethodPost, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// MetricHistory returns a metric's values across a pipeline's runs,
// newest first.
func (c *Client) MetricHistory(ctx context.Context, pipelineID, key string, limit int) ([]*backend.Metric, error) {
	var resp struct {
		Metrics []*backend.Metric `json:"metrics"`
	}
	path := fmt.Sprintf("/api/v1/pipelines/%s/metrics/%s", url.PathEscape(pipelineID), url.PathEscape(key))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}

// Runs

// RunListOptions filters ListRuns. Zero values are omitted.
type RunListOptions struct {
	Pipeline string
	Status   string
	Trigger  string
	Limit    int
	Offset   int
}

// RunList is a page of runs plus the unpaginated total.
type RunList struct {
	Runs  []*backend.Run `json:"runs"`
	Total int            `json:"total"`
}

func (c *Client) ListRuns(ctx context.Context, opts RunListOptions) (*RunList, error) {
	q := url.Values{}
	if opts.Pipeline != "" {
		q.Set("pipeline", opts.Pipeline)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Trigger != "" {
		q.Set("trigger", opts.Trigger)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/api/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list RunList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// RunDetail is a run plus its steps in execution order.
type RunDetail struct {
	Run   *backend.Run    `json:"run"`
	Steps []*backend.Step `json:"steps"`
}

func (c *Client) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var detail RunDetail
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) CancelRun(ctx context.Context, id string) (*backend.Run, error) {
	var run backend.Run
	path := "/api/v1/runs/" + url.PathEscape(id) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) RunMetrics(ctx context.Context, id string) ([]*backend.Metric, error) {
	var resp struct {
		Metrics []*backend.Metric `json:"metrics"`
	}
	path := "/api/v1/runs/" + url.PathEscape(id) + "/metrics"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}

// StepOutput returns a step's accumulated output as plain text. For a
// running step this is a partial view.
func (c *Client) StepOutput(ctx context.Context, stepID string) (string, error) {
	data, err := c.raw(ctx, http.MethodGet, "/api/v1/steps/"+url.PathEscape(stepID)+"/output")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Runners

func (c *Client) ListRunners(ctx context.Context) ([]*backend.Runner, error) {
	var resp struct {
		Runners []*backend.Runner `json:"runners"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/runners", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runners, nil
}

// RegisterRunner creates a runner and returns it with its bearer token.
// The token is shown exactly once; the server never returns it again.
func (c *Client) RegisterRunner(ctx context.Context, name string, tags []string, maxConcurrency int) (*backend.Runner, string, error) {
	body := struct {
		Name           string   `json:"name"`
		Tags           []string `json:"tags,omitempty"`
		MaxConcurrency int      `json:"maxConcurrency,omitempty"`
	}{name, tags, maxConcurrency}

	var resp struct {
		Runner *backend.Runner `json:"runner"`
		Token  string          `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/runners", body, &resp); err != nil {
		return nil, "", err
	}
	return resp.Runner, resp.Token, nil
}

func (c *Client) GetRunner(ctx context.Context, id string) (*backend.Runner, error) {
	var runner backend.Runner
	if err := c.do(ctx, http.MethodGet, "/api/v1/runners/"+url.PathEscape(id), nil, &runner); err != nil {
		return nil, err
	}
	return &runner, nil
}

func (c *Client) DeleteRunner(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/runners/"+url.PathEscape(id), nil, nil)
}
