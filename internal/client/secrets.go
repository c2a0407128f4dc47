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

	"github.com/eifl-dev/eifl/internal/server/backend"
)

// secretsBase maps a scope to its URL prefix. Project and repo secrets
// share handler shapes; only the path differs.
func secretsBase(scope backend.SecretScope, scopeID string) string {
	if scope == backend.ScopeProject {
		return "/api/v1/projects/" + url.PathEscape(scopeID) + "/secrets"
	}
	return "/api/v1/repos/" + url.PathEscape(scopeID) + "/secrets"
}

// ListSecrets returns secret metadata for a scope. Values are write-only
// and never included.
func (c *Client) ListSecrets(ctx context.Context, scope backend.SecretScope, scopeID string) ([]*backend.Secret, error) {
	var resp struct {
		Secrets []*backend.Secret `json:"secrets"`
	}
	if err := c.do(ctx, http.MethodGet, secretsBase(scope, scopeID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Secrets, nil
}

func (c *Client) CreateSecret(ctx context.Context, scope backend.SecretScope, scopeID, name, value string) (*backend.Secret, error) {
	body := struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}{name, value}

	var secret backend.Secret
	if err := c.do(ctx, http.MethodPost, secretsBase(scope, scopeID), body, &secret); err != nil {
		return nil, err
	}
	return &secret, nil
}

func (c *Client) UpdateSecret(ctx context.Context, scope backend.SecretScope, scopeID, name, value string) (*backend.Secret, error) {
	body := struct {
		Value string `json:"value"`
	}{value}

	var secret backend.Secret
	path := secretsBase(scope, scopeID) + "/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodPut, path, body, &secret); err != nil {
		return nil, err
	}
	return &secret, nil
}

func (c *Client) DeleteSecret(ctx context.Context, scope backend.SecretScope, scopeID, name string) error {
	path := secretsBase(scope, scopeID) + "/" + url.PathEscape(name)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Baselines

func (c *Client) ListBaselines(ctx context.Context, pipelineID string) ([]*backend.Baseline, error) {
	var resp struct {
		Baselines []*backend.Baseline `json:"baselines"`
	}
	path := "/api/v1/pipelines/" + url.PathEscape(pipelineID) + "/baselines"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Baselines, nil
}

// SetBaseline pins a metric's expected value. A nil tolerancePct keeps
// the key's existing tolerance (or the server default for new keys).
func (c *Client) SetBaseline(ctx context.Context, pipelineID, key string, value float64, tolerancePct *float64) (*backend.Baseline, error) {
	body := struct {
		Value        float64  `json:"value"`
		TolerancePct *float64 `json:"tolerancePct,omitempty"`
	}{value, tolerancePct}

	var baseline backend.Baseline
	path := fmt.Sprintf("/api/v1/pipelines/%s/baselines/%s", url.PathEscape(pipelineID), url.PathEscape(key))
	if err := c.do(ctx, http.MethodPut, path, body, &baseline); err != nil {
		return nil, err
	}
	return &baseline, nil
}

func (c *Client) DeleteBaseline(ctx context.Context, pipelineID, key string) error {
	path := fmt.Sprintf("/api/v1/pipelines/%s/baselines/%s", url.PathEscape(pipelineID), url.PathEscape(key))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// BaselinesFromRun snapshots every metric of a run as its pipeline's
// baselines, preserving existing tolerances.
func (c *Client) BaselinesFromRun(ctx context.Context, runID string) ([]*backend.Baseline, error) {
	var resp struct {
		Baselines []*backend.Baseline `json:"baselines"`
	}
	path := "/api/v1/runs/" + url.PathEscape(runID) + "/baselines"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Baselines, nil
}
