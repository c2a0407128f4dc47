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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eifl-dev/eifl/internal/server/dispatch"
	"github.com/eifl-dev/eifl/internal/server/lifecycle"
	"github.com/eifl-dev/eifl/pkg/httpclient"
)

// Client speaks the runner side of the server protocol: poll for work,
// report step transitions, stream output, and finish runs. Every call
// carries the runner token as a bearer credential.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a runner API client for the given server.
func NewClient(serverURL, token string) (*Client, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if token == "" {
		return nil, fmt.Errorf("runner token is required")
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.UserAgent = "eifl-runner/1.0"
	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		token:   token,
		http:    httpClient,
	}, nil
}

// BaseURL returns the server base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the runner token. The job runner needs it to authenticate
// git fetches against the server's /git/ passthrough.
func (c *Client) Token() string {
	return c.token
}

// Poll asks the server for work. A nil job means nothing is eligible.
func (c *Client) Poll(ctx context.Context) (*dispatch.Job, error) {
	var resp struct {
		Job *dispatch.Job `json:"job"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/runner/poll", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// UpdateStep reports a step transition, optionally with a final output
// fragment.
func (c *Client) UpdateStep(ctx context.Context, stepID, status string, exitCode *int, output string) error {
	body := struct {
		StepID   string `json:"stepId"`
		Status   string `json:"status"`
		ExitCode *int   `json:"exitCode,omitempty"`
		Output   string `json:"output,omitempty"`
	}{stepID, status, exitCode, output}
	return c.do(ctx, http.MethodPost, "/api/v1/runner/step", body, nil)
}

// StreamOutput appends a chunk of output to a step.
func (c *Client) StreamOutput(ctx context.Context, stepID, chunk string) error {
	body := struct {
		StepID string `json:"stepId"`
		Output string `json:"output"`
	}{stepID, chunk}
	return c.do(ctx, http.MethodPost, "/api/v1/runner/output", body, nil)
}

// Complete reports the run's terminal status and its collected metrics,
// and returns the server's baseline comparison.
func (c *Client) Complete(ctx context.Context, runID, status string, metrics []lifecycle.MetricInput) (*lifecycle.BaselineCheck, error) {
	body := struct {
		RunID   string                  `json:"runId"`
		Status  string                  `json:"status"`
		Metrics []lifecycle.MetricInput `json:"metrics,omitempty"`
	}{runID, status, metrics}

	var resp struct {
		BaselineCheck *lifecycle.BaselineCheck `json:"baselineCheck"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/runner/complete", body, &resp); err != nil {
		return nil, err
	}
	return resp.BaselineCheck, nil
}

// Heartbeat refreshes the runner's last_seen and marks it online.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/runner/heartbeat", nil, nil)
}

// do sends one authenticated JSON request and decodes the response into
// out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// decodeAPIError turns an error response into a Go error carrying the
// server's message when the body is the standard envelope.
func decodeAPIError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("server rejected request (%s): %s", envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}
