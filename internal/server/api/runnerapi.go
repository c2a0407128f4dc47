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

package api

import (
	"net/http"
	"time"

	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/dispatch"
	"github.com/eifl-dev/eifl/internal/server/lifecycle"
)

// The runner protocol. Every endpoint here runs behind requireRunner, and
// every callback doubles as a liveness signal.

// stepCallbackRequest is the JSON body for POST /api/v1/runner/step.
type stepCallbackRequest struct {
	StepID   string `json:"stepId"`
	Status   string `json:"status"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Output   string `json:"output,omitempty"`
}

// outputCallbackRequest is the JSON body for POST /api/v1/runner/output.
type outputCallbackRequest struct {
	StepID string `json:"stepId"`
	Output string `json:"output"`
}

// completeCallbackRequest is the JSON body for POST /api/v1/runner/complete.
type completeCallbackRequest struct {
	RunID   string                  `json:"runId"`
	Status  string                  `json:"status"`
	Metrics []lifecycle.MetricInput `json:"metrics,omitempty"`
}

// pollResponse wraps the job so "nothing for you" is an explicit null
// rather than an empty body.
type pollResponse struct {
	Job *dispatch.Job `json:"job"`
}

// handleRunnerPoll hands out the oldest eligible pending run, or job null.
func (s *Server) handleRunnerPoll(w http.ResponseWriter, r *http.Request) {
	job, err := s.Dispatcher.Poll(r.Context(), runnerFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pollResponse{Job: job})
}

// handleRunnerStep applies a step transition reported by the runner.
func (s *Server) handleRunnerStep(w http.ResponseWriter, r *http.Request) {
	var req stepCallbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StepID == "" {
		errorJSON(w, "stepId is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	s.touchRunner(r, "")
	err := s.Lifecycle.UpdateStep(r.Context(), req.StepID, backend.StepStatus(req.Status), req.ExitCode, req.Output)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunnerOutput appends an output chunk to a step.
func (s *Server) handleRunnerOutput(w http.ResponseWriter, r *http.Request) {
	var req outputCallbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StepID == "" {
		errorJSON(w, "stepId is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	s.touchRunner(r, "")
	if err := s.Lifecycle.AppendOutput(r.Context(), req.StepID, req.Output); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunnerComplete finishes a run: terminal transition, metrics,
// baseline comparison, slot release.
func (s *Server) handleRunnerComplete(w http.ResponseWriter, r *http.Request) {
	var req completeCallbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RunID == "" {
		errorJSON(w, "runId is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	check, err := s.Lifecycle.CompleteRun(r.Context(), req.RunID,
		backend.RunStatus(req.Status), req.Metrics, runnerFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"baselineCheck": check})
}

// handleRunnerHeartbeat refreshes last_seen and reports the runner online.
func (s *Server) handleRunnerHeartbeat(w http.ResponseWriter, r *http.Request) {
	s.touchRunner(r, backend.RunnerOnline)
	w.WriteHeader(http.StatusNoContent)
}

// touchRunner refreshes the authenticated runner's last_seen. Failures are
// logged, not surfaced: liveness bookkeeping must never fail a callback.
func (s *Server) touchRunner(r *http.Request, status backend.RunnerStatus) {
	runner := runnerFromContext(r.Context())
	if runner == nil {
		return
	}
	if err := s.Store.TouchRunner(r.Context(), runner.ID, status, time.Now().UTC()); err != nil {
		s.Logger.Warn("failed to refresh runner last_seen", "runner", runner.ID, "error", err)
	}
}
