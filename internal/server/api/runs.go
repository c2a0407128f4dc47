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

	"github.com/go-chi/chi/v5"

	"github.com/eifl-dev/eifl/internal/server/backend"
)

// runDetail is the body of GET /api/v1/runs/{runID}: the run plus its steps
// in execution order.
type runDetail struct {
	Run   *backend.Run    `json:"run"`
	Steps []*backend.Step `json:"steps"`
}

// handleListRuns returns runs newest first, optionally filtered by
// pipeline, status, and trigger. Pagination is pushed to SQL.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	filter := backend.RunFilter{
		PipelineID: r.URL.Query().Get("pipeline"),
		Limit:      limit,
		Offset:     offset,
	}

	if v := r.URL.Query().Get("status"); v != "" {
		status := backend.RunStatus(v)
		if !status.Valid() {
			errorJSON(w, "status must be one of pending, running, success, failed, cancelled", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	if v := r.URL.Query().Get("trigger"); v != "" {
		source := backend.TriggerSource(v)
		if !source.Valid() {
			errorJSON(w, "trigger must be one of push, schedule, manual, github-push", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		filter.TriggeredBy = source
	}

	runs, err := s.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := s.Store.CountRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	if runs == nil {
		runs = []*backend.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": total,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	steps, err := s.Store.ListSteps(r.Context(), run.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if steps == nil {
		steps = []*backend.Step{}
	}
	writeJSON(w, http.StatusOK, runDetail{Run: run, Steps: steps})
}

// handleCancelRun moves a pending or running run to cancelled. Runners are
// not interrupted; their late callbacks are accepted but never revive the
// run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Lifecycle.CancelRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRunMetrics(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.Store.GetRun(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}

	runMetrics, err := s.Store.ListMetrics(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if runMetrics == nil {
		runMetrics = []*backend.Metric{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": runMetrics,
		"total":   len(runMetrics),
	})
}

// handleStepOutput returns the accumulated output of one step as plain
// text. Output is append-only, so a running step yields a partial view.
func (s *Server) handleStepOutput(w http.ResponseWriter, r *http.Request) {
	step, err := s.Store.GetStep(r.Context(), chi.URLParam(r, "stepID"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(step.Output)); err != nil {
		s.Logger.Error("failed to write step output", "step", step.ID, "error", err)
	}
}
