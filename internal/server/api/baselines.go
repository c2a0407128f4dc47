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

// setBaselineRequest is the JSON body for PUT
// /api/v1/pipelines/{pipelineID}/baselines/{key}. A nil TolerancePct keeps
// the default tolerance.
type setBaselineRequest struct {
	Value        float64  `json:"value"`
	TolerancePct *float64 `json:"tolerancePct,omitempty"`
}

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipelineID")
	if _, err := s.Store.GetPipeline(r.Context(), pipelineID); err != nil {
		writeError(w, err)
		return
	}

	baselines, err := s.Store.ListBaselines(r.Context(), pipelineID)
	if err != nil {
		writeError(w, err)
		return
	}
	if baselines == nil {
		baselines = []*backend.Baseline{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baselines": baselines,
		"total":     len(baselines),
	})
}

func (s *Server) handleSetBaseline(w http.ResponseWriter, r *http.Request) {
	var req setBaselineRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	baseline, err := s.Lifecycle.SetBaseline(r.Context(),
		chi.URLParam(r, "pipelineID"),
		chi.URLParam(r, "key"),
		req.Value,
		req.TolerancePct,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, baseline)
}

func (s *Server) handleDeleteBaseline(w http.ResponseWriter, r *http.Request) {
	err := s.Store.DeleteBaseline(r.Context(), chi.URLParam(r, "pipelineID"), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBaselinesFromRun snapshots every metric of a run as the baseline
// for its pipeline, preserving each key's existing tolerance.
func (s *Server) handleBaselinesFromRun(w http.ResponseWriter, r *http.Request) {
	baselines, err := s.Lifecycle.SetBaselinesFromRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if baselines == nil {
		baselines = []*backend.Baseline{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baselines": baselines,
		"total":     len(baselines),
	})
}
