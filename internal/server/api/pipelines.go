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
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eifl-dev/eifl/internal/manifest"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/trigger"
)

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repoID")
	if _, err := s.Store.GetRepo(r.Context(), repoID); err != nil {
		writeError(w, err)
		return
	}

	pipelines, err := s.Store.ListPipelines(r.Context(), repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	if pipelines == nil {
		pipelines = []*backend.Pipeline{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipelines": pipelines,
		"total":     len(pipelines),
	})
}

// handleApplyPipeline registers or replaces a pipeline from a manifest. The
// request body IS the manifest, exactly what `.eifl.json` would contain, so
// pushing and applying via the API are byte-for-byte the same format.
func (s *Server) handleApplyPipeline(w http.ResponseWriter, r *http.Request) {
	repo, err := s.Store.GetRepo(r.Context(), chi.URLParam(r, "repoID"))
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			errorJSON(w, "request body too large", "BODY_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}
		errorJSON(w, "failed to read request body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	cfg, err := manifest.Parse(body)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	pipeline, err := s.Store.UpsertPipeline(r.Context(), &backend.Pipeline{
		ID:        uuid.New().String(),
		RepoID:    repo.ID,
		Name:      cfg.Name,
		Config:    string(body),
		NextRunAt: trigger.NextRunAt(cfg, now, s.Logger),
		CreatedAt: now,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	pipeline, err := s.Store.GetPipeline(r.Context(), chi.URLParam(r, "pipelineID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline)
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeletePipeline(r.Context(), chi.URLParam(r, "pipelineID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTriggerPipeline starts a manual run against the repo HEAD.
func (s *Server) handleTriggerPipeline(w http.ResponseWriter, r *http.Request) {
	run, err := s.Trigger.TriggerManual(r.Context(), chi.URLParam(r, "pipelineID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// handleMetricHistory returns recent values of one metric key across the
// pipeline's successful runs, newest first.
func (s *Server) handleMetricHistory(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipelineID")
	if _, err := s.Store.GetPipeline(r.Context(), pipelineID); err != nil {
		writeError(w, err)
		return
	}

	limit, _ := parsePagination(r)
	history, err := s.Store.ListMetricHistory(r.Context(), pipelineID, chi.URLParam(r, "key"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []*backend.Metric{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": history,
		"total":   len(history),
	})
}
