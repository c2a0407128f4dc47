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
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eifl-dev/eifl/internal/server/auth"
	"github.com/eifl-dev/eifl/internal/server/backend"
)

// maxRunnerConcurrency bounds the per-runner job cap; anything larger is
// almost certainly a typo.
const maxRunnerConcurrency = 64

// registerRunnerRequest is the JSON body for POST /api/v1/runners.
type registerRunnerRequest struct {
	Name           string   `json:"name"`
	Tags           []string `json:"tags,omitempty"`
	MaxConcurrency int      `json:"maxConcurrency,omitempty"`
}

// registerRunnerResponse carries the runner and its bearer token. The token
// is returned exactly once here; it is never readable again.
type registerRunnerResponse struct {
	Runner *backend.Runner `json:"runner"`
	Token  string          `json:"token"`
}

func (s *Server) handleListRunners(w http.ResponseWriter, r *http.Request) {
	runners, err := s.Store.ListRunners(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if runners == nil {
		runners = []*backend.Runner{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runners": runners,
		"total":   len(runners),
	})
}

func (s *Server) handleRegisterRunner(w http.ResponseWriter, r *http.Request) {
	var req registerRunnerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if !validName(req.Name) {
		errorJSON(w, "name must be a lowercase slug (a-z, 0-9, hyphens, underscores; must start with a letter)", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if req.MaxConcurrency == 0 {
		req.MaxConcurrency = 1
	}
	if req.MaxConcurrency < 1 || req.MaxConcurrency > maxRunnerConcurrency {
		errorJSON(w, "maxConcurrency must be between 1 and 64", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	for _, tag := range req.Tags {
		if strings.TrimSpace(tag) == "" {
			errorJSON(w, "tags must be non-empty strings", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
	}

	token, err := auth.NewToken()
	if err != nil {
		internalError(w, "failed to generate runner token", err)
		return
	}

	runner := &backend.Runner{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Token:          token,
		Status:         backend.RunnerOffline,
		Tags:           req.Tags,
		MaxConcurrency: req.MaxConcurrency,
		CreatedAt:      time.Now().UTC(),
	}
	if runner.Tags == nil {
		runner.Tags = []string{}
	}
	if err := s.Store.CreateRunner(r.Context(), runner); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerRunnerResponse{Runner: runner, Token: token})
}

func (s *Server) handleGetRunner(w http.ResponseWriter, r *http.Request) {
	runner, err := s.Store.GetRunner(r.Context(), chi.URLParam(r, "runnerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runner)
}

func (s *Server) handleDeleteRunner(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteRunner(r.Context(), chi.URLParam(r, "runnerID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
