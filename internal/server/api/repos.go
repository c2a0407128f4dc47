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
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eifl-dev/eifl/internal/server/backend"
)

// validNameRe matches lowercase slug resource names. Project and repo names
// become path segments under the repos dir, so the shape is deliberately
// narrow: lowercase letter start, then lowercase, digits, hyphens,
// underscores.
var validNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// validName reports whether s is a valid lowercase slug (1-128 chars).
func validName(s string) bool {
	return len(s) <= 128 && validNameRe.MatchString(s)
}

// createRepoRequest is the JSON body for POST /api/v1/projects/{id}/repos.
// An empty RemoteURL creates a hosted bare repository; a non-empty one
// registers an external repo (GitHub webhooks, no local hosting).
type createRepoRequest struct {
	Name          string `json:"name"`
	RemoteURL     string `json:"remoteUrl,omitempty"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.Store.GetProject(r.Context(), projectID); err != nil {
		writeError(w, err)
		return
	}

	repos, err := s.Store.ListRepos(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if repos == nil {
		repos = []*backend.Repo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"repos": repos,
		"total": len(repos),
	})
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var req createRepoRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if !validName(req.Name) {
		errorJSON(w, "name must be a lowercase slug (a-z, 0-9, hyphens, underscores; must start with a letter)", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	project, err := s.Store.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}

	branch := strings.TrimSpace(req.DefaultBranch)
	if branch == "" {
		branch = "main"
	}

	repo := &backend.Repo{
		ID:            uuid.New().String(),
		ProjectID:     project.ID,
		Name:          req.Name,
		Path:          project.Name + "/" + req.Name + ".git",
		RemoteURL:     strings.TrimSpace(req.RemoteURL),
		DefaultBranch: branch,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.Store.CreateRepo(r.Context(), repo); err != nil {
		writeError(w, err)
		return
	}

	// Hosted repos get a bare repository with the post-receive hook
	// installed. If init fails the row is rolled back so a retry is clean.
	if repo.RemoteURL == "" {
		if err := s.Git.InitBare(r.Context(), repo.Path, repo.DefaultBranch); err != nil {
			if delErr := s.Store.DeleteRepo(r.Context(), repo.ID); delErr != nil {
				s.Logger.Error("failed to roll back repo after init failure",
					"repo", repo.ID, "error", delErr)
			}
			internalError(w, "failed to initialize repository", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	repo, err := s.Store.GetRepo(r.Context(), chi.URLParam(r, "repoID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// handleDeleteRepo removes the repo row. The bare repository on disk is
// left in place; reclaiming it is an operator decision, not an API side
// effect.
func (s *Server) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteRepo(r.Context(), chi.URLParam(r, "repoID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
