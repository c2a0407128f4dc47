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

// Secrets are exposed at both scopes through the same handlers:
// /api/v1/projects/{projectID}/secrets and /api/v1/repos/{repoID}/secrets.
// Responses never include values; a secret is write-only through the API
// and readable only by dispatched jobs.

// secretValueRequest is the JSON body for creating or updating a secret.
type secretValueRequest struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

// resolveScopeOwner 404s when the project or repo the secret hangs off
// does not exist.
func (s *Server) resolveScopeOwner(r *http.Request, scope backend.SecretScope, param string) (string, error) {
	id := chi.URLParam(r, param)
	var err error
	if scope == backend.ScopeProject {
		_, err = s.Store.GetProject(r.Context(), id)
	} else {
		_, err = s.Store.GetRepo(r.Context(), id)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Server) scopedSecretList(scope backend.SecretScope, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeID, err := s.resolveScopeOwner(r, scope, param)
		if err != nil {
			writeError(w, err)
			return
		}

		list, err := s.Secrets.List(r.Context(), scope, scopeID)
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []*backend.Secret{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"secrets": list,
			"total":   len(list),
		})
	}
}

func (s *Server) scopedSecretCreate(scope backend.SecretScope, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeID, err := s.resolveScopeOwner(r, scope, param)
		if err != nil {
			writeError(w, err)
			return
		}

		var req secretValueRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		secret, err := s.Secrets.Create(r.Context(), scope, scopeID, req.Name, req.Value)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, secret)
	}
}

func (s *Server) scopedSecretUpdate(scope backend.SecretScope, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeID, err := s.resolveScopeOwner(r, scope, param)
		if err != nil {
			writeError(w, err)
			return
		}

		var req secretValueRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		name := chi.URLParam(r, "name")
		if err := s.Secrets.Update(r.Context(), scope, scopeID, name, req.Value); err != nil {
			writeError(w, err)
			return
		}

		secret, err := s.Secrets.Get(r.Context(), scope, scopeID, name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, secret)
	}
}

func (s *Server) scopedSecretDelete(scope backend.SecretScope, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeID, err := s.resolveScopeOwner(r, scope, param)
		if err != nil {
			writeError(w, err)
			return
		}

		if err := s.Secrets.Delete(r.Context(), scope, scopeID, chi.URLParam(r, "name")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
