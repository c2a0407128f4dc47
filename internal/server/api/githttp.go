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
	"net/http/cgi"
	"os/exec"
)

// gitHTTPHandler serves the smart HTTP protocol for hosted repos by
// delegating to git http-backend. Only fetch traffic works over this
// transport: InitBare disables http.receivepack on every hosted repo, so
// pushes must arrive over SSH or the local filesystem where the
// post-receive hook fires. Runner tokens are checked per request since
// clone URLs embed them as basic-auth credentials.
func (s *Server) gitHTTPHandler() http.Handler {
	gitPath, lookErr := exec.LookPath("git")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lookErr != nil {
			errorJSON(w, "git is not available on the server", "GIT_UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}

		_, token, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="eifl"`)
			errorJSON(w, "missing credentials", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		if _, err := s.Runners.AuthenticateToken(r.Context(), token); err != nil {
			writeError(w, err)
			return
		}

		h := &cgi.Handler{
			Path: gitPath,
			Args: []string{"http-backend"},
			Dir:  s.Git.Root(),
			Env: []string{
				"GIT_PROJECT_ROOT=" + s.Git.Root(),
				"GIT_HTTP_EXPORT_ALL=1",
			},
		}
		http.StripPrefix("/git", h).ServeHTTP(w, r)
	})
}
