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

	"github.com/eifl-dev/eifl/internal/server/backend"
)

// handleGithubWebhook accepts GitHub push deliveries for mirrored repos.
// Signature verification, event filtering, and repo matching all live in the
// webhook handler; this endpoint only shuttles bytes and shapes the response.
// GitHub retries on non-2xx, so ignored events still answer 200.
func (s *Server) handleGithubWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Webhook == nil {
		errorJSON(w, "github webhook support is not configured", "WEBHOOK_NOT_CONFIGURED", http.StatusServiceUnavailable)
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

	runs, err := s.Webhook.Handle(r.Context(), r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	if runs == nil {
		runs = []*backend.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": len(runs),
	})
}
