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

	"github.com/eifl-dev/eifl/internal/git"
	"github.com/eifl-dev/eifl/internal/server/auth"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/metrics"
)

// hookTokenHeader carries the shared secret the post-receive hook presents.
// The value is derived from the JWT signing secret, so rotating that secret
// invalidates every installed hook at once.
const hookTokenHeader = "X-EIFL-Hook-Token"

type postReceiveRequest struct {
	RepoPath string       `json:"repoPath"`
	Changes  []git.Change `json:"changes"`
}

// handlePostReceive ingests a batch of ref updates from a bare repository's
// post-receive hook. The hook binary forwards stdin verbatim, one request per
// push, so a multi-ref push lands as a single batch and partial failures
// inside the batch do not abort the rest.
func (s *Server) handlePostReceive(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyHookToken(r.Header.Get(hookTokenHeader), s.HookToken); err != nil {
		metrics.RecordHookDelivery("unauthorized")
		writeError(w, err)
		return
	}

	var req postReceiveRequest
	if !decodeJSON(w, r, &req) {
		metrics.RecordHookDelivery("invalid")
		return
	}
	if req.RepoPath == "" {
		metrics.RecordHookDelivery("invalid")
		errorJSON(w, "repoPath is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	runs, err := s.Trigger.HandlePush(r.Context(), req.RepoPath, req.Changes)
	if err != nil {
		metrics.RecordHookDelivery("invalid")
		writeError(w, err)
		return
	}

	metrics.RecordHookDelivery("accepted")
	if runs == nil {
		runs = []*backend.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": len(runs),
	})
}
