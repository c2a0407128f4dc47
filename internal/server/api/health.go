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

	"github.com/eifl-dev/eifl/internal/server/metrics"
	"github.com/eifl-dev/eifl/schemas"
)

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// handleHealth reports liveness. The store ping catches a wedged or
// deleted database file; anything else that can fail will fail a real
// request anyway.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Version: s.Version})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.Version})
}

// metricsHandler exposes the Prometheus registry.
func (s *Server) metricsHandler() http.Handler {
	return metrics.Handler()
}

// handleManifestSchema serves the embedded JSON Schema for .eifl.json so
// editors and the CLI can validate manifests against the running server's
// version.
func (s *Server) handleManifestSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(schemas.ManifestSchema()); err != nil {
		s.Logger.Error("failed to write manifest schema", "error", err)
	}
}
