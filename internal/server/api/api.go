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

// Package api provides the HTTP facade of the EIFL server. All JSON
// endpoints are mounted under /api/v1; admin routes require a JWT, runner
// routes a runner token, and the hook/webhook ingresses their own
// credentials. Git fetch traffic passes through under /git/.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eifl-dev/eifl/internal/git"
	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/secrets"
	"github.com/eifl-dev/eifl/internal/server/auth"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/dispatch"
	"github.com/eifl-dev/eifl/internal/server/lifecycle"
	"github.com/eifl-dev/eifl/internal/server/trigger"
	"github.com/eifl-dev/eifl/internal/server/webhook"
	"github.com/eifl-dev/eifl/internal/tracing"
)

// maxJSONBodySize caps JSON request bodies at 1 MiB. Step output arrives
// chunked well below this.
const maxJSONBodySize = 1 << 20

// Server holds the dependencies of all API handlers.
type Server struct {
	Store      backend.Store
	Trigger    *trigger.Service
	Lifecycle  *lifecycle.Engine
	Dispatcher *dispatch.Dispatcher
	Secrets    *secrets.Service
	Git        *git.Adapter
	Webhook    *webhook.Handler
	JWT        *auth.JWT
	Runners    *auth.Runners

	// HookToken authenticates post-receive deliveries from repo hooks.
	HookToken string

	// CORSOrigins lists allowed browser origins. Empty disables CORS
	// headers entirely (API-only deployments).
	CORSOrigins []string

	// Version is reported by /healthz.
	Version string

	Logger *slog.Logger
}

// NewRouter assembles the chi router with every route mounted.
func NewRouter(srv *Server) chi.Router {
	if srv.Logger == nil {
		srv.Logger = slog.Default()
	}
	srv.Logger = log.WithComponent(srv.Logger, "api")

	r := chi.NewRouter()

	if len(srv.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   srv.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", tracing.HeaderCorrelationID, tracing.HeaderRequestID},
			ExposedHeaders:   []string{tracing.HeaderCorrelationID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(securityHeaders)
	r.Use(tracing.CorrelationMiddleware)
	r.Use(middleware.RealIP)
	r.Use(srv.requestLogger)
	r.Use(middleware.Recoverer)

	// Unauthenticated surface.
	r.Get("/healthz", srv.handleHealth)
	r.Method(http.MethodGet, "/metrics", srv.metricsHandler())

	// Git fetch passthrough for runners and local clones.
	if srv.Git != nil {
		r.Handle("/git/*", srv.gitHTTPHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitJSONBody)

		r.Post("/auth/login", srv.handleLogin)
		r.Get("/schema/manifest", srv.handleManifestSchema)

		// Hook and webhook ingresses carry their own credentials.
		r.Post("/internal/hooks/post-receive", srv.handlePostReceive)
		r.Post("/webhooks/github", srv.handleGithubWebhook)

		// Runner protocol, authenticated by runner token.
		r.Route("/runner", func(r chi.Router) {
			r.Use(srv.requireRunner)
			r.Get("/poll", srv.handleRunnerPoll)
			r.Post("/step", srv.handleRunnerStep)
			r.Post("/output", srv.handleRunnerOutput)
			r.Post("/complete", srv.handleRunnerComplete)
			r.Post("/heartbeat", srv.handleRunnerHeartbeat)
		})

		// Admin surface, authenticated by JWT.
		r.Group(func(r chi.Router) {
			r.Use(srv.requireAdmin)

			r.Get("/projects", srv.handleListProjects)
			r.Post("/projects", srv.handleCreateProject)
			r.Get("/projects/{projectID}", srv.handleGetProject)
			r.Delete("/projects/{projectID}", srv.handleDeleteProject)
			r.Get("/projects/{projectID}/repos", srv.handleListRepos)
			r.Post("/projects/{projectID}/repos", srv.handleCreateRepo)
			r.Get("/projects/{projectID}/secrets", srv.scopedSecretList(backend.ScopeProject, "projectID"))
			r.Post("/projects/{projectID}/secrets", srv.scopedSecretCreate(backend.ScopeProject, "projectID"))
			r.Put("/projects/{projectID}/secrets/{name}", srv.scopedSecretUpdate(backend.ScopeProject, "projectID"))
			r.Delete("/projects/{projectID}/secrets/{name}", srv.scopedSecretDelete(backend.ScopeProject, "projectID"))

			r.Get("/repos/{repoID}", srv.handleGetRepo)
			r.Delete("/repos/{repoID}", srv.handleDeleteRepo)
			r.Get("/repos/{repoID}/pipelines", srv.handleListPipelines)
			r.Post("/repos/{repoID}/pipelines", srv.handleApplyPipeline)
			r.Get("/repos/{repoID}/secrets", srv.scopedSecretList(backend.ScopeRepo, "repoID"))
			r.Post("/repos/{repoID}/secrets", srv.scopedSecretCreate(backend.ScopeRepo, "repoID"))
			r.Put("/repos/{repoID}/secrets/{name}", srv.scopedSecretUpdate(backend.ScopeRepo, "repoID"))
			r.Delete("/repos/{repoID}/secrets/{name}", srv.scopedSecretDelete(backend.ScopeRepo, "repoID"))

			r.Get("/pipelines/{pipelineID}", srv.handleGetPipeline)
			r.Delete("/pipelines/{pipelineID}", srv.handleDeletePipeline)
			r.Post("/pipelines/{pipelineID}/trigger", srv.handleTriggerPipeline)
			r.Get("/pipelines/{pipelineID}/baselines", srv.handleListBaselines)
			r.Put("/pipelines/{pipelineID}/baselines/{key}", srv.handleSetBaseline)
			r.Delete("/pipelines/{pipelineID}/baselines/{key}", srv.handleDeleteBaseline)
			r.Get("/pipelines/{pipelineID}/metrics/{key}", srv.handleMetricHistory)

			r.Get("/runs", srv.handleListRuns)
			r.Get("/runs/{runID}", srv.handleGetRun)
			r.Post("/runs/{runID}/cancel", srv.handleCancelRun)
			r.Post("/runs/{runID}/baselines", srv.handleBaselinesFromRun)
			r.Get("/runs/{runID}/metrics", srv.handleListRunMetrics)
			r.Get("/steps/{stepID}/output", srv.handleStepOutput)

			r.Get("/runners", srv.handleListRunners)
			r.Post("/runners", srv.handleRegisterRunner)
			r.Get("/runners/{runnerID}", srv.handleGetRunner)
			r.Delete("/runners/{runnerID}", srv.handleDeleteRunner)
		})
	})

	return r
}
