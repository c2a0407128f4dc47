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

// Package server assembles the eifld daemon: the SQLite store, the git
// adapter over the repo root, the trigger/dispatch/lifecycle services,
// the scheduler, and the HTTP API, with graceful shutdown in reverse
// dependency order.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eifl-dev/eifl/internal/config"
	"github.com/eifl-dev/eifl/internal/git"
	internallog "github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/secrets"
	"github.com/eifl-dev/eifl/internal/server/api"
	"github.com/eifl-dev/eifl/internal/server/auth"
	"github.com/eifl-dev/eifl/internal/server/backend/sqlite"
	"github.com/eifl-dev/eifl/internal/server/dispatch"
	"github.com/eifl-dev/eifl/internal/server/github"
	"github.com/eifl-dev/eifl/internal/server/lifecycle"
	"github.com/eifl-dev/eifl/internal/server/scheduler"
	"github.com/eifl-dev/eifl/internal/server/trigger"
	"github.com/eifl-dev/eifl/internal/server/webhook"
	"github.com/eifl-dev/eifl/internal/tracing"
)

// Options contains server options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Server is the eifld daemon: every long-lived component plus the HTTP
// listener that fronts them.
type Server struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store     *sqlite.Store
	git       *git.Adapter
	secrets   *secrets.Service
	trigger   *trigger.Service
	lifecycle *lifecycle.Engine
	scheduler *scheduler.Scheduler

	httpServer *http.Server
	ln         net.Listener
	tracer     *tracing.Provider
	pidFile    string

	mu      sync.Mutex
	started bool
}

// New builds the daemon from configuration. Components that need
// credentials (secret encryption, GitHub status posting, webhook
// verification) come up disabled rather than failing when their
// credentials are absent; the API reports them as unconfigured.
func New(cfg *config.Config, opts Options) (*Server, error) {
	logger := internallog.New(&internallog.Config{
		Level:  cfg.Log.Level,
		Format: internallog.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
	logger = internallog.WithComponent(logger, "server")

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Server.ReposDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repos dir: %w", err)
	}

	store, err := sqlite.New(sqlite.Config{Path: cfg.Server.DBPath, WAL: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// The post-receive hook re-executes this binary, so the hook line
	// has to name the absolute path of the running executable.
	executable, err := os.Executable()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}

	hookToken := cfg.Auth.HookToken
	if hookToken == "" {
		hookToken = auth.DeriveHookToken(cfg.Auth.JWTSecret)
	}

	gitAdapter := git.New(cfg.Server.ReposDir, git.HookConfig{
		ExecutablePath: executable,
		ServerURL:      serverURL(cfg),
		HookToken:      hookToken,
	})

	// A missing encryption key leaves the secret service in place but
	// unconfigured: reads and writes return 503 until a key is set.
	var cipher *secrets.Cipher
	if cfg.Secrets.EncryptionKey != "" {
		cipher, err = secrets.NewCipher(cfg.Secrets.EncryptionKey)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to init secret cipher: %w", err)
		}
	} else {
		logger.Warn("no secret encryption key configured, secret endpoints disabled")
	}
	secretSvc := secrets.NewService(store, cipher, logger)

	var notifier *github.Notifier
	if cfg.GitHub.PostStatuses {
		notifier = github.New(store, github.Config{
			Token:     cfg.GitHub.Token,
			PublicURL: cfg.Server.PublicURL,
		}, logger)
		if notifier == nil {
			logger.Warn("github.post_statuses set without github.token, status posting disabled")
		}
	}

	// The notifier is optional. Assign through a local so a nil
	// *Notifier never ends up as a non-nil interface value inside
	// trigger or lifecycle.
	var trigNotifier trigger.StatusNotifier
	var runNotifier lifecycle.StatusNotifier
	if notifier != nil {
		trigNotifier = notifier
		runNotifier = notifier
	}

	trigSvc := trigger.NewService(store, gitAdapter, trigNotifier, logger)
	engine := lifecycle.NewEngine(store, runNotifier, logger)
	dispatcher := dispatch.New(store, secretSvc, cfg.GitHub.Token, logger)

	var sched *scheduler.Scheduler
	if !cfg.Scheduler.Disabled {
		sched = scheduler.New(store, gitAdapter, trigSvc, cfg.Scheduler.TickInterval, logger)
	}

	var hooks *webhook.Handler
	if cfg.GitHub.WebhookSecret != "" {
		hooks = webhook.New(store, trigSvc, cfg.GitHub.WebhookSecret, logger)
	}

	jwt := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	runners := auth.NewRunners(store)

	router := api.NewRouter(&api.Server{
		Store:      store,
		Trigger:    trigSvc,
		Lifecycle:  engine,
		Dispatcher: dispatcher,
		Secrets:    secretSvc,
		Git:        gitAdapter,
		Webhook:    hooks,
		JWT:        jwt,
		Runners:    runners,
		HookToken:  hookToken,
		Version:    opts.Version,
		Logger:     logger,
	})

	return &Server{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		store:     store,
		git:       gitAdapter,
		secrets:   secretSvc,
		trigger:   trigSvc,
		lifecycle: engine,
		scheduler: sched,
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}, nil
}

// serverURL is the base URL repo hooks and status links point at.
// PublicURL wins; otherwise the listen address is assumed reachable
// from the machines that need it.
func serverURL(cfg *config.Config) string {
	if cfg.Server.PublicURL != "" {
		return cfg.Server.PublicURL
	}
	return "http://" + cfg.Server.Listen
}

// Start brings the daemon up and blocks until the context is cancelled
// or the listener fails. Call Shutdown to stop it cleanly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	tracer, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        s.cfg.Tracing.Enabled,
		Exporter:       s.cfg.Tracing.Exporter,
		Endpoint:       s.cfg.Tracing.Endpoint,
		Insecure:       s.cfg.Tracing.Insecure,
		SampleRate:     s.cfg.Tracing.SampleRate,
		ServiceName:    "eifld",
		ServiceVersion: s.opts.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	s.tracer = tracer

	if s.cfg.Server.PIDFile != "" {
		if err := s.writePIDFile(); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		s.pidFile = s.cfg.Server.PIDFile
	}

	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Listen, err)
	}
	s.ln = ln

	if s.scheduler != nil {
		s.scheduler.Start(ctx)
		s.logger.Info("scheduler started",
			slog.Duration("tick_interval", s.cfg.Scheduler.TickInterval))
	}

	s.logger.Info("eifld starting",
		slog.String("version", s.opts.Version),
		slog.String("listen_addr", ln.Addr().String()),
		slog.String("data_dir", s.cfg.Server.DataDir))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the daemon: scheduler first so no new runs appear,
// then the HTTP server with the configured grace period, then tracing
// and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("graceful shutdown initiated")

	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	if s.httpServer != nil {
		s.httpServer.SetKeepAlivesEnabled(false)
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", internallog.Error(err))
		}
	}

	if s.tracer != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.tracer.Shutdown(flushCtx); err != nil {
			s.logger.Warn("failed to flush traces", internallog.Error(err))
		}
	}

	if s.pidFile != "" {
		if err := os.Remove(s.pidFile); err != nil && !os.IsNotExist(err) {
			s.logger.Error("failed to remove PID file",
				internallog.Error(err), slog.String("path", s.pidFile))
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close store", internallog.Error(err))
	}

	s.started = false
	s.logger.Info("server stopped")
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (s *Server) writePIDFile() error {
	dir := filepath.Dir(s.cfg.Server.PIDFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.cfg.Server.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600)
}
