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

// eifl-runner is the runner agent. It polls an EIFL server for jobs,
// executes their steps in throwaway workspaces, and streams results back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eifl-dev/eifl/internal/agent"
	"github.com/eifl-dev/eifl/internal/config"
	"github.com/eifl-dev/eifl/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Path to config file")
		serverURL      = flag.String("server", "", "EIFL server base URL")
		token          = flag.String("token", "", "Runner token")
		workDir        = flag.String("work-dir", "", "Directory for per-job workspaces")
		pollInterval   = flag.Duration("poll-interval", 0, "Delay between polls when idle")
		keepWorkspaces = flag.Bool("keep-workspaces", false, "Keep job workspaces after completion (debugging)")
		showVersion    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("eifl-runner %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	// Flags flow through the same override channel the environment uses,
	// so LoadAgent's required-field checks see them.
	if *serverURL != "" {
		os.Setenv("EIFL_SERVER_URL", *serverURL)
	}
	if *token != "" {
		os.Setenv("EIFL_RUNNER_TOKEN", *token)
	}

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if *workDir != "" {
		cfg.WorkDir = *workDir
	}
	if *pollInterval > 0 {
		cfg.PollInterval = *pollInterval
	}
	if *keepWorkspaces {
		cfg.KeepWorkspaces = true
	}

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to create agent", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup signal handling for graceful drain
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, draining jobs...\n", sig)
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				logger.Error("Agent error during drain", slog.Any("error", err))
				os.Exit(1)
			}
		case sig := <-sigCh:
			fmt.Printf("\nReceived second signal %v, exiting immediately\n", sig)
			os.Exit(1)
		case <-time.After(10 * time.Minute):
			logger.Error("Drain timed out")
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Agent error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
