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

// eifld is the EIFL server daemon. It also doubles as the post-receive
// hook client: bare repos initialized by the server exec
// "eifld hook post-receive", which forwards the pushed refs to the
// running daemon.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eifl-dev/eifl/internal/config"
	"github.com/eifl-dev/eifl/internal/git"
	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/server"
	"github.com/eifl-dev/eifl/pkg/httpclient"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Repo hooks invoke "eifld hook post-receive"; everything else is
	// the daemon. Dispatch before flag parsing so hook invocations
	// never trip over daemon flags.
	if len(os.Args) > 1 && os.Args[1] == "hook" {
		os.Exit(runHook(os.Args[2:]))
	}

	var (
		configPath  = flag.String("config", "", "Path to config file")
		listenAddr  = flag.String("listen", "", "Address to listen on")
		dataDir     = flag.String("data-dir", "", "Data directory (also relocates repos dir and database)")
		publicURL   = flag.String("public-url", "", "Externally reachable base URL")
		noScheduler = flag.Bool("no-scheduler", false, "Disable the cron scheduler")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("eifld %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}
	if *dataDir != "" {
		cfg.Server.DataDir = *dataDir
		cfg.Server.ReposDir = filepath.Join(*dataDir, "repos")
		cfg.Server.DBPath = filepath.Join(*dataDir, "eifl.db")
	}
	if *publicURL != "" {
		cfg.Server.PublicURL = *publicURL
	}
	if *noScheduler {
		cfg.Scheduler.Disabled = true
	}

	srv, err := server.New(cfg, server.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
	if err != nil {
		logger.Error("Failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// runHook forwards the ref records git writes to the post-receive hook's
// stdin to the daemon's hook endpoint. It always exits zero on delivery
// problems: a CI outage must never make a push fail.
func runHook(args []string) int {
	if len(args) < 1 || args[0] != "post-receive" {
		fmt.Fprintln(os.Stderr, "usage: eifld hook post-receive")
		return 2
	}

	serverURL := os.Getenv("EIFL_SERVER_URL")
	hookToken := os.Getenv("EIFL_HOOK_TOKEN")
	repoPath := os.Getenv("EIFL_REPO_PATH")
	if serverURL == "" || repoPath == "" {
		fmt.Fprintln(os.Stderr, "eifl: hook environment incomplete, not triggering")
		return 0
	}

	changes, err := git.ParseReceivePack(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "eifl: %v\n", err)
		return 0
	}
	if len(changes) == 0 {
		return 0
	}

	payload, err := json.Marshal(struct {
		RepoPath string       `json:"repoPath"`
		Changes  []git.Change `json:"changes"`
	}{repoPath, changes})
	if err != nil {
		fmt.Fprintf(os.Stderr, "eifl: %v\n", err)
		return 0
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = 10 * time.Second
	httpCfg.RetryAttempts = 0
	httpCfg.UserAgent = "eifl-hook/1.0"
	client, err := httpclient.New(httpCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "eifl: %v\n", err)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serverURL+"/api/v1/internal/hooks/post-receive", bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "eifl: %v\n", err)
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-EIFL-Hook-Token", hookToken)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "eifl: server unreachable, push accepted without trigger: %v\n", err)
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "eifl: trigger rejected (status %d)\n", resp.StatusCode)
		return 0
	}

	var result struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.Total > 0 {
		// Stdout reaches the pusher's terminal as "remote:" lines.
		fmt.Printf("eifl: queued %d run(s)\n", result.Total)
	}
	return 0
}
