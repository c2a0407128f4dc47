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

// Package agent implements the runner: a process that polls the server
// for reserved runs, clones the repo into a per-job workspace, executes
// the manifest steps through `sh -c`, streams their output back, and
// reports the terminal result with collected metrics.
//
// The agent never enforces its own concurrency limit. The server stops
// handing out jobs once the runner's active_jobs reaches its registered
// max_concurrency, so every job received can be executed immediately.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/eifl-dev/eifl/internal/config"
	internallog "github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/server/dispatch"
)

// Agent is the runner process: one poll loop, one heartbeat loop, and a
// goroutine per in-flight job.
type Agent struct {
	cfg    *config.AgentConfig
	client *Client
	logger *slog.Logger

	wg sync.WaitGroup
}

// New creates an agent from its configuration.
func New(cfg *config.AgentConfig, logger *slog.Logger) (*Agent, error) {
	client, err := NewClient(cfg.ServerURL, cfg.Token)
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:    cfg,
		client: client,
		logger: internallog.WithComponent(logger, "agent"),
	}, nil
}

// Run polls for work until ctx is cancelled, then waits for in-flight
// jobs to finish their terminal callbacks before returning.
func (a *Agent) Run(ctx context.Context) error {
	// First heartbeat doubles as a startup check: bad tokens and wrong
	// URLs fail here instead of in a silent poll loop.
	if err := a.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach server at %s: %w", a.cfg.ServerURL, err)
	}

	a.logger.Info("runner agent started",
		"server", a.cfg.ServerURL,
		"work_dir", a.cfg.WorkDir,
		slog.Duration("poll_interval", a.cfg.PollInterval))

	go a.heartbeatLoop(ctx)

	for {
		if ctx.Err() != nil {
			break
		}

		job, err := a.client.Poll(ctx)
		switch {
		case ctx.Err() != nil:
			// Cancelled mid-poll; fall through to drain.
		case err != nil:
			a.logger.Warn("poll failed", internallog.Error(err))
		case job != nil:
			a.startJob(ctx, job)
			// Poll again immediately: the server returns null once this
			// runner is at capacity.
			continue
		}

		if !sleepCtx(ctx, a.jitteredPollInterval()) {
			break
		}
	}

	a.logger.Info("runner agent stopping, draining jobs")
	a.wg.Wait()
	return nil
}

// startJob executes a job on its own goroutine.
func (a *Agent) startJob(ctx context.Context, job *dispatch.Job) {
	runner := &jobRunner{
		client:         a.client,
		job:            job,
		logger:         a.logger,
		workDir:        a.cfg.WorkDir,
		keepWorkspaces: a.cfg.KeepWorkspaces,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		runner.run(ctx)
	}()
}

// heartbeatLoop refreshes last_seen so the server keeps reporting this
// runner online between polls.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := a.client.Heartbeat(hbCtx); err != nil {
				a.logger.Warn("heartbeat failed", internallog.Error(err))
			}
			cancel()
		}
	}
}

// jitteredPollInterval spreads polls out so a fleet of runners started
// together does not thundering-herd the server.
func (a *Agent) jitteredPollInterval() time.Duration {
	d := float64(a.cfg.PollInterval)
	return time.Duration(d + rand.Float64()*d*0.2)
}

// sleepCtx waits for d or cancellation; it reports false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
