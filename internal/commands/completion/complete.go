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

package completion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/client"
	"github.com/eifl-dev/eifl/internal/commands/shared"
)

// Completion queries must stay fast enough not to make the shell feel
// broken, so server lookups get a short timeout and a small cache.
const (
	runCacheTTL   = 2 * time.Second
	serverTimeout = 500 * time.Millisecond
	runCacheSize  = 25
)

type runCacheEntry struct {
	completions []string
	expiresAt   time.Time
}

var (
	runCache   map[bool]*runCacheEntry
	runCacheMu sync.RWMutex
)

// CompleteRunIDs provides dynamic completion for run IDs, newest first.
func CompleteRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return fetchRunCompletions(false), cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteActiveRunIDs completes only pending and running runs. Used by
// `run cancel`, where terminal runs would be rejected anyway.
func CompleteActiveRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return fetchRunCompletions(true), cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteRunStatus provides completion for --status flag values.
func CompleteRunStatus(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		statuses := []string{
			"pending\tRun is queued",
			"running\tRun is currently executing",
			"success\tRun finished with every step succeeding",
			"failed\tRun had a failing step or baseline regression",
			"cancelled\tRun was cancelled",
		}
		return statuses, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteTriggerSource provides completion for --trigger flag values.
func CompleteTriggerSource(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		triggers := []string{
			"push\tTriggered by a push to a hosted repo",
			"schedule\tTriggered by a cron schedule",
			"manual\tTriggered via the API or CLI",
			"github-push\tTriggered by a GitHub webhook",
		}
		return triggers, cobra.ShellCompDirectiveNoFileComp
	})
}

// fetchRunCompletions lists recent runs, caching briefly so repeated tab
// presses do not hammer the server. Errors degrade to no completions.
func fetchRunCompletions(activeOnly bool) []string {
	runCacheMu.RLock()
	if entry, ok := runCache[activeOnly]; ok && time.Now().Before(entry.expiresAt) {
		defer runCacheMu.RUnlock()
		return entry.completions
	}
	runCacheMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), serverTimeout)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return nil
	}

	opts := client.RunListOptions{Limit: runCacheSize}
	if activeOnly {
		opts.Status = "running"
	}
	list, err := c.ListRuns(ctx, opts)
	if err != nil {
		return nil
	}

	completions := make([]string, 0, len(list.Runs))
	for _, r := range list.Runs {
		completions = append(completions, fmt.Sprintf("%s\t%s (%s)", r.ID, r.TriggeredBy, r.Status))
	}
	if activeOnly {
		// Pending runs are cancellable too.
		opts.Status = "pending"
		if pending, err := c.ListRuns(ctx, opts); err == nil {
			for _, r := range pending.Runs {
				completions = append(completions, fmt.Sprintf("%s\t%s (%s)", r.ID, r.TriggeredBy, r.Status))
			}
		}
	}

	runCacheMu.Lock()
	if runCache == nil {
		runCache = make(map[bool]*runCacheEntry)
	}
	runCache[activeOnly] = &runCacheEntry{
		completions: completions,
		expiresAt:   time.Now().Add(runCacheTTL),
	}
	runCacheMu.Unlock()

	return completions
}

// SafeCompletionWrapper wraps completion functions with panic recovery.
// A crashing completer must never break the user's shell session.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}
