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

package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/client"
	"github.com/eifl-dev/eifl/internal/commands/shared"
	"github.com/eifl-dev/eifl/internal/server/backend"
)

// pollInterval is how often `trigger --wait` checks the run status.
const pollInterval = 2 * time.Second

// NewCommand creates the pipeline command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "pipeline",
		Annotations: map[string]string{
			"group": "resources",
		},
		Short: "Manage pipelines",
		Long: `Commands for applying, triggering, and inspecting pipelines.

A pipeline is created or updated by applying a manifest file (` + "`apply`" + `);
the manifest's "name" field identifies the pipeline within its repo, so
re-applying with the same name updates it in place.

See also: eifl manifest validate, eifl run list`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newApplyCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newDeleteCommand())
	cmd.AddCommand(newTriggerCommand())
	cmd.AddCommand(newMetricsCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	var repoID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines in a repo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipelineList(repoID)
		},
	}

	cmd.Flags().StringVar(&repoID, "repo", "", "Repo ID (required)")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}

func newApplyCommand() *cobra.Command {
	var repoID string
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update a pipeline from a manifest file",
		Long: `Apply a pipeline manifest to a repo. The manifest is validated
server-side; a pipeline with the manifest's name is created if absent
and replaced if present.`,
		Example: `  # Example 1: Apply the manifest in the current directory
  eifl pipeline apply --repo 9c2a...

  # Example 2: Apply a specific file
  eifl pipeline apply --repo 9c2a... -f build/nightly.eifl.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipelineApply(repoID, file)
		},
	}

	cmd.Flags().StringVar(&repoID, "repo", "", "Repo ID (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Manifest file or directory containing one (default: current directory)")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <pipeline-id>",
		Short: "Show pipeline details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipelineGet(args[0])
		},
	}
}

func newDeleteCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <pipeline-id>",
		Short: "Delete a pipeline",
		Long:  `Delete a pipeline and its run history.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipelineDelete(args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func newTriggerCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "trigger <pipeline-id>",
		Short: "Queue a manual run of a pipeline",
		Long: `Queue a run of the pipeline against the head of the repo's default
branch. With --wait, block until the run finishes and exit non-zero if
it did not succeed.`,
		Example: `  # Example 1: Fire and forget
  eifl pipeline trigger 3e7b...

  # Example 2: Block until the run finishes (CI gating)
  eifl pipeline trigger 3e7b... --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipelineTrigger(args[0], wait)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run to finish; exit non-zero on failure")

	return cmd
}

func newMetricsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "metrics <pipeline-id> <key>",
		Short: "Show the history of a metric across runs",
		Example: `  # Example 1: Last 20 binary-size measurements
  eifl pipeline metrics 3e7b... binary_size_bytes

  # Example 2: Values only, for plotting
  eifl pipeline metrics 3e7b... binary_size_bytes --jq '.[].value'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipelineMetrics(args[0], args[1], limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of values to show")

	return cmd
}

func pipelineList(repoID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	pipelines, err := c.ListPipelines(ctx, repoID)
	if err != nil {
		return shared.FromAPIError("failed to list pipelines", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(pipelines)
	}

	if len(pipelines) == 0 {
		fmt.Println("No pipelines found")
		return nil
	}

	fmt.Println("ID                                   NAME                 NEXT RUN")
	fmt.Println("------------------------------------ -------------------- -------------------")
	for _, p := range pipelines {
		nextRun := "-"
		if p.NextRunAt != nil {
			nextRun = p.NextRunAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-36s %-20s %s\n", p.ID, truncate(p.Name, 20), nextRun)
	}

	return nil
}

func pipelineApply(repoID, file string) error {
	path, err := shared.ResolveManifestPath(file)
	if err != nil {
		return shared.NewUsageError(err.Error(), err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	p, err := c.ApplyPipeline(ctx, repoID, data)
	if err != nil {
		return shared.FromAPIError("failed to apply pipeline", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(p)
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Pipeline %q applied (%s)", p.Name, p.ID)))
	if p.NextRunAt != nil {
		fmt.Printf("Next scheduled run: %s\n", p.NextRunAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func pipelineGet(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	p, err := c.GetPipeline(ctx, id)
	if err != nil {
		return shared.FromAPIError("failed to get pipeline", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(p)
	}

	fmt.Printf("ID:       %s\n", p.ID)
	fmt.Printf("Repo:     %s\n", p.RepoID)
	fmt.Printf("Name:     %s\n", p.Name)
	if p.NextRunAt != nil {
		fmt.Printf("Next run: %s\n", p.NextRunAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Created:  %s\n", p.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("\nManifest:\n%s\n", p.Config)

	return nil
}

func pipelineDelete(id string, yes bool) error {
	confirmed, err := shared.Confirm(fmt.Sprintf("Delete pipeline %s and its run history?", id), yes)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("Aborted")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if err := c.DeletePipeline(ctx, id); err != nil {
		return shared.FromAPIError("failed to delete pipeline", err)
	}

	fmt.Printf("Pipeline %s deleted\n", id)
	return nil
}

func pipelineTrigger(id string, wait bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	run, err := c.TriggerPipeline(ctx, id)
	if err != nil {
		return shared.FromAPIError("failed to trigger pipeline", err)
	}

	if !wait {
		if shared.GetJSON() {
			return shared.EmitJSON(run)
		}
		fmt.Println(shared.RenderOK(fmt.Sprintf("Run %s queued", run.ID)))
		fmt.Printf("Follow it with: eifl run get %s\n", run.ID)
		return nil
	}

	final, err := waitForRun(c, run.ID)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(final)
	}

	switch final.Status {
	case backend.RunSuccess:
		fmt.Println(shared.RenderOK(fmt.Sprintf("Run %s succeeded", final.ID)))
		return nil
	case backend.RunCancelled:
		fmt.Println(shared.RenderWarn(fmt.Sprintf("Run %s was cancelled", final.ID)))
	default:
		fmt.Println(shared.RenderError(fmt.Sprintf("Run %s failed", final.ID)))
	}
	return &shared.ExitError{
		Code:       shared.ExitFailure,
		Message:    fmt.Sprintf("run finished with status %s", final.Status),
		Suggestion: fmt.Sprintf("Inspect the steps with 'eifl run get %s'.", final.ID),
	}
}

// waitForRun polls until the run reaches a terminal status. Each poll
// gets its own timeout; the wait itself is unbounded because runs can
// legitimately take hours.
func waitForRun(c *client.Client, runID string) (*backend.Run, error) {
	sp := shared.NewSpinner()
	sp.Start(fmt.Sprintf("Waiting for run %s", runID))
	defer sp.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		detail, err := c.GetRun(ctx, runID)
		cancel()
		if err != nil {
			return nil, shared.FromAPIError("failed to poll run", err)
		}
		if detail.Run.Status.Terminal() {
			return detail.Run, nil
		}
	}
	return nil, nil
}

func pipelineMetrics(pipelineID, key string, limit int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	metrics, err := c.MetricHistory(ctx, pipelineID, key, limit)
	if err != nil {
		return shared.FromAPIError("failed to fetch metric history", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(metrics)
	}

	if len(metrics) == 0 {
		fmt.Println("No metrics found")
		return nil
	}

	fmt.Println("RUN                                  VALUE            UNIT     RECORDED")
	fmt.Println("------------------------------------ ---------------- -------- -------------------")
	for _, m := range metrics {
		fmt.Printf("%-36s %-16.4g %-8s %s\n",
			m.RunID,
			m.Value,
			truncate(m.Unit, 8),
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
