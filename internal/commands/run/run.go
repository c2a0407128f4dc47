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

// Package run implements the run command group: listing and inspecting
// runs, cancelling them, and fetching step output and metrics.
package run

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/cli/timeline"
	"github.com/eifl-dev/eifl/internal/client"
	"github.com/eifl-dev/eifl/internal/commands/completion"
	"github.com/eifl-dev/eifl/internal/commands/shared"
	"github.com/eifl-dev/eifl/internal/server/backend"
)

// NewCommand creates the run command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "run",
		Annotations: map[string]string{
			"group": "runs",
		},
		Short: "Inspect and manage runs",
		Long: `Commands for listing runs, inspecting their steps, cancelling them,
and fetching step output and recorded metrics.

See also: eifl pipeline trigger, eifl baseline from-run`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newCancelCommand())
	cmd.AddCommand(newLogsCommand())
	cmd.AddCommand(newMetricsCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	var opts client.RunListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Example: `  # Example 1: Recent runs across all pipelines
  eifl run list

  # Example 2: Failed runs of one pipeline
  eifl run list --pipeline 3e7b... --status failed

  # Example 3: Page through history
  eifl run list --limit 50 --offset 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "Filter by pipeline ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (pending, running, success, failed, cancelled)")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", "", "Filter by trigger source (push, schedule, manual, github-push)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum number of runs to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of runs to skip")

	_ = cmd.RegisterFlagCompletionFunc("status", completion.CompleteRunStatus)
	_ = cmd.RegisterFlagCompletionFunc("trigger", completion.CompleteTriggerSource)

	return cmd
}

func newGetCommand() *cobra.Command {
	var showTimeline bool

	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a run and its steps",
		Example: `  # Example 1: Step table
  eifl run get 5a9e...

  # Example 2: Duration bars per step
  eifl run get 5a9e... --timeline`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(args[0], showTimeline)
		},
	}

	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "Render step durations as a timeline")

	return cmd
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "cancel <run-id>",
		Short:             "Cancel a pending or running run",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteActiveRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(args[0])
		},
	}
}

func newLogsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <step-id>",
		Short: "Print the captured output of a step",
		Long: `Print a step's combined stdout and stderr. For running steps this is
the output streamed so far; re-run to poll.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(args[0])
		},
	}
}

func newMetricsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <run-id>",
		Short: "Show metrics recorded by a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(args[0])
		},
	}
}

func runList(opts client.RunListOptions) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	list, err := c.ListRuns(ctx, opts)
	if err != nil {
		return shared.FromAPIError("failed to list runs", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(list)
	}

	if len(list.Runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Println("ID                                   STATUS     TRIGGER      BRANCH       COMMIT   CREATED")
	fmt.Println("------------------------------------ ---------- ------------ ------------ -------- -------------------")
	for _, r := range list.Runs {
		fmt.Printf("%-36s %-10s %-12s %-12s %-8s %s\n",
			r.ID,
			shared.RenderRunStatus(r.Status),
			r.TriggeredBy,
			truncate(r.Branch, 12),
			shortSHA(r.CommitSHA),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if list.Total > len(list.Runs) {
		fmt.Printf("\nShowing %d of %d runs\n", len(list.Runs), list.Total)
	}

	return nil
}

func runGet(id string, showTimeline bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	detail, err := c.GetRun(ctx, id)
	if err != nil {
		return shared.FromAPIError("failed to get run", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(detail)
	}

	if showTimeline {
		r, err := timeline.NewRenderer()
		if err != nil {
			return shared.NewUsageError(err.Error(), err)
		}
		out, err := r.Render(detail.Run, detail.Steps)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	printRunHeader(detail.Run)

	if len(detail.Steps) == 0 {
		fmt.Println("\nNo steps recorded yet")
		return nil
	}

	fmt.Println("\nSEQ NAME                 STATUS     EXIT  DURATION")
	fmt.Println("--- -------------------- ---------- ----- --------")
	for _, s := range detail.Steps {
		exit := "-"
		if s.ExitCode != nil {
			exit = fmt.Sprintf("%d", *s.ExitCode)
		}
		fmt.Printf("%-3d %-20s %-10s %-5s %s\n",
			s.Seq,
			truncate(s.Name, 20),
			shared.RenderStepStatus(s.Status),
			exit,
			stepDuration(s))
	}
	fmt.Printf("\nStep output: eifl run logs <step-id> (IDs via --json)\n")

	return nil
}

func runCancel(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	r, err := c.CancelRun(ctx, id)
	if err != nil {
		return shared.FromAPIError("failed to cancel run", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(r)
	}

	fmt.Println(shared.RenderWarn(fmt.Sprintf("Run %s cancelled", r.ID)))
	return nil
}

func runLogs(stepID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	output, err := c.StepOutput(ctx, stepID)
	if err != nil {
		return shared.FromAPIError("failed to fetch step output", err)
	}

	fmt.Print(output)
	if output != "" && output[len(output)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func runMetrics(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	metrics, err := c.RunMetrics(ctx, id)
	if err != nil {
		return shared.FromAPIError("failed to fetch run metrics", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(metrics)
	}

	if len(metrics) == 0 {
		fmt.Println("No metrics found")
		return nil
	}

	fmt.Println("KEY                              VALUE            UNIT")
	fmt.Println("-------------------------------- ---------------- --------")
	for _, m := range metrics {
		fmt.Printf("%-32s %-16.4g %s\n", truncate(m.Key, 32), m.Value, m.Unit)
	}

	return nil
}

func printRunHeader(r *backend.Run) {
	fmt.Printf("ID:       %s\n", r.ID)
	fmt.Printf("Pipeline: %s\n", r.PipelineID)
	fmt.Printf("Status:   %s\n", shared.RenderRunStatus(r.Status))
	fmt.Printf("Trigger:  %s\n", r.TriggeredBy)
	if r.Branch != "" {
		fmt.Printf("Branch:   %s\n", r.Branch)
	}
	if r.CommitSHA != "" {
		fmt.Printf("Commit:   %s\n", r.CommitSHA)
	}
	fmt.Printf("Created:  %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if r.StartedAt != nil {
		fmt.Printf("Started:  %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if r.FinishedAt != nil {
		fmt.Printf("Finished: %s\n", r.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func stepDuration(s *backend.Step) string {
	if s.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	d := end.Sub(*s.StartedAt)
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Second).String()
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	if sha == "" {
		return "-"
	}
	return sha
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
