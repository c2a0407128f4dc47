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

package baseline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/commands/shared"
	"github.com/eifl-dev/eifl/internal/server/backend"
)

// NewCommand creates the baseline command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "baseline",
		Annotations: map[string]string{
			"group": "runs",
		},
		Short: "Manage metric baselines",
		Long: `Commands for managing the baselines that run metrics are checked
against. A run fails its baseline check when a recorded metric exceeds
the baseline value by more than the tolerance percentage (default ` + fmt.Sprintf("%g%%", backend.DefaultTolerancePct) + `).

See also: eifl pipeline metrics, eifl run metrics`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newDeleteCommand())
	cmd.AddCommand(newFromRunCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <pipeline-id>",
		Short: "List a pipeline's baselines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return baselineList(args[0])
		},
	}
}

func newSetCommand() *cobra.Command {
	var tolerance float64

	cmd := &cobra.Command{
		Use:   "set <pipeline-id> <key> <value>",
		Short: "Set a baseline for a metric key",
		Example: `  # Example 1: Binary must stay under ~5 MB plus default tolerance
  eifl baseline set 3e7b... binary_size_bytes 5242880

  # Example 2: Tight 2% budget on benchmark time
  eifl baseline set 3e7b... bench_ns_per_op 850 --tolerance 2`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return shared.NewUsageError(fmt.Sprintf("invalid baseline value %q: %v", args[2], err), err)
			}
			var tolerancePct *float64
			if cmd.Flags().Changed("tolerance") {
				tolerancePct = &tolerance
			}
			return baselineSet(args[0], args[1], value, tolerancePct)
		},
	}

	cmd.Flags().Float64Var(&tolerance, "tolerance", backend.DefaultTolerancePct, "Allowed regression as a percentage of the baseline value")

	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <pipeline-id> <key>",
		Short: "Delete a baseline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return baselineDelete(args[0], args[1])
		},
	}
}

func newFromRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "from-run <run-id>",
		Short: "Adopt a run's metrics as its pipeline's baselines",
		Long: `Set every metric recorded by the given run as the baseline for its
key, keeping each key's existing tolerance. Typical after a release:
the known-good run becomes the bar the next runs are measured against.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return baselineFromRun(args[0])
		},
	}
}

func baselineList(pipelineID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	baselines, err := c.ListBaselines(ctx, pipelineID)
	if err != nil {
		return shared.FromAPIError("failed to list baselines", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(baselines)
	}

	if len(baselines) == 0 {
		fmt.Println("No baselines found")
		return nil
	}

	printBaselines(baselines)
	return nil
}

func baselineSet(pipelineID, key string, value float64, tolerancePct *float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	b, err := c.SetBaseline(ctx, pipelineID, key, value, tolerancePct)
	if err != nil {
		return shared.FromAPIError("failed to set baseline", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(b)
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Baseline %s = %g (±%g%%)", b.Key, b.BaselineValue, b.TolerancePct)))
	return nil
}

func baselineDelete(pipelineID, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if err := c.DeleteBaseline(ctx, pipelineID, key); err != nil {
		return shared.FromAPIError("failed to delete baseline", err)
	}

	fmt.Printf("Baseline %s deleted\n", key)
	return nil
}

func baselineFromRun(runID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	baselines, err := c.BaselinesFromRun(ctx, runID)
	if err != nil {
		return shared.FromAPIError("failed to adopt baselines from run", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(baselines)
	}

	if len(baselines) == 0 {
		fmt.Println("Run recorded no metrics; nothing to adopt")
		return nil
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Adopted %d baseline(s) from run %s", len(baselines), runID)))
	fmt.Println()
	printBaselines(baselines)
	return nil
}

func printBaselines(baselines []*backend.Baseline) {
	fmt.Println("KEY                              BASELINE         TOLERANCE  UPDATED")
	fmt.Println("-------------------------------- ---------------- ---------- -------------------")
	for _, b := range baselines {
		fmt.Printf("%-32s %-16.6g %-10s %s\n",
			truncate(b.Key, 32),
			b.BaselineValue,
			fmt.Sprintf("±%g%%", b.TolerancePct),
			b.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
