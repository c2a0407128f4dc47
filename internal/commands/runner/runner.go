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

package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/commands/shared"
	"github.com/eifl-dev/eifl/internal/server/backend"
)

// NewCommand creates the runner command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "runner",
		Annotations: map[string]string{
			"group": "runs",
		},
		Short: "Manage runners",
		Long: `Commands for registering and inspecting runners.

A runner is a machine that polls the server for jobs and executes
steps. Registration issues a token the runner agent authenticates
with; the token is shown once and cannot be retrieved again.

See also: eifl-runner --help`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRegisterCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered runners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runnerList()
		},
	}
}

func newRegisterCommand() *cobra.Command {
	var tags []string
	var maxConcurrency int

	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a runner and print its token",
		Long: `Register a runner. Tags restrict which steps the runner may execute:
a step with a "runs_on" list is dispatched only to runners carrying
every listed tag. An untagged step runs anywhere.

The token is printed once. Store it where the runner agent can read it
(e.g. the EIFL_RUNNER_TOKEN environment variable).`,
		Example: `  # Example 1: General-purpose runner
  eifl runner register build-01

  # Example 2: Tagged runner with more parallelism
  eifl runner register gpu-01 --tags linux,gpu --max-concurrency 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runnerRegister(args[0], tags, maxConcurrency)
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Comma-separated capability tags")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 1, "Jobs the runner may execute at once")

	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <runner-id>",
		Short: "Show runner details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runnerGet(args[0])
		},
	}
}

func newDeleteCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <runner-id>",
		Short: "Delete a runner",
		Long:  `Delete a runner and revoke its token. Jobs it is currently executing are not interrupted, but it cannot lease new ones.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runnerDelete(args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func runnerList() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	runners, err := c.ListRunners(ctx)
	if err != nil {
		return shared.FromAPIError("failed to list runners", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(runners)
	}

	if len(runners) == 0 {
		fmt.Println("No runners found")
		return nil
	}

	fmt.Println("ID                                   NAME             STATUS   JOBS  TAGS                 LAST SEEN")
	fmt.Println("------------------------------------ ---------------- -------- ----- -------------------- -------------------")
	for _, r := range runners {
		fmt.Printf("%-36s %-16s %-8s %d/%-3d %-20s %s\n",
			r.ID,
			truncate(r.Name, 16),
			r.Status,
			r.ActiveJobs,
			r.MaxConcurrency,
			truncate(strings.Join(r.Tags, ","), 20),
			lastSeen(r))
	}

	return nil
}

func runnerRegister(name string, tags []string, maxConcurrency int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	r, token, err := c.RegisterRunner(ctx, name, tags, maxConcurrency)
	if err != nil {
		return shared.FromAPIError("failed to register runner", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(map[string]interface{}{
			"runner": r,
			"token":  token,
		})
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Runner %q registered (%s)", r.Name, r.ID)))
	fmt.Printf("\nToken (shown once, store it now):\n  %s\n", token)
	fmt.Printf("\nStart the agent with:\n  EIFL_RUNNER_TOKEN=%s eifl-runner --server %s\n", token, shared.ResolveServerURL())
	return nil
}

func runnerGet(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	r, err := c.GetRunner(ctx, id)
	if err != nil {
		return shared.FromAPIError("failed to get runner", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(r)
	}

	fmt.Printf("ID:              %s\n", r.ID)
	fmt.Printf("Name:            %s\n", r.Name)
	fmt.Printf("Status:          %s\n", r.Status)
	fmt.Printf("Active jobs:     %d of %d\n", r.ActiveJobs, r.MaxConcurrency)
	if len(r.Tags) > 0 {
		fmt.Printf("Tags:            %s\n", strings.Join(r.Tags, ", "))
	}
	fmt.Printf("Last seen:       %s\n", lastSeen(r))
	fmt.Printf("Registered:      %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	return nil
}

func runnerDelete(id string, yes bool) error {
	confirmed, err := shared.Confirm(fmt.Sprintf("Delete runner %s and revoke its token?", id), yes)
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

	if err := c.DeleteRunner(ctx, id); err != nil {
		return shared.FromAPIError("failed to delete runner", err)
	}

	fmt.Printf("Runner %s deleted\n", id)
	return nil
}

func lastSeen(r *backend.Runner) string {
	if r.LastSeen == nil {
		return "never"
	}
	return r.LastSeen.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
