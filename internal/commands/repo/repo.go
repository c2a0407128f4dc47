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

package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/commands/shared"
)

// NewCommand creates the repo command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "repo",
		Annotations: map[string]string{
			"group": "resources",
		},
		Short: "Manage repositories",
		Long: `Commands for creating, listing, and deleting repositories.

A repo without --remote-url gets a bare Git repository hosted by the
server; push to it to trigger pipelines. A repo with --remote-url
references code hosted elsewhere (e.g. GitHub) and is built via
webhooks.`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repositories in a project",
		Example: `  # Example 1: List repos
  eifl repo list --project 6f1d...

  # Example 2: Clone URLs for locally hosted repos
  eifl repo list --project 6f1d... --jq '.[].path'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return repoList(projectID)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project ID (required)")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func newCreateCommand() *cobra.Command {
	var projectID string
	var remoteURL string
	var defaultBranch string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a repository",
		Long: `Create a repository in a project. Without --remote-url the server
initializes a bare Git repository and installs a post-receive hook that
triggers pipelines on push. The default branch is "main" unless
--default-branch says otherwise.`,
		Example: `  # Example 1: Locally hosted repo
  eifl repo create widgets --project 6f1d...

  # Example 2: GitHub-hosted repo built via webhooks
  eifl repo create widgets --project 6f1d... --remote-url https://github.com/acme/widgets

  # Example 3: Non-default branch
  eifl repo create widgets --project 6f1d... --default-branch trunk`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return repoCreate(projectID, args[0], remoteURL, defaultBranch)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project ID (required)")
	cmd.Flags().StringVar(&remoteURL, "remote-url", "", "Remote URL for externally hosted repos")
	cmd.Flags().StringVar(&defaultBranch, "default-branch", "", "Default branch (default: main)")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <repo-id>",
		Short: "Show repository details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return repoGet(args[0])
		},
	}
}

func newDeleteCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <repo-id>",
		Short: "Delete a repository",
		Long:  `Delete a repository, its pipelines, and their runs. Hosted Git data is removed from disk.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return repoDelete(args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func repoList(projectID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	repos, err := c.ListRepos(ctx, projectID)
	if err != nil {
		return shared.FromAPIError("failed to list repos", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(repos)
	}

	if len(repos) == 0 {
		fmt.Println("No repos found")
		return nil
	}

	fmt.Println("ID                                   NAME                 BRANCH   REMOTE")
	fmt.Println("------------------------------------ -------------------- -------- ------------------------------")
	for _, r := range repos {
		remote := r.RemoteURL
		if remote == "" {
			remote = "(hosted)"
		}
		fmt.Printf("%-36s %-20s %-8s %s\n",
			r.ID,
			truncate(r.Name, 20),
			truncate(r.DefaultBranch, 8),
			truncate(remote, 30))
	}

	return nil
}

func repoCreate(projectID, name, remoteURL, defaultBranch string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	r, err := c.CreateRepo(ctx, projectID, name, remoteURL, defaultBranch)
	if err != nil {
		return shared.FromAPIError("failed to create repo", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(r)
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Repo %q created (%s)", r.Name, r.ID)))
	if r.RemoteURL == "" {
		fmt.Printf("\nClone it with:\n  git clone <server>/git/%s\n", r.Path)
	}
	return nil
}

func repoGet(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	r, err := c.GetRepo(ctx, id)
	if err != nil {
		return shared.FromAPIError("failed to get repo", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(r)
	}

	fmt.Printf("ID:             %s\n", r.ID)
	fmt.Printf("Project:        %s\n", r.ProjectID)
	fmt.Printf("Name:           %s\n", r.Name)
	fmt.Printf("Default branch: %s\n", r.DefaultBranch)
	if r.RemoteURL != "" {
		fmt.Printf("Remote:         %s\n", r.RemoteURL)
	} else {
		fmt.Printf("Hosted path:    %s\n", r.Path)
	}
	fmt.Printf("Created:        %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	return nil
}

func repoDelete(id string, yes bool) error {
	confirmed, err := shared.Confirm(fmt.Sprintf("Delete repo %s, its pipelines, and all run history?", id), yes)
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

	if err := c.DeleteRepo(ctx, id); err != nil {
		return shared.FromAPIError("failed to delete repo", err)
	}

	fmt.Printf("Repo %s deleted\n", id)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
