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

package project

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/commands/shared"
)

// NewCommand creates the project command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "project",
		Annotations: map[string]string{
			"group": "resources",
		},
		Short: "Manage projects",
		Long: `Commands for creating, listing, and deleting projects.

A project groups repositories. Deleting a project cascades to its
repos, pipelines, runs, and secrets.`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Example: `  # Example 1: List all projects
  eifl project list

  # Example 2: Project names only
  eifl project list --jq '.[].name'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return projectList()
		},
	}
}

func newCreateCommand() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Long: `Create a project. Names are lowercase alphanumerics plus '-' and '_',
starting with a letter, at most 128 characters.`,
		Example: `  # Example 1: Create a project
  eifl project create payments

  # Example 2: With a description
  eifl project create payments --description "Payment services CI"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return projectCreate(args[0], description)
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Project description")

	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <project-id>",
		Short: "Show project details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return projectGet(args[0])
		},
	}
}

func newDeleteCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project",
		Long:  `Delete a project and everything under it: repos, pipelines, runs, and secrets.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return projectDelete(args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func projectList() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	projects, err := c.ListProjects(ctx)
	if err != nil {
		return shared.FromAPIError("failed to list projects", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(projects)
	}

	if len(projects) == 0 {
		fmt.Println("No projects found")
		return nil
	}

	fmt.Println("ID                                   NAME                 CREATED")
	fmt.Println("------------------------------------ -------------------- -------------------")
	for _, p := range projects {
		fmt.Printf("%-36s %-20s %s\n",
			p.ID,
			truncate(p.Name, 20),
			p.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	return nil
}

func projectCreate(name, description string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	p, err := c.CreateProject(ctx, name, description)
	if err != nil {
		return shared.FromAPIError("failed to create project", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(p)
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Project %q created (%s)", p.Name, p.ID)))
	return nil
}

func projectGet(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	p, err := c.GetProject(ctx, id)
	if err != nil {
		return shared.FromAPIError("failed to get project", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(p)
	}

	fmt.Printf("ID:          %s\n", p.ID)
	fmt.Printf("Name:        %s\n", p.Name)
	if p.Description != "" {
		fmt.Printf("Description: %s\n", p.Description)
	}
	fmt.Printf("Created:     %s\n", p.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	return nil
}

func projectDelete(id string, yes bool) error {
	confirmed, err := shared.Confirm(fmt.Sprintf("Delete project %s and all of its repos, pipelines, and runs?", id), yes)
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

	if err := c.DeleteProject(ctx, id); err != nil {
		return shared.FromAPIError("failed to delete project", err)
	}

	fmt.Printf("Project %s deleted\n", id)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
