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

// Package secret implements the secret command group. Secret values are
// write-only: they can be set and deleted but never read back through
// the CLI or API, only injected into step environments.
package secret

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/client"
	"github.com/eifl-dev/eifl/internal/commands/shared"
	"github.com/eifl-dev/eifl/internal/server/backend"
)

// NewCommand creates the secret command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "secret",
		Annotations: map[string]string{
			"group": "resources",
		},
		Short: "Manage secrets",
		Long: `Commands for managing secrets injected into step environments.

A secret is scoped to a project (--project) or a single repo (--repo).
Repo-scoped secrets shadow project-scoped ones with the same name.
Names are SCREAMING_SNAKE_CASE; values are encrypted at rest and never
readable once set.`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	var projectID, repoID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secret names in a scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, scopeID, err := resolveScope(projectID, repoID)
			if err != nil {
				return err
			}
			return secretList(scope, scopeID)
		},
	}

	addScopeFlags(cmd, &projectID, &repoID)

	return cmd
}

func newSetCommand() *cobra.Command {
	var projectID, repoID string

	cmd := &cobra.Command{
		Use:   "set <NAME>",
		Short: "Create or update a secret",
		Long: `Set a secret in a scope. The value is read from stdin when piped,
otherwise prompted for without echo. Setting an existing name replaces
its value.`,
		Example: `  # Example 1: Prompt for the value
  eifl secret set DEPLOY_KEY --repo 9c2a...

  # Example 2: Pipe the value in a script
  printf '%s' "$DEPLOY_KEY" | eifl secret set DEPLOY_KEY --project 6f1d...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, scopeID, err := resolveScope(projectID, repoID)
			if err != nil {
				return err
			}
			return secretSet(scope, scopeID, args[0])
		},
	}

	addScopeFlags(cmd, &projectID, &repoID)

	return cmd
}

func newDeleteCommand() *cobra.Command {
	var projectID, repoID string
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <NAME>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, scopeID, err := resolveScope(projectID, repoID)
			if err != nil {
				return err
			}
			return secretDelete(scope, scopeID, args[0], yes)
		},
	}

	addScopeFlags(cmd, &projectID, &repoID)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func addScopeFlags(cmd *cobra.Command, projectID, repoID *string) {
	cmd.Flags().StringVar(projectID, "project", "", "Project ID for project-scoped secrets")
	cmd.Flags().StringVar(repoID, "repo", "", "Repo ID for repo-scoped secrets")
}

// resolveScope maps the --project/--repo flag pair to a scope. Exactly
// one must be set.
func resolveScope(projectID, repoID string) (backend.SecretScope, string, error) {
	switch {
	case projectID != "" && repoID != "":
		return "", "", shared.NewUsageError("--project and --repo are mutually exclusive", nil)
	case projectID != "":
		return backend.ScopeProject, projectID, nil
	case repoID != "":
		return backend.ScopeRepo, repoID, nil
	default:
		return "", "", shared.NewUsageError("one of --project or --repo is required", nil)
	}
}

func secretList(scope backend.SecretScope, scopeID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	secrets, err := c.ListSecrets(ctx, scope, scopeID)
	if err != nil {
		return shared.FromAPIError("failed to list secrets", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(secrets)
	}

	if len(secrets) == 0 {
		fmt.Println("No secrets found")
		return nil
	}

	fmt.Println("NAME                             UPDATED")
	fmt.Println("-------------------------------- -------------------")
	for _, s := range secrets {
		fmt.Printf("%-32s %s\n", s.Name, s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	return nil
}

func secretSet(scope backend.SecretScope, scopeID, name string) error {
	if !backend.SecretNameRe.MatchString(name) {
		return shared.NewUsageError(fmt.Sprintf("invalid secret name %q: must match %s", name, backend.SecretNameRe.String()), nil)
	}

	value, err := shared.ReadSecretInput("Secret value")
	if err != nil {
		return fmt.Errorf("failed to read secret value: %w", err)
	}
	if value == "" {
		return shared.NewUsageError("secret value is empty", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	s, err := c.CreateSecret(ctx, scope, scopeID, name, value)
	if err != nil {
		// An existing name is an update, not an error.
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			s, err = c.UpdateSecret(ctx, scope, scopeID, name, value)
		}
		if err != nil {
			return shared.FromAPIError("failed to set secret", err)
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(s)
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Secret %s set in %s %s", s.Name, s.Scope, s.ScopeID)))
	return nil
}

func secretDelete(scope backend.SecretScope, scopeID, name string, yes bool) error {
	confirmed, err := shared.Confirm(fmt.Sprintf("Delete secret %s?", name), yes)
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

	if err := c.DeleteSecret(ctx, scope, scopeID, name); err != nil {
		return shared.FromAPIError("failed to delete secret", err)
	}

	fmt.Printf("Secret %s deleted\n", name)
	return nil
}
