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

// Package manifest implements the manifest command group: validating,
// scaffolding, and describing pipeline manifests without a server round
// trip (except `schema`, which asks the server for its JSON Schema).
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/cli/prompt"
	"github.com/eifl-dev/eifl/internal/commands/shared"
	"github.com/eifl-dev/eifl/internal/examples"
	"github.com/eifl-dev/eifl/internal/manifest"
)

// NewCommand creates the manifest command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "manifest",
		Annotations: map[string]string{
			"group": "config",
		},
		Short: "Validate and scaffold pipeline manifests",
		Long: `Commands for working with ` + manifest.FileName + ` manifest files locally.

See also: eifl pipeline apply`,
	}

	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newExamplesCommand())
	cmd.AddCommand(newSchemaCommand())

	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a manifest file",
		Long: `Parse and validate a manifest without contacting the server. The path
may be a manifest file or a directory containing ` + manifest.FileName + `;
it defaults to the current directory.`,
		Example: `  # Example 1: Validate the manifest in the current directory
  eifl manifest validate

  # Example 2: Validate a specific file
  eifl manifest validate build/nightly.eifl.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			return manifestValidate(path)
		},
	}
}

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Scaffold a manifest interactively",
		Long: `Create a starter ` + manifest.FileName + ` in the given directory (default:
current directory) by answering a few prompts. Refuses to overwrite an
existing manifest unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			p := prompt.NewSurveyPrompter(!shared.IsNonInteractive())
			return manifestInit(p, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing manifest")

	return cmd
}

func newExamplesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "examples [name]",
		Short: "List or print bundled example manifests",
		Example: `  # Example 1: See what ships with the CLI
  eifl manifest examples

  # Example 2: Start a new pipeline from an example
  eifl manifest examples go-service > .eifl.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return manifestExamplesList()
			}
			return manifestExamplesShow(args[0])
		},
	}
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the server's manifest JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return manifestSchema()
		},
	}
}

func manifestValidate(path string) error {
	resolved, err := shared.ResolveManifestPath(path)
	if err != nil {
		return shared.NewUsageError(err.Error(), err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	cfg, err := manifest.Parse(data)
	if err != nil {
		return &shared.ExitError{
			Code:    shared.ExitFailure,
			Message: fmt.Sprintf("%s is invalid", resolved),
			Cause:   err,
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cfg)
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("%s is valid", resolved)))
	fmt.Printf("\nPipeline: %s\n", cfg.Name)
	fmt.Printf("Steps:    %d\n", len(cfg.Steps))
	if len(cfg.RunnerTags) > 0 {
		fmt.Printf("Runners:  require tags %v\n", cfg.RunnerTags)
	}
	describeTriggers(cfg)
	return nil
}

func describeTriggers(cfg *manifest.Config) {
	if cfg.Triggers == nil {
		fmt.Println("Triggers: any push, manual")
		return
	}
	fmt.Println("Triggers:")
	if cfg.Triggers.Push != nil {
		if len(cfg.Triggers.Push.Branches) == 0 {
			fmt.Println("  push (any branch)")
		} else {
			fmt.Printf("  push (branches %v)\n", cfg.Triggers.Push.Branches)
		}
	}
	if cfg.Triggers.Manual {
		fmt.Println("  manual")
	}
	for _, s := range cfg.Triggers.Schedule {
		fmt.Printf("  schedule %q (UTC)\n", s.Cron)
	}
}

func manifestInit(p prompt.Prompter, dir string, force bool) error {
	target := filepath.Join(dir, manifest.FileName)
	if _, err := os.Stat(target); err == nil && !force {
		return shared.NewUsageError(fmt.Sprintf("%s already exists (pass --force to overwrite)", target), nil)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	defaultName := filepath.Base(abs)

	ctx := context.Background()

	name, err := p.PromptString(ctx, "Pipeline name", "Identifies the pipeline within its repo", defaultName)
	if err != nil {
		return err
	}
	stepName, err := p.PromptString(ctx, "First step name", "Label shown in run views", "build")
	if err != nil {
		return err
	}
	stepCmd, err := p.PromptString(ctx, "First step command", "Shell command executed via sh -c", "make build")
	if err != nil {
		return err
	}
	onPush, err := p.PromptBool(ctx, "Trigger on push", "Start a run whenever the repo receives a push", true)
	if err != nil {
		return err
	}

	cfg := &manifest.Config{
		Name: name,
		Triggers: &manifest.Triggers{
			Manual: true,
		},
		Steps: []manifest.Step{
			{Name: stepName, Run: stepCmd},
		},
	}
	if onPush {
		cfg.Triggers.Push = &manifest.PushTrigger{}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("generated manifest is invalid: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Wrote %s", target)))
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  eifl manifest validate %s\n", dir)
	fmt.Printf("  eifl pipeline apply --repo <repo-id> -f %s\n", target)
	return nil
}

func manifestExamplesList() error {
	all, err := examples.List()
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(all)
	}

	fmt.Println("NAME             DESCRIPTION")
	fmt.Println("---------------- ----------------------------------------------------------")
	for _, ex := range all {
		fmt.Printf("%-16s %s\n", ex.Name, ex.Description)
	}
	fmt.Printf("\nPrint one with: eifl manifest examples <name>\n")
	return nil
}

func manifestExamplesShow(name string) error {
	data, err := examples.Get(name)
	if err != nil {
		return shared.NewUsageError(err.Error(), err)
	}
	fmt.Print(string(data))
	return nil
}

func manifestSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	schema, err := c.ManifestSchema(ctx)
	if err != nil {
		return shared.FromAPIError("failed to fetch manifest schema", err)
	}

	fmt.Print(string(schema))
	if len(schema) > 0 && schema[len(schema)-1] != '\n' {
		fmt.Println()
	}
	return nil
}
