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

// Package setup implements the first-run wizard: it collects the server
// address and admin secret, verifies the server is reachable, logs in,
// and writes the CLI config.
package setup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/eifl-dev/eifl/internal/client"
	"github.com/eifl-dev/eifl/internal/commands/shared"
	"github.com/eifl-dev/eifl/internal/config"
)

// NewCommand creates the setup command
func NewCommand() *cobra.Command {
	var accessible bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive wizard to configure the CLI",
		Long: `Launch the interactive setup wizard to:
  - Point the CLI at an EIFL server
  - Verify the server is reachable
  - Log in and store a session token

Use --accessible for simple text prompts if the TUI doesn't work in your terminal.
You can also set EIFL_ACCESSIBLE=1 to enable accessible mode.`,
		Annotations: map[string]string{
			"group": "config",
		},
		Example: `  # Example 1: Run the wizard
  eifl setup

  # Example 2: Plain text prompts
  eifl setup --accessible`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(accessible)
		},
	}

	cmd.Flags().BoolVar(&accessible, "accessible", false, "Use accessible mode (simple text prompts instead of TUI)")

	return cmd
}

func runSetup(accessible bool) error {
	accessibleMode := shouldUseAccessibleMode(accessible)

	// Pre-fill from an existing config so re-running setup edits in place.
	cfg, err := config.LoadCLI(shared.GetConfigPath())
	if err != nil {
		cfg = &config.CLIConfig{}
	}
	serverURL := cfg.ServerURL
	if serverURL == "" {
		serverURL = shared.DefaultServerURL
	}

	var adminSecret string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server URL").
				Description("Address of the EIFL server, e.g. https://ci.example.com").
				Value(&serverURL).
				Validate(validateServerURL),
			huh.NewInput().
				Title("Admin secret").
				Description("Exchanged for a session token; the secret itself is never stored").
				EchoMode(huh.EchoModePassword).
				Value(&adminSecret).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("admin secret is required")
					}
					return nil
				}),
		),
	).WithAccessible(accessibleMode)

	if err := form.Run(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := client.New(serverURL)
	if err != nil {
		return shared.NewUsageError("invalid server URL", err)
	}

	health, err := c.Health(ctx)
	if err != nil {
		return shared.NewConnectionError(fmt.Sprintf("cannot reach %s", serverURL), err)
	}
	fmt.Println(shared.RenderOK(fmt.Sprintf("Server is %s (version %s)", health.Status, health.Version)))

	token, expiresAt, err := c.Login(ctx, adminSecret)
	if err != nil {
		return shared.FromAPIError("login failed", err)
	}

	if err := shared.StoreToken(serverURL, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	cfg.ServerURL = serverURL
	if err := config.SaveCLI(shared.GetConfigPath(), cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Logged in (token expires %s)",
		expiresAt.Local().Format("2006-01-02 15:04"))))
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  eifl project create <name>     Create a project")
	fmt.Println("  eifl repo create <name>        Add a repository")
	fmt.Println("  eifl run list                  Watch pipeline runs")

	return nil
}

// shouldUseAccessibleMode determines if accessible mode should be used.
// Returns true if:
// - --accessible flag is set
// - EIFL_ACCESSIBLE=1 environment variable is set
// - stdin is not a terminal (e.g., piped input)
func shouldUseAccessibleMode(flagValue bool) bool {
	if flagValue {
		return true
	}

	if os.Getenv("EIFL_ACCESSIBLE") == "1" {
		return true
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}

	return false
}

// validateServerURL checks that the input is an absolute http(s) URL.
func validateServerURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must start with http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}
