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

// Package login implements the login and logout commands. Tokens are
// stored in the system keychain keyed by server URL.
package login

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eifl-dev/eifl/internal/commands/shared"
	"github.com/eifl-dev/eifl/internal/config"
)

// NewLoginCommand creates the login command.
func NewLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "login",
		Annotations: map[string]string{
			"group": "auth",
		},
		Short: "Authenticate with an EIFL server",
		Long: `Exchange the server's admin secret for a session token. The token is
stored in the system keychain (or a credentials file on headless hosts)
and attached to every subsequent request.

The server is taken from --server, EIFL_SERVER_URL, or the config file.`,
		Example: `  # Example 1: Log in, prompting for the secret
  eifl login

  # Example 2: Log in against a specific server
  eifl login --server https://ci.example.com

  # Example 3: Pipe the secret in (CI, scripts)
  echo "$EIFL_ADMIN_SECRET" | eifl login`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin()
		},
	}

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use: "logout",
		Annotations: map[string]string{
			"group": "auth",
		},
		Short: "Forget the stored token for a server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout()
		},
	}
}

func runLogin() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	serverURL := shared.ResolveServerURL()

	secret, err := shared.ReadSecretInput("Admin secret")
	if err != nil {
		return fmt.Errorf("failed to read admin secret: %w", err)
	}
	if secret == "" {
		return shared.NewUsageError("admin secret is required", nil)
	}

	c, err := shared.BuildClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	token, expiresAt, err := c.Login(ctx, secret)
	if err != nil {
		return shared.FromAPIError("login failed", err)
	}

	if err := shared.StoreToken(serverURL, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	// Remember the server so later invocations don't need --server.
	cfg, err := config.LoadCLI(shared.GetConfigPath())
	if err == nil && cfg.ServerURL != serverURL {
		cfg.ServerURL = serverURL
		if err := config.SaveCLI(shared.GetConfigPath(), cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("Logged in to %s (token expires %s)",
		serverURL, expiresAt.Local().Format("2006-01-02 15:04"))))
	return nil
}

func runLogout() error {
	serverURL := shared.ResolveServerURL()

	if err := shared.DeleteToken(serverURL); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}

	fmt.Printf("Logged out of %s\n", serverURL)
	return nil
}
