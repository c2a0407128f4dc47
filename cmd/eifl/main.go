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

package main

import (
	"github.com/eifl-dev/eifl/internal/cli"
	"github.com/eifl-dev/eifl/internal/commands/baseline"
	"github.com/eifl-dev/eifl/internal/commands/completion"
	"github.com/eifl-dev/eifl/internal/commands/login"
	manifestcmd "github.com/eifl-dev/eifl/internal/commands/manifest"
	"github.com/eifl-dev/eifl/internal/commands/pipeline"
	"github.com/eifl-dev/eifl/internal/commands/project"
	"github.com/eifl-dev/eifl/internal/commands/repo"
	runcmd "github.com/eifl-dev/eifl/internal/commands/run"
	"github.com/eifl-dev/eifl/internal/commands/runner"
	"github.com/eifl-dev/eifl/internal/commands/secret"
	"github.com/eifl-dev/eifl/internal/commands/setup"
	versioncmd "github.com/eifl-dev/eifl/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version information from build-time ldflags
	cli.SetVersion(version, commit, buildDate)

	// Create root command and add subcommands
	rootCmd := cli.NewRootCommand()

	// First-run and authentication
	rootCmd.AddCommand(setup.NewCommand())
	rootCmd.AddCommand(login.NewLoginCommand())
	rootCmd.AddCommand(login.NewLogoutCommand())

	// Resources
	rootCmd.AddCommand(project.NewCommand())
	rootCmd.AddCommand(repo.NewCommand())
	rootCmd.AddCommand(pipeline.NewCommand())
	rootCmd.AddCommand(secret.NewCommand())

	// Runs and runners
	rootCmd.AddCommand(runcmd.NewCommand())
	rootCmd.AddCommand(runner.NewCommand())
	rootCmd.AddCommand(baseline.NewCommand())

	// Local manifest tooling
	rootCmd.AddCommand(manifestcmd.NewCommand())

	// Shell completion and version
	rootCmd.AddCommand(completion.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	// Custom help command with JSON support
	rootCmd.SetHelpCommand(cli.NewHelpCommand(rootCmd))

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
