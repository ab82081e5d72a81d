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


// Package cli assembles the switchyard command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/switchyard/internal/commands/events"
	"github.com/tombee/switchyard/internal/commands/finops"
	"github.com/tombee/switchyard/internal/commands/health"
	"github.com/tombee/switchyard/internal/commands/prefs"
	"github.com/tombee/switchyard/internal/commands/route"
	"github.com/tombee/switchyard/internal/commands/serve"
	"github.com/tombee/switchyard/internal/commands/shared"
	versioncmd "github.com/tombee/switchyard/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command with global flags only.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switchyard",
		Short: "Switchyard - adaptive routing across AI providers",
		Long: `Switchyard routes tasks to AI providers in priority order, falls back on
failure, skips providers the outcome ledger marks unhealthy, and reorders
providers when a cheaper flagship model appears.

Run 'switchyard serve' to start the daemon, then 'switchyard route' to
send it work.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	flags := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(flags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(flags.Quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(flags.JSON, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(flags.Config, "config", "", "Path to config file (default: ~/.config/switchyard/config.yaml)")
	cmd.PersistentFlags().StringVar(flags.URL, "url", "", "Daemon URL (default: $SWITCHYARD_URL or http://127.0.0.1:8088)")

	return cmd
}

// NewApp returns the root command with every subcommand attached.
func NewApp() *cobra.Command {
	root := NewRootCommand()
	root.AddCommand(
		serve.NewCommand(),
		route.NewCommand(),
		health.NewCommand(),
		prefs.NewCommand(),
		finops.NewEvaluateCommand(),
		finops.NewMonitorCommand(),
		events.NewCommand(),
		versioncmd.NewVersionCommand(),
	)
	return root
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
