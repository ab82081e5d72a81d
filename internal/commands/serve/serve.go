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


// Package serve implements "switchyard serve".
package serve

import (
	"github.com/spf13/cobra"

	"github.com/tombee/switchyard/internal/commands/shared"
	"github.com/tombee/switchyard/internal/daemon"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var opts daemon.RunOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing daemon in the foreground",
		Long: `Start switchyardd in the foreground. The daemon serves the HTTP API,
records every attempt in the ledger and, when finops.interval is set,
re-evaluates provider costs on a schedule.

Stop it with Ctrl-C; in-flight routes are given server.shutdown_timeout
to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, c, b := shared.GetVersion()
			opts.Version, opts.Commit, opts.BuildDate = v, c, b
			opts.ConfigPath = shared.GetConfigPath()
			return daemon.Run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.LedgerBackend, "ledger", "", "Ledger backend: memory, sqlite, postgres")
	cmd.Flags().StringVar(&opts.LedgerPath, "ledger-path", "", "SQLite ledger file")
	cmd.Flags().StringVar(&opts.LedgerDSN, "ledger-dsn", "", "PostgreSQL connection string")

	return cmd
}
