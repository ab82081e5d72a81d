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


package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/switchyard/internal/commands/shared"
)

// VersionInfo contains version metadata
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`

	// Server is set with --server.
	Server *VersionInfo `json:"server,omitempty"`
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	var server bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date for switchyard. With --server the running daemon is queried too.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, c, b := shared.GetVersion()
			info := VersionInfo{Version: v, Commit: c, BuildDate: b}

			if server {
				cl, err := shared.NewClient()
				if err != nil {
					return err
				}
				sv, err := cl.Version(cmd.Context())
				if err != nil {
					return shared.WrapAPIError("failed to query daemon version", err)
				}
				info.Server = &VersionInfo{Version: sv.Version, Commit: sv.Commit, BuildDate: sv.BuildDate}
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "switchyard version %s\n", info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  build date: %s\n", info.BuildDate)
			if info.Server != nil {
				fmt.Fprintf(out, "switchyardd version %s\n", info.Server.Version)
				fmt.Fprintf(out, "  commit:     %s\n", info.Server.Commit)
				fmt.Fprintf(out, "  build date: %s\n", info.Server.BuildDate)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&server, "server", false, "Also show the daemon's version")
	return cmd
}
