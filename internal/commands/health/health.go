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


// Package health implements "switchyard health".
package health

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/switchyard/internal/commands/shared"
)

// NewCommand creates the health command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show per-provider health from the outcome ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			h, err := c.Health(cmd.Context())
			if err != nil {
				return shared.WrapAPIError("failed to fetch health", err)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), h)
			}

			out := cmd.OutOrStdout()
			switch h.Status {
			case "healthy":
				fmt.Fprintln(out, shared.RenderOK("healthy"))
			case "degraded":
				fmt.Fprintln(out, shared.RenderWarn("degraded"))
			default:
				fmt.Fprintln(out, shared.RenderError(h.Status))
			}
			if len(h.Providers) == 0 {
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tSTATUS\tATTEMPTS\tSUCCESS\tAVG LATENCY\tREASON")
			for _, v := range h.Providers {
				status := shared.StatusOK.Render("healthy")
				if !v.Healthy {
					status = shared.StatusError.Render("excluded")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%.0f%%\t%.0fms\t%s\n",
					v.Provider, status, v.Total, v.SuccessRate*100, v.AvgLatencyMS, v.Reason)
			}
			return w.Flush()
		},
	}
}
