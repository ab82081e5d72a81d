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


// Package events implements "switchyard events".
package events

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/switchyard/internal/commands/shared"
	"github.com/tombee/switchyard/pkg/ledger"
)

// NewCommand creates the events command.
func NewCommand() *cobra.Command {
	var filter ledger.EventFilter

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent outcome ledger records",
		Example: `  switchyard events --limit 20
  switchyard events --route-id 6f1c2a90-3b1e-4d5a-9c1f-2b7e8d4a1c33
  switchyard events --agent-type finops`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter.Limit < 0 {
				return shared.NewInvalidInputError("--limit must be positive", nil)
			}
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			recs, err := c.Events(cmd.Context(), filter)
			if err != nil {
				return shared.WrapAPIError("failed to fetch events", err)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), recs)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tAGENT\tPROVIDER\tTASK TYPE\tOUTCOME\tLATENCY\tREWARD\tROUTE")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dms\t%.2f\t%s\n",
					r.Timestamp.Local().Format(time.DateTime),
					r.AgentType, r.Provider, r.TaskType,
					outcome(r.Outcome), r.LatencyMS, r.Reward, shortID(r.RouteID))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&filter.RouteID, "route-id", "", "Only records of this route")
	cmd.Flags().StringVar(&filter.Provider, "provider", "", "Only records of this provider")
	cmd.Flags().StringVar(&filter.AgentType, "agent-type", "", "Only records of this agent type")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Most recent records to show")
	return cmd
}

func outcome(o ledger.Outcome) string {
	if o == ledger.OutcomeSuccess {
		return shared.StatusOK.Render(string(o))
	}
	return shared.StatusError.Render(string(o))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
