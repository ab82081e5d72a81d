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


// Package route implements "switchyard route".
package route

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/switchyard/internal/api"
	"github.com/tombee/switchyard/internal/commands/shared"
	"github.com/tombee/switchyard/pkg/router"
)

// NewCommand creates the route command.
func NewCommand() *cobra.Command {
	var (
		taskType     string
		agentType    string
		timeout      time.Duration
		showAttempts bool
	)

	cmd := &cobra.Command{
		Use:   "route [task...]",
		Short: "Send a task through the provider fallback chain",
		Long: `Send a task to the highest-priority healthy provider, falling back to the
next one on failure. The task is read from stdin when no arguments are
given.`,
		Example: `  switchyard route "summarize this paragraph"
  cat prompt.txt | switchyard route --task-type code`,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := shared.ReadInput(args, cmd.InOrStdin())
			if err != nil {
				return shared.NewInvalidInputError("failed to read task", err)
			}
			if task == "" {
				return shared.NewInvalidInputError("a task is required", nil)
			}

			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			res, err := c.Route(cmd.Context(), api.RouteRequest{
				Task:      task,
				TaskType:  taskType,
				Timeout:   api.Duration(timeout),
				AgentType: agentType,
			})
			if err != nil {
				return shared.WrapAPIError("route failed", err)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), res)
			}
			printResult(cmd, res, showAttempts || shared.GetVerbose())
			return nil
		},
	}

	cmd.Flags().StringVar(&taskType, "task-type", "", "Task type (skips classification)")
	cmd.Flags().StringVar(&agentType, "agent-type", "", "Agent type recorded in the ledger")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-attempt timeout (default from daemon config)")
	cmd.Flags().BoolVar(&showAttempts, "attempts", false, "Show every attempt")

	return cmd
}

func printResult(cmd *cobra.Command, res *router.Result, attempts bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Text)

	if shared.GetQuiet() {
		return
	}
	errOut := cmd.ErrOrStderr()
	model := res.Model
	if model == "" {
		model = "default"
	}
	fmt.Fprintf(errOut, "%s %s/%s %s\n",
		shared.StatusOK.Render(shared.SymbolOK),
		res.Provider, model,
		shared.RenderLabel(fmt.Sprintf("task_type=%s latency=%dms reward=%.2f route=%s", res.TaskType, res.LatencyMS, res.Reward, res.RouteID)),
	)
	if !attempts {
		return
	}
	for i, a := range res.Attempts {
		line := fmt.Sprintf("  %d. %s %s %dms", i+1, a.Provider, a.Outcome, a.LatencyMS)
		if a.Error != "" {
			line += " " + shared.RenderLabel(a.Error)
		}
		fmt.Fprintln(errOut, line)
	}
}
