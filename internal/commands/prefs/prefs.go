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


// Package prefs implements "switchyard prefs".
package prefs

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/switchyard/internal/api"
	"github.com/tombee/switchyard/internal/commands/shared"
	"github.com/tombee/switchyard/pkg/ledger"
)

// NewCommand creates the prefs command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change routing preferences",
	}
	cmd.AddCommand(newGetCommand(), newSetCommand())
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the provider priority and model preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			state, err := c.Preferences(cmd.Context())
			if err != nil {
				return shared.WrapAPIError("failed to fetch preferences", err)
			}
			return printState(cmd, state)
		},
	}
}

func newSetCommand() *cobra.Command {
	var (
		priority string
		models   []string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the provider priority or model preferences",
		Long: `Update routing preferences. Flags that are not given keep their current
value. --model replaces the whole model preference map.`,
		Example: `  switchyard prefs set --priority gemini,openai,anthropic
  switchyard prefs set --model openai:code=gpt-4o --model gemini:general=pro`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.PreferencesRequest
			if cmd.Flags().Changed("priority") {
				order := splitList(priority)
				req.ProviderPriority = &order
			}
			if len(models) > 0 {
				prefs, err := ParseModelPrefs(models)
				if err != nil {
					return shared.NewInvalidInputError("invalid --model", err)
				}
				req.ModelPrefs = prefs
			}
			if req.ProviderPriority == nil && req.ModelPrefs == nil {
				return shared.NewInvalidInputError("nothing to change: pass --priority or --model", nil)
			}

			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			state, err := c.SetPreferences(cmd.Context(), req)
			if err != nil {
				return shared.WrapAPIError("failed to update preferences", err)
			}
			return printState(cmd, state)
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "", "Comma-separated provider order")
	cmd.Flags().StringArrayVar(&models, "model", nil, "Model preference as provider:task_type=model (repeatable)")
	return cmd
}

// ParseModelPrefs parses provider:task_type=model entries.
func ParseModelPrefs(entries []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	for _, e := range entries {
		key, model, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("%q: expected provider:task_type=model", e)
		}
		provider, taskType, ok := strings.Cut(key, ":")
		if !ok || provider == "" || taskType == "" || model == "" {
			return nil, fmt.Errorf("%q: expected provider:task_type=model", e)
		}
		if out[provider] == nil {
			out[provider] = make(map[string]string)
		}
		out[provider][taskType] = model
	}
	return out, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printState(cmd *cobra.Command, state *ledger.PolicyState) error {
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), state)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, shared.Header.Render("Provider priority"))
	for i, p := range state.ProviderPriority {
		fmt.Fprintf(out, "  %d. %s\n", i+1, p)
	}
	if len(state.ModelPrefs) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, shared.Header.Render("Model preferences"))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PROVIDER\tTASK TYPE\tMODEL")
	for _, p := range slices.Sorted(maps.Keys(state.ModelPrefs)) {
		for _, t := range slices.Sorted(maps.Keys(state.ModelPrefs[p])) {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", p, t, state.ModelPrefs[p][t])
		}
	}
	return w.Flush()
}
