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


// Package finops implements "switchyard evaluate" and "switchyard monitor".
package finops

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/switchyard/internal/api"
	"github.com/tombee/switchyard/internal/commands/shared"
	"github.com/tombee/switchyard/pkg/finops"
	"github.com/tombee/switchyard/pkg/llm/pricing"
)

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand() *cobra.Command {
	var (
		window time.Duration
		prices []string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compare flagship prices and reorder providers",
		Long: `Run one cost evaluation. The cheaper of the two configured flagship
models moves its provider to the front of the priority list. --price
overrides the price feed for this evaluation only.`,
		Example: `  switchyard evaluate
  switchyard evaluate --price openai/gpt-4=0.01 --window 30m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := ParsePrices(prices)
			if err != nil {
				return shared.NewInvalidInputError("invalid --price", err)
			}
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			d, err := c.Evaluate(cmd.Context(), api.EvaluateRequest{Window: api.Duration(window), Prices: overrides})
			if err != nil {
				return shared.WrapAPIError("evaluation failed", err)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), d)
			}
			printDecision(cmd, d)
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "Pricing window (default from daemon config)")
	cmd.Flags().StringArrayVar(&prices, "price", nil, "Price override as provider/model=usd_per_1k (repeatable)")
	return cmd
}

// NewMonitorCommand creates the monitor command group.
func NewMonitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Manage cost monitors",
	}
	cmd.AddCommand(newMonitorStartCommand(), newMonitorTickCommand(), newMonitorListCommand(), newMonitorStopCommand())
	return cmd
}

func newMonitorStartCommand() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create a monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			m, err := c.StartMonitor(cmd.Context(), window)
			if err != nil {
				return shared.WrapAPIError("failed to start monitor", err)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), m)
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "Pricing window (default from daemon config)")
	return cmd
}

func newMonitorTickCommand() *cobra.Command {
	var prices []string
	cmd := &cobra.Command{
		Use:   "tick <monitor-id>",
		Short: "Evaluate a monitor once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := ParsePrices(prices)
			if err != nil {
				return shared.NewInvalidInputError("invalid --price", err)
			}
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			m, err := c.Tick(cmd.Context(), api.MonitorTickRequest{MonitorID: args[0], Prices: overrides})
			if err != nil {
				return shared.WrapAPIError("tick failed", err)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), m)
			}
			if m.LastDecision != nil {
				printDecision(cmd, m.LastDecision)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&prices, "price", nil, "Price override as provider/model=usd_per_1k (repeatable)")
	return cmd
}

func newMonitorListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List monitors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			list, err := c.Monitors(cmd.Context())
			if err != nil {
				return shared.WrapAPIError("failed to list monitors", err)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), list)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWINDOW\tTICKS\tLAST ACTION\tCREATED")
			for _, m := range list {
				action := "-"
				if m.LastDecision != nil {
					action = m.LastDecision.Action
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", m.ID, m.Window, m.Ticks, action, m.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func newMonitorStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <monitor-id>",
		Short: "Remove a monitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			if err := c.StopMonitor(cmd.Context(), args[0]); err != nil {
				return shared.WrapAPIError("failed to stop monitor", err)
			}
			if !shared.GetQuiet() && !shared.GetJSON() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("stopped "+args[0]))
			}
			return nil
		},
	}
}

// ParsePrices parses provider/model=price entries.
func ParsePrices(entries []string) (pricing.Snapshot, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := pricing.Snapshot{}
	for _, e := range entries {
		key, raw, ok := strings.Cut(e, "=")
		provider, model, ok2 := strings.Cut(key, "/")
		if !ok || !ok2 || provider == "" || model == "" {
			return nil, fmt.Errorf("%q: expected provider/model=price", e)
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", e, err)
		}
		if out[provider] == nil {
			out[provider] = map[string]float64{}
		}
		out[provider][model] = price
	}
	for provider, models := range out {
		for model := range models {
			if _, ok := out.Price(provider, model); !ok {
				return nil, fmt.Errorf("%s/%s: price must be a finite, non-negative number", provider, model)
			}
		}
	}
	return out, nil
}

func printDecision(cmd *cobra.Command, d *finops.Decision) {
	out := cmd.OutOrStdout()
	if d.Action == finops.ActionDefaultOrder {
		fmt.Fprintln(out, shared.RenderWarn("kept default order"))
	} else {
		fmt.Fprintln(out, shared.RenderOK(d.Action))
	}
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("priority:"), strings.Join(d.ProviderPriority, " > "))
	if d.Reason != "" {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("reason:"), d.Reason)
	}
	if d.FeedError != "" {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("feed error:"), d.FeedError)
	}
}
