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

// Package health is the ledger-driven circuit breaker. It drops providers
// whose recent success rate or latency crosses configured thresholds.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/policy"
)

// Config holds the breaker thresholds.
type Config struct {
	// Window limits summaries to recent records. Zero means all time.
	Window time.Duration

	// MinSuccessRate excludes providers below this success ratio.
	MinSuccessRate float64

	// MaxAvgLatencyMS excludes providers slower than this on average.
	MaxAvgLatencyMS float64

	// MinSamples is the number of attempts needed before a provider can be
	// excluded.
	MinSamples int

	// FailOpen returns the unfiltered list when every candidate would be
	// excluded. When false an empty list is returned instead.
	FailOpen bool
}

// DefaultConfig returns the standard thresholds: 20% success, 3000ms.
func DefaultConfig() Config {
	return Config{
		MinSuccessRate:  0.2,
		MaxAvgLatencyMS: 3000,
		MinSamples:      1,
		FailOpen:        true,
	}
}

// Verdict is the health decision for one provider.
type Verdict struct {
	Provider     string  `json:"provider"`
	Healthy      bool    `json:"healthy"`
	Reason       string  `json:"reason,omitempty"`
	Total        int     `json:"total"`
	Success      int     `json:"success"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Filter prunes candidate lists using ledger summaries.
type Filter struct {
	store  ledger.Store
	cfg    Config
	logger *slog.Logger
}

// NewFilter creates a Filter. A nil logger uses slog.Default.
func NewFilter(store ledger.Store, cfg Config, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 1
	}
	return &Filter{store: store, cfg: cfg, logger: logger}
}

// Config returns the thresholds in use.
func (f *Filter) Config() Config { return f.cfg }

// Apply removes unhealthy providers from candidates, keeping order.
// Providers without attempts are kept. A ledger read error returns the
// input unchanged.
func (f *Filter) Apply(ctx context.Context, candidates policy.CandidateList) policy.CandidateList {
	if len(candidates) == 0 {
		return candidates
	}

	summaries, err := f.store.SummaryByProvider(ctx, f.cfg.Window)
	if err != nil {
		f.logger.Warn("health summary unavailable, skipping breaker",
			slog.String("error", err.Error()),
		)
		return candidates
	}

	kept := make(policy.CandidateList, 0, len(candidates))
	for _, c := range candidates {
		s, seen := summaries[c.Provider]
		if !seen {
			kept = append(kept, c)
			continue
		}
		if ok, reason := f.Judge(s); !ok {
			f.logger.Info("provider excluded by breaker",
				slog.String("provider", c.Provider),
				slog.String("reason", reason),
			)
			continue
		}
		kept = append(kept, c)
	}

	if len(kept) == 0 {
		if f.cfg.FailOpen {
			f.logger.Warn("all candidates unhealthy, using unfiltered list",
				slog.Any("providers", candidates.Providers()),
			)
			return candidates
		}
		return policy.CandidateList{}
	}
	return kept
}

// Judge applies the thresholds to one summary.
func (f *Filter) Judge(s ledger.ProviderHealthSummary) (bool, string) {
	if s.Total < f.cfg.MinSamples {
		return true, ""
	}
	if rate := s.SuccessRate(); rate < f.cfg.MinSuccessRate {
		return false, fmt.Sprintf("success rate %.2f below %.2f", rate, f.cfg.MinSuccessRate)
	}
	if s.AvgLatencyMS > f.cfg.MaxAvgLatencyMS {
		return false, fmt.Sprintf("average latency %.0fms above %.0fms", s.AvgLatencyMS, f.cfg.MaxAvgLatencyMS)
	}
	return true, ""
}

// Report returns a verdict for every provider in the ledger window plus
// any extra ids, sorted by provider.
func (f *Filter) Report(ctx context.Context, extra ...string) ([]Verdict, error) {
	summaries, err := f.store.SummaryByProvider(ctx, f.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize ledger: %w", err)
	}

	ids := make([]string, 0, len(summaries)+len(extra))
	for id := range summaries {
		ids = append(ids, id)
	}
	for _, id := range extra {
		if _, ok := summaries[id]; !ok && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	out := make([]Verdict, 0, len(ids))
	for _, id := range ids {
		s, ok := summaries[id]
		v := Verdict{Provider: id, Healthy: true}
		if ok {
			v.Healthy, v.Reason = f.Judge(s)
			v.Total = s.Total
			v.Success = s.Success
			v.SuccessRate = s.SuccessRate()
			v.AvgLatencyMS = s.AvgLatencyMS
		} else {
			v.Reason = "no attempts recorded"
		}
		out = append(out, v)
	}
	return out, nil
}
