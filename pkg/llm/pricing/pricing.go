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

// Package pricing provides provider price snapshots and the feeds that
// produce them.
package pricing

import (
	"maps"
	"math"
	"sort"
)

// Snapshot maps provider to model to price per 1K tokens in USD.
type Snapshot map[string]map[string]float64

// Price returns the price for provider/model and whether it is present and
// usable (finite and non-negative).
func (s Snapshot) Price(provider, model string) (float64, bool) {
	models, ok := s[provider]
	if !ok {
		return 0, false
	}
	p, ok := models[model]
	if !ok || math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return p, false
	}
	return p, true
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for provider, models := range s {
		out[provider] = maps.Clone(models)
	}
	return out
}

// Merge returns a copy of s with every price in overrides applied on top.
func (s Snapshot) Merge(overrides Snapshot) Snapshot {
	out := s.Clone()
	for provider, models := range overrides {
		if out[provider] == nil {
			out[provider] = make(map[string]float64, len(models))
		}
		for model, price := range models {
			out[provider][model] = price
		}
	}
	return out
}

// Providers returns the provider ids with at least one price, sorted.
func (s Snapshot) Providers() []string {
	out := make([]string, 0, len(s))
	for provider, models := range s {
		if len(models) > 0 {
			out = append(out, provider)
		}
	}
	sort.Strings(out)
	return out
}
