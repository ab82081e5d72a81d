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

// Package ledger defines the outcome ledger: an append-only log of provider
// attempts plus the single current routing PolicyState.
//
// # Interface Hierarchy
//
//   - Store (required): InsertEvent, SummaryByProvider, GetPolicyState, SetPolicyState
//   - EventLister (optional): ListEvents, for audit and diagnostics
//   - io.Closer (optional): Close
//
// Backends live in the memory, sqlite and postgres subpackages. Callers on
// the request path write through a Recorder, which never returns an error.
package ledger

import (
	"context"
	"errors"
	"io"
	"maps"
	"slices"
	"time"
)

// ErrWriteFailure wraps errors returned by a backend while appending a record.
var ErrWriteFailure = errors.New("ledger: write failure")

// AgentTypeFinOps marks records written by the cost evaluator. They are
// excluded from provider health summaries.
const AgentTypeFinOps = "finops"

// Outcome is the terminal state of one provider attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// AttemptRecord is one logged invocation. Records are immutable once written.
type AttemptRecord struct {
	ID        string         `json:"id"`
	RouteID   string         `json:"route_id,omitempty"`
	AgentType string         `json:"agent_type"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model,omitempty"`
	TaskType  string         `json:"task_type"`
	Outcome   Outcome        `json:"outcome"`
	Success   bool           `json:"success"`
	Reward    float64        `json:"reward"`
	LatencyMS int64          `json:"latency_ms"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// AttemptLatencyMS is the time spent in this attempt alone. LatencyMS
	// on a winning attempt also covers the candidates tried before it, so
	// health summaries average this field instead.
	AttemptLatencyMS int64 `json:"attempt_latency_ms"`

	// Seq is assigned by the store and reflects insertion order.
	Seq int64 `json:"seq"`
}

// ProviderHealthSummary aggregates the attempts for one provider.
// Cancelled attempts say nothing about the provider and are not counted.
type ProviderHealthSummary struct {
	Provider     string  `json:"provider"`
	Total        int     `json:"total"`
	Success      int     `json:"success"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// SuccessRate returns success / max(total, 1).
func (s ProviderHealthSummary) SuccessRate() float64 {
	return float64(s.Success) / float64(max(s.Total, 1))
}

// PolicyState is the single current routing preference.
type PolicyState struct {
	ProviderPriority []string                     `json:"provider_priority"`
	ModelPrefs       map[string]map[string]string `json:"model_prefs"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// ModelFor returns the preferred model for provider and task type, or "".
func (p PolicyState) ModelFor(provider, taskType string) string {
	return p.ModelPrefs[provider][taskType]
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (p PolicyState) Clone() PolicyState {
	out := PolicyState{
		ProviderPriority: slices.Clone(p.ProviderPriority),
		UpdatedAt:        p.UpdatedAt,
	}
	if p.ModelPrefs != nil {
		out.ModelPrefs = make(map[string]map[string]string, len(p.ModelPrefs))
		for provider, prefs := range p.ModelPrefs {
			out.ModelPrefs[provider] = maps.Clone(prefs)
		}
	}
	return out
}

// Seed returns a copy of seed stamped with now, with ModelPrefs non-nil.
func Seed(seed PolicyState, now time.Time) PolicyState {
	out := seed.Clone()
	if out.ModelPrefs == nil {
		out.ModelPrefs = map[string]map[string]string{}
	}
	out.UpdatedAt = now.UTC()
	return out
}

// PolicyUpdate is a partial replacement of PolicyState. Nil fields keep
// their previous value.
type PolicyUpdate struct {
	ProviderPriority []string                     `json:"provider_priority,omitempty"`
	ModelPrefs       map[string]map[string]string `json:"model_prefs,omitempty"`
}

// Merge applies u onto p and stamps the result with now.
func (p PolicyState) Merge(u PolicyUpdate, now time.Time) PolicyState {
	next := p.Clone()
	if u.ProviderPriority != nil {
		next.ProviderPriority = slices.Clone(u.ProviderPriority)
	}
	if u.ModelPrefs != nil {
		next.ModelPrefs = PolicyState{ModelPrefs: u.ModelPrefs}.Clone().ModelPrefs
	}
	next.UpdatedAt = now
	return next
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	RouteID   string
	Provider  string
	AgentType string

	// Limit keeps the most recent N matches, still returned in insertion order.
	Limit int
}

// Match reports whether rec passes the filter's field constraints.
func (f EventFilter) Match(rec AttemptRecord) bool {
	if f.RouteID != "" && rec.RouteID != f.RouteID {
		return false
	}
	if f.Provider != "" && rec.Provider != f.Provider {
		return false
	}
	if f.AgentType != "" && rec.AgentType != f.AgentType {
		return false
	}
	return true
}

// Store is the outcome ledger contract implemented by every backend.
type Store interface {
	// InsertEvent appends a record. The store assigns Seq, and fills ID
	// and Timestamp when they are empty.
	InsertEvent(ctx context.Context, rec AttemptRecord) error

	// SummaryByProvider aggregates records newer than now-window. A zero
	// window covers all time. Providers with no attempts are omitted, as
	// are AgentTypeFinOps records.
	SummaryByProvider(ctx context.Context, window time.Duration) (map[string]ProviderHealthSummary, error)

	// GetPolicyState returns the current state, creating it from the
	// store's default ordering on first use.
	GetPolicyState(ctx context.Context) (PolicyState, error)

	// SetPolicyState merges u into the current state atomically and
	// returns the new state.
	SetPolicyState(ctx context.Context, u PolicyUpdate) (PolicyState, error)
}

// EventLister is an optional interface for reading records back.
//
//	if lister, ok := store.(EventLister); ok {
//	    recs, err := lister.ListEvents(ctx, filter)
//	}
type EventLister interface {
	ListEvents(ctx context.Context, filter EventFilter) ([]AttemptRecord, error)
}

// Backend composes the full set of capabilities a durable store provides.
type Backend interface {
	Store
	EventLister
	io.Closer
}

// Since converts a window into the lower bound for record timestamps. A
// zero or negative window yields the zero time.
func Since(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return now.Add(-window)
}
