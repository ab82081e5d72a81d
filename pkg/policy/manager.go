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

// Package policy turns the current PolicyState into ranked provider
// candidates and validates preference updates.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	syerrors "github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/ledger"
)

// ErrInvalidPreference is matched by every rejected preference update.
var ErrInvalidPreference = errors.New("policy: invalid preference")

// Candidate is one provider/model pair to attempt. An empty Model lets the
// adapter choose its default.
type Candidate struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// CandidateList is an ordered attempt plan. It is never persisted.
type CandidateList []Candidate

// Providers returns the provider ids in order.
func (l CandidateList) Providers() []string {
	out := make([]string, len(l))
	for i, c := range l {
		out[i] = c.Provider
	}
	return out
}

// Manager reads and writes routing preferences through a ledger.Store.
type Manager struct {
	store      ledger.Store
	classifier Classifier
	known      func(provider string) bool
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClassifier replaces the default keyword classifier.
func WithClassifier(c Classifier) Option {
	return func(m *Manager) { m.classifier = c }
}

// WithProviderFilter skips providers for which known returns false, such
// as ids with no registered adapter.
func WithProviderFilter(known func(provider string) bool) Option {
	return func(m *Manager) { m.known = known }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager backed by store.
func NewManager(store ledger.Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		classifier: NewKeywordClassifier(nil, ""),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ChooseProviderModel classifies task when taskType is empty and returns
// candidates in ProviderPriority order with preferred models substituted.
func (m *Manager) ChooseProviderModel(ctx context.Context, task, taskType string) (string, CandidateList, error) {
	if taskType == "" {
		taskType = m.classifier.Classify(task)
	}

	state, err := m.store.GetPolicyState(ctx)
	if err != nil {
		return taskType, nil, syerrors.Wrap(err, "failed to read policy state")
	}

	candidates := make(CandidateList, 0, len(state.ProviderPriority))
	for _, provider := range state.ProviderPriority {
		if m.known != nil && !m.known(provider) {
			m.logger.Debug("skipping provider with no adapter", slog.String("provider", provider))
			continue
		}
		candidates = append(candidates, Candidate{
			Provider: provider,
			Model:    state.ModelFor(provider, taskType),
		})
	}
	return taskType, candidates, nil
}

// Preferences returns the current PolicyState.
func (m *Manager) Preferences(ctx context.Context) (ledger.PolicyState, error) {
	return m.store.GetPolicyState(ctx)
}

// SetPreferences validates u and merges it into the PolicyState. A nil
// ProviderPriority means no change; an explicit empty list is rejected.
func (m *Manager) SetPreferences(ctx context.Context, u ledger.PolicyUpdate) (ledger.PolicyState, error) {
	if err := ValidateUpdate(u); err != nil {
		return ledger.PolicyState{}, err
	}
	state, err := m.store.SetPolicyState(ctx, u)
	if err != nil {
		return ledger.PolicyState{}, syerrors.Wrap(err, "failed to store policy state")
	}
	m.logger.Info("policy preferences updated",
		slog.Any("provider_priority", state.ProviderPriority),
		slog.Bool("model_prefs_changed", u.ModelPrefs != nil),
	)
	return state, nil
}

// ValidateUpdate rejects empty or duplicated priorities and blank model
// preference keys.
func ValidateUpdate(u ledger.PolicyUpdate) error {
	if u.ProviderPriority != nil {
		if len(u.ProviderPriority) == 0 {
			return invalid("provider_priority", "must not be empty when provided")
		}
		seen := make(map[string]bool, len(u.ProviderPriority))
		for _, p := range u.ProviderPriority {
			if p == "" {
				return invalid("provider_priority", "provider names must not be empty")
			}
			if seen[p] {
				return invalid("provider_priority", fmt.Sprintf("duplicate provider %q", p))
			}
			seen[p] = true
		}
	}
	for provider, prefs := range u.ModelPrefs {
		if provider == "" {
			return invalid("model_prefs", "provider names must not be empty")
		}
		for taskType, model := range prefs {
			if taskType == "" || model == "" {
				return invalid("model_prefs", fmt.Sprintf("provider %q has an empty task type or model", provider))
			}
		}
	}
	return nil
}

func invalid(field, msg string) error {
	return fmt.Errorf("%w: %w", ErrInvalidPreference, &syerrors.ValidationError{
		Field:      field,
		Message:    msg,
		Suggestion: "provide a non-empty list of distinct provider ids",
	})
}
