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

package policy

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syerrors "github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/ledger/memory"
)

func newTestManager(t *testing.T, priority []string, opts ...Option) (*Manager, *memory.Backend) {
	t.Helper()
	store := memory.New(ledger.PolicyState{ProviderPriority: priority})
	return NewManager(store, opts...), store
}

func TestChooseProviderModel(t *testing.T) {
	m, store := newTestManager(t, []string{"openai", "gemini", "anthropic"})
	ctx := context.Background()

	_, err := store.SetPolicyState(ctx, ledger.PolicyUpdate{
		ModelPrefs: map[string]map[string]string{"gemini": {"code": "gemini-pro"}},
	})
	require.NoError(t, err)

	taskType, candidates, err := m.ChooseProviderModel(ctx, "refactor this function", "")
	require.NoError(t, err)
	assert.Equal(t, "code", taskType)
	assert.Equal(t, CandidateList{
		{Provider: "openai"},
		{Provider: "gemini", Model: "gemini-pro"},
		{Provider: "anthropic"},
	}, candidates)

	taskType, candidates, err = m.ChooseProviderModel(ctx, "refactor this function", "chat")
	require.NoError(t, err)
	assert.Equal(t, "chat", taskType, "explicit task type skips classification")
	assert.Equal(t, "", candidates[1].Model)
}

func TestChooseProviderModel_ProviderFilter(t *testing.T) {
	known := map[string]bool{"gemini": true}
	m, _ := newTestManager(t, []string{"openai", "gemini"}, WithProviderFilter(func(p string) bool { return known[p] }))

	_, candidates, err := m.ChooseProviderModel(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini"}, candidates.Providers())
}

type staticClassifier string

func (s staticClassifier) Classify(string) string { return string(s) }

func TestChooseProviderModel_CustomClassifier(t *testing.T) {
	m, _ := newTestManager(t, []string{"openai"}, WithClassifier(staticClassifier("vision")))

	taskType, _, err := m.ChooseProviderModel(context.Background(), "describe the image", "")
	require.NoError(t, err)
	assert.Equal(t, "vision", taskType)
}

func TestSetPreferences_Validation(t *testing.T) {
	tests := []struct {
		name   string
		update ledger.PolicyUpdate
		field  string
	}{
		{"explicit empty priority", ledger.PolicyUpdate{ProviderPriority: []string{}}, "provider_priority"},
		{"duplicate priority", ledger.PolicyUpdate{ProviderPriority: []string{"openai", "gemini", "openai"}}, "provider_priority"},
		{"blank provider", ledger.PolicyUpdate{ProviderPriority: []string{"openai", ""}}, "provider_priority"},
		{"blank model", ledger.PolicyUpdate{ModelPrefs: map[string]map[string]string{"openai": {"code": ""}}}, "model_prefs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, []string{"openai", "gemini"})

			_, err := m.SetPreferences(context.Background(), tt.update)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPreference))

			var vErr *syerrors.ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)

			state, err := m.Preferences(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"openai", "gemini"}, state.ProviderPriority, "rejected updates leave state untouched")
		})
	}
}

func TestSetPreferences_AbsentMeansNoChange(t *testing.T) {
	m, _ := newTestManager(t, []string{"openai", "gemini"})
	ctx := context.Background()

	state, err := m.SetPreferences(ctx, ledger.PolicyUpdate{
		ModelPrefs: map[string]map[string]string{"openai": {"code": "gpt-4o"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"openai", "gemini"}, state.ProviderPriority)

	state, err = m.SetPreferences(ctx, ledger.PolicyUpdate{ProviderPriority: []string{"gemini", "openai"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "openai"}, state.ProviderPriority)
	assert.Equal(t, "gpt-4o", state.ModelFor("openai", "code"))
}

func TestPreferenceSwapIsAtomic(t *testing.T) {
	orderA := []string{"openai", "gemini", "anthropic", "ollama"}
	orderB := []string{"bedrock", "anthropic", "gemini", "openai"}
	m, _ := newTestManager(t, orderA)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, candidates, err := m.ChooseProviderModel(ctx, "hello", "")
				if err != nil {
					t.Errorf("choose: %v", err)
					return
				}
				got := candidates.Providers()
				if !slices.Equal(got, orderA) && !slices.Equal(got, orderB) {
					t.Errorf("observed mixed ordering %v", got)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		next := orderB
		if i%2 == 1 {
			next = orderA
		}
		_, err := m.SetPreferences(ctx, ledger.PolicyUpdate{ProviderPriority: next})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

type brokenStore struct {
	ledger.Store
	err error
}

func (s brokenStore) GetPolicyState(context.Context) (ledger.PolicyState, error) {
	return ledger.PolicyState{}, s.err
}

func (s brokenStore) SetPolicyState(context.Context, ledger.PolicyUpdate) (ledger.PolicyState, error) {
	return ledger.PolicyState{}, s.err
}

func TestManager_StoreErrorsAreWrapped(t *testing.T) {
	cause := errors.New("database is locked")
	m := NewManager(brokenStore{err: cause})
	ctx := context.Background()

	taskType, _, err := m.ChooseProviderModel(ctx, "fix this bug", "")
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "code", taskType)
	assert.EqualError(t, err, "failed to read policy state: database is locked")

	_, err = m.SetPreferences(ctx, ledger.PolicyUpdate{ProviderPriority: []string{"openai"}})
	require.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "failed to store policy state: database is locked")
}
