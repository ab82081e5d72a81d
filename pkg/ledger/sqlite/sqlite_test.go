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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/ledger/ledgertest"
)

// createTestBackend creates a SQLite backend for testing in a temporary directory.
func createTestBackend(t *testing.T, path string) *Backend {
	t.Helper()

	be, err := New(Config{
		Path: path,
		WAL:  true,
		Seed: ledger.PolicyState{ProviderPriority: ledgertest.DefaultPriority},
	})
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	t.Cleanup(func() { be.Close() })
	return be
}

func TestSQLiteBackend(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Backend {
		return createTestBackend(t, filepath.Join(t.TempDir(), "ledger.db"))
	})
}

func TestSQLiteBackend_PolicySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	first := createTestBackend(t, path)
	_, err := first.SetPolicyState(ctx, ledger.PolicyUpdate{
		ProviderPriority: []string{"gemini", "openai"},
		ModelPrefs:       map[string]map[string]string{"gemini": {"code": "pro"}},
	})
	require.NoError(t, err)
	require.NoError(t, first.InsertEvent(ctx, ledger.AttemptRecord{Provider: "gemini", AgentType: "router", TaskType: "code", Success: true}))
	require.NoError(t, first.Close())

	second := createTestBackend(t, path)
	state, err := second.GetPolicyState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "openai"}, state.ProviderPriority)
	assert.Equal(t, "pro", state.ModelFor("gemini", "code"))

	sum, err := second.SummaryByProvider(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum["gemini"].Total)
}

func TestSQLiteBackend_RequiresPath(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
