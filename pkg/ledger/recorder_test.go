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

package ledger_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/ledger/memory"
)

type failingStore struct {
	ledger.Store
	err error
}

func (f failingStore) InsertEvent(ctx context.Context, rec ledger.AttemptRecord) error {
	return f.err
}

type countingCounter struct{ n int }

func (c *countingCounter) Inc() { c.n++ }

func TestRecorder_SwallowsWriteFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	counter := &countingCounter{}

	rec := ledger.NewRecorder(failingStore{err: errors.New("disk full")}, logger, counter)
	ok := rec.Record(context.Background(), ledger.AttemptRecord{Provider: "openai", AgentType: "router"})

	assert.False(t, ok)
	assert.Equal(t, 1, counter.n)
	assert.True(t, strings.Contains(buf.String(), "ledger write failed"))
	assert.True(t, strings.Contains(buf.String(), "disk full"))
}

func TestRecorder_Writes(t *testing.T) {
	store := memory.New(ledger.PolicyState{ProviderPriority: []string{"openai"}})
	rec := ledger.NewRecorder(store, nil, nil)

	require.True(t, rec.Record(context.Background(), ledger.AttemptRecord{Provider: "openai", Success: true, LatencyMS: 12}))

	recs, err := store.ListEvents(context.Background(), ledger.EventFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ledger.OutcomeSuccess, recs[0].Outcome)
	assert.NotEmpty(t, recs[0].ID)
	assert.Same(t, store, rec.Store())
}

func TestNormalize(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := ledger.Normalize(ledger.AttemptRecord{}, now)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, now, rec.Timestamp)
	assert.Equal(t, ledger.OutcomeFailure, rec.Outcome)

	kept := ledger.Normalize(ledger.AttemptRecord{ID: "x", Outcome: ledger.OutcomeCancelled, Timestamp: now.Add(-time.Minute)}, now)
	assert.Equal(t, "x", kept.ID)
	assert.Equal(t, ledger.OutcomeCancelled, kept.Outcome)
	assert.Equal(t, now.Add(-time.Minute), kept.Timestamp)
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	recs := []ledger.AttemptRecord{
		{Provider: "a", Success: true, LatencyMS: 5100, AttemptLatencyMS: 100, Timestamp: now},
		{Provider: "a", Success: false, LatencyMS: 300, AttemptLatencyMS: 300, Timestamp: now},
		{Provider: "b", Success: true, LatencyMS: 10, AttemptLatencyMS: 10, Timestamp: now.Add(-2 * time.Hour)},
		{Provider: "a", AgentType: ledger.AgentTypeFinOps, Success: true, Timestamp: now},
		{Provider: "a", Outcome: ledger.OutcomeCancelled, AttemptLatencyMS: 9000, Timestamp: now},
	}

	all := ledger.Summarize(recs, time.Time{})
	assert.Equal(t, ledger.ProviderHealthSummary{Provider: "a", Total: 2, Success: 1, AvgLatencyMS: 200}, all["a"])
	assert.Equal(t, 1, all["b"].Total)

	recent := ledger.Summarize(recs, ledger.Since(now, time.Hour))
	_, hasB := recent["b"]
	assert.False(t, hasB)
}

func TestProviderHealthSummary_SuccessRate(t *testing.T) {
	assert.Equal(t, 0.0, ledger.ProviderHealthSummary{}.SuccessRate())
	assert.InDelta(t, 0.1, ledger.ProviderHealthSummary{Total: 10, Success: 1}.SuccessRate(), 1e-9)
}

func TestPolicyState_MergeDoesNotAlias(t *testing.T) {
	prefs := map[string]map[string]string{"openai": {"code": "gpt-4o"}}
	prio := []string{"openai", "gemini"}

	next := ledger.PolicyState{}.Merge(ledger.PolicyUpdate{ProviderPriority: prio, ModelPrefs: prefs}, time.Now())
	prio[0] = "changed"
	prefs["openai"]["code"] = "changed"

	assert.Equal(t, []string{"openai", "gemini"}, next.ProviderPriority)
	assert.Equal(t, "gpt-4o", next.ModelFor("openai", "code"))
	assert.Equal(t, "", next.ModelFor("gemini", "code"))
}
