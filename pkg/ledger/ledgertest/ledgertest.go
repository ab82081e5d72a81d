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

// Package ledgertest is a conformance suite shared by the ledger backends.
package ledgertest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/pkg/ledger"
)

// DefaultPriority is the seed ordering the factory must configure.
var DefaultPriority = []string{"openai", "gemini", "anthropic"}

// Factory returns a fresh, empty backend seeded with DefaultPriority.
type Factory func(t *testing.T) ledger.Backend

// Run executes every conformance test against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("AppendOnlySummaries", func(t *testing.T) { testAppendOnlySummaries(t, newBackend(t)) })
	t.Run("SummaryWindow", func(t *testing.T) { testSummaryWindow(t, newBackend(t)) })
	t.Run("FinOpsRecordsExcluded", func(t *testing.T) { testFinOpsExcluded(t, newBackend(t)) })
	t.Run("CancelledAttemptsExcluded", func(t *testing.T) { testCancelledExcluded(t, newBackend(t)) })
	t.Run("AttemptLatencyAveraged", func(t *testing.T) { testAttemptLatency(t, newBackend(t)) })
	t.Run("ListEvents", func(t *testing.T) { testListEvents(t, newBackend(t)) })
	t.Run("PolicyDefaultsAndMerge", func(t *testing.T) { testPolicyMerge(t, newBackend(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newBackend(t)) })
	t.Run("AtomicPolicySwap", func(t *testing.T) { testAtomicPolicySwap(t, newBackend(t)) })
}

func attempt(provider string, success bool, latency int64) ledger.AttemptRecord {
	return ledger.AttemptRecord{
		AgentType:        "router",
		Provider:         provider,
		TaskType:         "general",
		Success:          success,
		LatencyMS:        latency,
		AttemptLatencyMS: latency,
		Meta:             map[string]any{"note": provider},
	}
}

func testAppendOnlySummaries(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.InsertEvent(ctx, attempt("openai", i%2 == 0, 100)))
	}
	require.NoError(t, b.InsertEvent(ctx, attempt("gemini", false, 400)))

	before, err := b.ListEvents(ctx, ledger.EventFilter{})
	require.NoError(t, err)
	require.Len(t, before, 5)

	sum, err := b.SummaryByProvider(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sum, 2)
	assert.Equal(t, 4, sum["openai"].Total)
	assert.Equal(t, 2, sum["openai"].Success)
	assert.InDelta(t, 100.0, sum["openai"].AvgLatencyMS, 0.001)
	assert.InDelta(t, 0.5, sum["openai"].SuccessRate(), 0.001)
	assert.Equal(t, 1, sum["gemini"].Total)
	assert.Equal(t, 0, sum["gemini"].Success)

	require.NoError(t, b.InsertEvent(ctx, attempt("gemini", true, 200)))

	sum, err = b.SummaryByProvider(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, sum["gemini"].Total)
	assert.InDelta(t, 300.0, sum["gemini"].AvgLatencyMS, 0.001)

	after, err := b.ListEvents(ctx, ledger.EventFilter{})
	require.NoError(t, err)
	require.Len(t, after, 6)
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Seq, after[i].Seq)
		assert.Equal(t, before[i].Success, after[i].Success)
		assert.Equal(t, before[i].LatencyMS, after[i].LatencyMS)
	}
}

func testSummaryWindow(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	old := attempt("openai", false, 5000)
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	require.NoError(t, b.InsertEvent(ctx, old))
	require.NoError(t, b.InsertEvent(ctx, attempt("openai", true, 50)))

	all, err := b.SummaryByProvider(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, all["openai"].Total)

	recent, err := b.SummaryByProvider(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, recent["openai"].Total)
	assert.Equal(t, 1, recent["openai"].Success)
	assert.InDelta(t, 50.0, recent["openai"].AvgLatencyMS, 0.001)
}

func testFinOpsExcluded(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	require.NoError(t, b.InsertEvent(ctx, ledger.AttemptRecord{
		AgentType: ledger.AgentTypeFinOps,
		Provider:  "gemini",
		TaskType:  "finops",
		Success:   true,
		Meta:      map[string]any{"action": "switch_to_gemini"},
	}))

	sum, err := b.SummaryByProvider(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sum)

	recs, err := b.ListEvents(ctx, ledger.EventFilter{AgentType: ledger.AgentTypeFinOps})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "switch_to_gemini", recs[0].Meta["action"])
}

func testCancelledExcluded(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	require.NoError(t, b.InsertEvent(ctx, attempt("openai", true, 100)))
	for i := 0; i < 5; i++ {
		rec := attempt("openai", false, 9000)
		rec.Outcome = ledger.OutcomeCancelled
		require.NoError(t, b.InsertEvent(ctx, rec))
	}
	cancelledOnly := attempt("gemini", false, 50)
	cancelledOnly.Outcome = ledger.OutcomeCancelled
	require.NoError(t, b.InsertEvent(ctx, cancelledOnly))

	sum, err := b.SummaryByProvider(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum["openai"].Total)
	assert.Equal(t, 1, sum["openai"].Success)
	assert.InDelta(t, 100.0, sum["openai"].AvgLatencyMS, 0.001)
	assert.NotContains(t, sum, "gemini")

	recs, err := b.ListEvents(ctx, ledger.EventFilter{Provider: "openai"})
	require.NoError(t, err)
	assert.Len(t, recs, 6, "cancelled attempts are still recorded")
}

func testAttemptLatency(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	rescued := attempt("gemini", true, 3200)
	rescued.AttemptLatencyMS = 15
	require.NoError(t, b.InsertEvent(ctx, rescued))

	sum, err := b.SummaryByProvider(ctx, 0)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, sum["gemini"].AvgLatencyMS, 0.001)

	recs, err := b.ListEvents(ctx, ledger.EventFilter{Provider: "gemini"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(3200), recs[0].LatencyMS)
	assert.Equal(t, int64(15), recs[0].AttemptLatencyMS)
}

func testListEvents(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := attempt("openai", false, int64(i))
		rec.RouteID = "route-a"
		rec.Outcome = ledger.OutcomeTimeout
		require.NoError(t, b.InsertEvent(ctx, rec))
	}
	rec := attempt("gemini", true, 10)
	rec.RouteID = "route-b"
	rec.Reward = 0.4
	require.NoError(t, b.InsertEvent(ctx, rec))

	routeA, err := b.ListEvents(ctx, ledger.EventFilter{RouteID: "route-a"})
	require.NoError(t, err)
	require.Len(t, routeA, 3)
	for i, r := range routeA {
		assert.Equal(t, int64(i), r.LatencyMS, "records must come back in insertion order")
		assert.Equal(t, ledger.OutcomeTimeout, r.Outcome)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.Timestamp.IsZero())
		if i > 0 {
			assert.Greater(t, r.Seq, routeA[i-1].Seq)
		}
	}

	last, err := b.ListEvents(ctx, ledger.EventFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "openai", last[0].Provider)
	assert.Equal(t, "gemini", last[1].Provider)
	assert.Equal(t, ledger.OutcomeSuccess, last[1].Outcome)
	assert.InDelta(t, 0.4, last[1].Reward, 0.0001)
	assert.Equal(t, "gemini", last[1].Meta["note"])

	byProvider, err := b.ListEvents(ctx, ledger.EventFilter{Provider: "gemini"})
	require.NoError(t, err)
	assert.Len(t, byProvider, 1)
}

func testPolicyMerge(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	state, err := b.GetPolicyState(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPriority, state.ProviderPriority)
	assert.NotNil(t, state.ModelPrefs)

	prefs := map[string]map[string]string{"openai": {"code": "gpt-4o"}}
	state, err = b.SetPolicyState(ctx, ledger.PolicyUpdate{ModelPrefs: prefs})
	require.NoError(t, err)
	assert.Equal(t, DefaultPriority, state.ProviderPriority, "nil priority keeps the previous ordering")
	assert.Equal(t, "gpt-4o", state.ModelFor("openai", "code"))

	state, err = b.SetPolicyState(ctx, ledger.PolicyUpdate{ProviderPriority: []string{"gemini", "openai"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "openai"}, state.ProviderPriority)
	assert.Equal(t, "gpt-4o", state.ModelFor("openai", "code"), "nil model prefs keep the previous map")

	// Mutating a returned state must not leak into the store.
	state.ProviderPriority[0] = "mutated"
	state.ModelPrefs["openai"]["code"] = "mutated"

	again, err := b.GetPolicyState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "openai"}, again.ProviderPriority)
	assert.Equal(t, "gpt-4o", again.ModelFor("openai", "code"))
	assert.False(t, again.UpdatedAt.IsZero())
}

func testConcurrentAppend(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	const writers, perWriter = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := attempt(fmt.Sprintf("p%d", w%2), true, 10)
				rec.RouteID = fmt.Sprintf("route-%d", w)
				assert.NoError(t, b.InsertEvent(ctx, rec))
			}
		}(w)
	}
	wg.Wait()

	sum, err := b.SummaryByProvider(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, sum["p0"].Total+sum["p1"].Total)

	recs, err := b.ListEvents(ctx, ledger.EventFilter{RouteID: "route-3"})
	require.NoError(t, err)
	assert.Len(t, recs, perWriter)
}

func testAtomicPolicySwap(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	orderA := []string{"openai", "gemini", "anthropic"}
	orderB := []string{"anthropic", "ollama", "bedrock"}

	_, err := b.SetPolicyState(ctx, ledger.PolicyUpdate{ProviderPriority: orderA})
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				state, err := b.GetPolicyState(ctx)
				if !assert.NoError(t, err) {
					return
				}
				if !slices.Equal(state.ProviderPriority, orderA) && !slices.Equal(state.ProviderPriority, orderB) {
					t.Errorf("observed mixed ordering %v", state.ProviderPriority)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		next := orderA
		if i%2 == 0 {
			next = orderB
		}
		_, err := b.SetPolicyState(ctx, ledger.PolicyUpdate{ProviderPriority: next})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
