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

package finops

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syerrors "github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/events"
	"github.com/tombee/switchyard/pkg/events/eventstest"
	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/ledger/memory"
	"github.com/tombee/switchyard/pkg/llm/pricing"
	"github.com/tombee/switchyard/pkg/policy"
)

type feedFunc func(ctx context.Context, window time.Duration) (pricing.Snapshot, error)

func (f feedFunc) CurrentPrices(ctx context.Context, window time.Duration) (pricing.Snapshot, error) {
	return f(ctx, window)
}

func staticFeed(s pricing.Snapshot) PriceFeed {
	return feedFunc(func(context.Context, time.Duration) (pricing.Snapshot, error) { return s.Clone(), nil })
}

type counter struct{ actions []string }

func (c *counter) ObserveDecision(action string) { c.actions = append(c.actions, action) }

type harness struct {
	store    *memory.Backend
	events   *eventstest.Collector
	observer *counter
	eval     *Evaluator
}

func newHarness(t *testing.T, feed PriceFeed, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(ledger.PolicyState{ProviderPriority: []string{"openai", "gemini", "anthropic"}}),
		events:   &eventstest.Collector{},
		observer: &counter{},
	}
	base := []Option{WithAnnouncer(h.events), WithObserver(h.observer)}
	h.eval = New(feed, policy.NewManager(h.store), ledger.NewRecorder(h.store, nil, nil), append(base, opts...)...)
	return h
}

func (h *harness) priority(t *testing.T) []string {
	t.Helper()
	state, err := h.store.GetPolicyState(context.Background())
	require.NoError(t, err)
	return state.ProviderPriority
}

func (h *harness) finopsRecords(t *testing.T) []ledger.AttemptRecord {
	t.Helper()
	recs, err := h.store.ListEvents(context.Background(), ledger.EventFilter{AgentType: ledger.AgentTypeFinOps})
	require.NoError(t, err)
	return recs
}

func TestEvaluate_CheaperFlagshipWins(t *testing.T) {
	h := newHarness(t, nil)

	d, err := h.eval.Evaluate(context.Background(), time.Hour, pricing.Snapshot{
		"openai": {"gpt-4": 0.03},
		"gemini": {"ultra": 0.01},
	})
	require.NoError(t, err)

	assert.Equal(t, "switch_to_gemini", d.Action)
	assert.Equal(t, []string{"gemini", "openai", "anthropic", "ollama", "bedrock"}, d.ProviderPriority)
	assert.Equal(t, d.ProviderPriority, h.priority(t))
	assert.InDelta(t, 0.01, d.Prices["gemini"]["ultra"], 1e-9)

	recs := h.finopsRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "gemini", recs[0].Provider)
	assert.Equal(t, "switch_to_gemini", recs[0].Meta["action"])
	assert.Equal(t, d.ID, recs[0].ID)
	assert.Zero(t, recs[0].Reward)

	updates := h.events.On(events.ChannelPolicyUpdate)
	require.Len(t, updates, 1)
	payload := updates[0].Payload.(map[string]any)
	assert.Equal(t, "switch_to_gemini", payload["action"])
	assert.Equal(t, "1h0m0s", payload["window"])
	assert.Equal(t, d.ProviderPriority, payload["provider_priority"])

	assert.Equal(t, []string{"switch_to_gemini"}, h.observer.actions)
}

func TestEvaluate_OpenAICheaper(t *testing.T) {
	h := newHarness(t, nil)
	d, err := h.eval.Evaluate(context.Background(), 0, pricing.Snapshot{
		"openai": {"gpt-4": 0.001},
		"gemini": {"ultra": 0.01},
	})
	require.NoError(t, err)
	assert.Equal(t, "switch_to_openai", d.Action)
	assert.Equal(t, []string{"openai", "gemini", "anthropic", "ollama", "bedrock"}, d.ProviderPriority)
}

func TestEvaluate_TieKeepsFirst(t *testing.T) {
	h := newHarness(t, nil)
	d, err := h.eval.Evaluate(context.Background(), 0, pricing.Snapshot{
		"openai": {"gpt-4": 0.02},
		"gemini": {"ultra": 0.02},
	})
	require.NoError(t, err)
	assert.Equal(t, "switch_to_openai", d.Action)
}

func TestEvaluate_FallsBackToDefaultOrder(t *testing.T) {
	tests := []struct {
		name      string
		overrides pricing.Snapshot
	}{
		{"missing gemini", pricing.Snapshot{"openai": {"gpt-4": 0.03}}},
		{"missing both", nil},
		{"negative price", pricing.Snapshot{"openai": {"gpt-4": 0.03}, "gemini": {"ultra": -1}}},
		{"nan price", pricing.Snapshot{"openai": {"gpt-4": math.NaN()}, "gemini": {"ultra": 0.01}}},
		{"infinite price", pricing.Snapshot{"openai": {"gpt-4": math.Inf(1)}, "gemini": {"ultra": 0.01}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			d, err := h.eval.Evaluate(context.Background(), time.Minute, tt.overrides)
			require.NoError(t, err)
			assert.Equal(t, ActionDefaultOrder, d.Action)
			assert.Equal(t, DefaultOrder, d.ProviderPriority)
			assert.NotEmpty(t, d.Reason)
			assert.Equal(t, DefaultOrder, h.priority(t))
			assert.Len(t, h.finopsRecords(t), 1)
			assert.Len(t, h.events.On(events.ChannelPolicyUpdate), 1)
		})
	}
}

func TestEvaluate_FeedErrorUsesOverrides(t *testing.T) {
	feed := feedFunc(func(context.Context, time.Duration) (pricing.Snapshot, error) {
		return nil, errors.New("feed offline")
	})
	h := newHarness(t, feed)

	d, err := h.eval.Evaluate(context.Background(), time.Hour, pricing.Snapshot{
		"openai": {"gpt-4": 0.03},
		"gemini": {"ultra": 0.01},
	})
	require.NoError(t, err)
	assert.Equal(t, "switch_to_gemini", d.Action)
	assert.Equal(t, "feed offline", d.FeedError)

	d, err = h.eval.Evaluate(context.Background(), time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionDefaultOrder, d.Action)
}

func TestEvaluate_OverridesWinOverFeed(t *testing.T) {
	var gotWindow time.Duration
	feed := feedFunc(func(_ context.Context, window time.Duration) (pricing.Snapshot, error) {
		gotWindow = window
		return pricing.Defaults(), nil
	})
	h := newHarness(t, feed)

	d, err := h.eval.Evaluate(context.Background(), 2*time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, gotWindow)
	assert.Equal(t, "switch_to_gemini", d.Action, "built-in prices favour gemini ultra")

	d, err = h.eval.Evaluate(context.Background(), 2*time.Hour, pricing.Snapshot{"gemini": {"ultra": 0.5}})
	require.NoError(t, err)
	assert.Equal(t, "switch_to_openai", d.Action)
}

func TestEvaluate_CustomFlagshipsAndOrder(t *testing.T) {
	cfg := Config{
		Flagships:    [2]PricePoint{{Provider: "anthropic", Model: "opus"}, {Provider: "bedrock", Model: "titan"}},
		DefaultOrder: []string{"ollama", "openai"},
	}
	h := newHarness(t, nil, WithConfig(cfg))
	d, err := h.eval.Evaluate(context.Background(), 0, pricing.Snapshot{
		"anthropic": {"opus": 0.015},
		"bedrock":   {"titan": 0.0002},
	})
	require.NoError(t, err)
	assert.Equal(t, "switch_to_bedrock", d.Action)
	assert.Equal(t, []string{"bedrock", "anthropic", "ollama", "openai"}, d.ProviderPriority)
}

type failingSetter struct{}

func (failingSetter) SetPreferences(context.Context, ledger.PolicyUpdate) (ledger.PolicyState, error) {
	return ledger.PolicyState{}, errors.New("store down")
}

func TestEvaluate_SetPreferencesFailure(t *testing.T) {
	store := memory.New(ledger.PolicyState{ProviderPriority: []string{"openai"}})
	e := New(nil, failingSetter{}, ledger.NewRecorder(store, nil, nil))
	_, err := e.Evaluate(context.Background(), 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}

func TestOrdering(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, Ordering("b", "a", []string{"a", "b", "c"}))
	assert.Equal(t, []string{"x", "y", "a"}, Ordering("x", "y", []string{"a"}))
	assert.Equal(t, []string{"a", "b"}, Ordering("a", "a", []string{"b"}))
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(DefaultConfig()))

	cfg := DefaultConfig()
	cfg.Flagships[1] = cfg.Flagships[0]
	var verr *syerrors.ValidationError
	require.True(t, errors.As(ValidateConfig(cfg), &verr))
	assert.Equal(t, "finops.flagships", verr.Field)

	cfg = DefaultConfig()
	cfg.Flagships[0].Model = ""
	require.True(t, errors.As(ValidateConfig(cfg), &verr))
	assert.Equal(t, "finops.flagships[0]", verr.Field)
}

func TestMonitor_Lifecycle(t *testing.T) {
	h := newHarness(t, nil, WithConfig(Config{MinTickInterval: 0}))
	ctx := context.Background()

	m := h.eval.Start(30 * time.Minute)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, 30*time.Minute, m.Window)
	assert.Zero(t, m.Ticks)

	ticked, err := h.eval.Tick(ctx, m.ID, pricing.Snapshot{"openai": {"gpt-4": 0.03}, "gemini": {"ultra": 0.01}})
	require.NoError(t, err)
	assert.Equal(t, 1, ticked.Ticks)
	require.NotNil(t, ticked.LastDecision)
	assert.Equal(t, "switch_to_gemini", ticked.LastDecision.Action)
	assert.Equal(t, 30*time.Minute, ticked.LastDecision.Window)

	ticked, err = h.eval.Tick(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ticked.Ticks)
	assert.Equal(t, ActionDefaultOrder, ticked.LastDecision.Action)

	got, err := h.eval.Monitor(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Ticks)

	second := h.eval.Start(time.Hour)
	list := h.eval.Monitors()
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{m.ID, second.ID}, []string{list[0].ID, list[1].ID})

	require.NoError(t, h.eval.Stop(m.ID))
	assert.Len(t, h.eval.Monitors(), 1)

	_, err = h.eval.Tick(ctx, m.ID, nil)
	var nf *syerrors.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "monitor", nf.Resource)

	assert.True(t, errors.As(h.eval.Stop("missing"), &nf))
}

func TestMonitor_TickRateLimited(t *testing.T) {
	h := newHarness(t, nil, WithConfig(Config{MinTickInterval: time.Hour}))
	m := h.eval.Start(time.Minute)

	_, err := h.eval.Tick(context.Background(), m.ID, nil)
	require.NoError(t, err)
	_, err = h.eval.Tick(context.Background(), m.ID, nil)
	assert.ErrorIs(t, err, ErrTickRateLimited)

	other := h.eval.Start(time.Minute)
	_, err = h.eval.Tick(context.Background(), other.ID, nil)
	assert.NoError(t, err, "limits are per monitor")
}

func TestRun(t *testing.T) {
	var calls atomic.Int32
	feed := feedFunc(func(context.Context, time.Duration) (pricing.Snapshot, error) {
		calls.Add(1)
		return pricing.Defaults(), nil
	})
	h := newHarness(t, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	err := h.eval.Run(ctx, 20*time.Millisecond, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))

	assert.Error(t, h.eval.Run(context.Background(), 0, time.Hour))
}
