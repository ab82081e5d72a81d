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

// Package finops is the cost evaluator. It compares flagship prices,
// rewrites the provider priority through the policy manager and logs every
// decision to the ledger.
package finops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	syerrors "github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/events"
	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/llm/pricing"
)

// ActionDefaultOrder is recorded when the flagship prices cannot be
// compared.
const ActionDefaultOrder = "default_order"

// DefaultOrder is the fallback provider ordering.
var DefaultOrder = []string{"openai", "gemini", "anthropic", "ollama", "bedrock"}

// DefaultFlagships is the compared price pair.
var DefaultFlagships = [2]PricePoint{
	{Provider: "openai", Model: "gpt-4"},
	{Provider: "gemini", Model: "ultra"},
}

// PriceFeed supplies current prices. pricing.StaticFeed and
// pricing.HTTPFeed implement it.
type PriceFeed interface {
	CurrentPrices(ctx context.Context, window time.Duration) (pricing.Snapshot, error)
}

// PreferenceSetter applies a new ordering. policy.Manager implements it.
type PreferenceSetter interface {
	SetPreferences(ctx context.Context, u ledger.PolicyUpdate) (ledger.PolicyState, error)
}

// DecisionObserver counts decisions by action.
type DecisionObserver interface {
	ObserveDecision(action string)
}

// PricePoint is one provider/model price compared by the evaluator.
type PricePoint struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Config holds the evaluator's comparison settings.
type Config struct {
	Flagships    [2]PricePoint
	DefaultOrder []string

	// MinTickInterval rate limits Tick per monitor. Zero disables the limit.
	MinTickInterval time.Duration
}

// DefaultConfig returns the openai/gpt-4 vs gemini/ultra comparison.
func DefaultConfig() Config {
	return Config{
		Flagships:       DefaultFlagships,
		DefaultOrder:    slices.Clone(DefaultOrder),
		MinTickInterval: time.Second,
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	ID               string           `json:"id"`
	Action           string           `json:"action"`
	ProviderPriority []string         `json:"provider_priority"`
	Prices           pricing.Snapshot `json:"prices"`
	Window           time.Duration    `json:"window"`
	Reason           string           `json:"reason,omitempty"`

	// FeedError is set when the price feed failed and only overrides were
	// considered.
	FeedError string    `json:"feed_error,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Evaluator recomputes the provider priority from prices.
type Evaluator struct {
	feed      PriceFeed
	prefs     PreferenceSetter
	recorder  *ledger.Recorder
	announcer events.Announcer
	observer  DecisionObserver
	logger    *slog.Logger
	cfg       Config

	monitors *monitorSet
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithAnnouncer sets the event announcer.
func WithAnnouncer(a events.Announcer) Option {
	return func(e *Evaluator) { e.announcer = a }
}

// WithObserver sets the decision observer.
func WithObserver(o DecisionObserver) Option {
	return func(e *Evaluator) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(e *Evaluator) { e.cfg = cfg }
}

// New creates an Evaluator. feed may be nil, in which case only explicit
// overrides are priced.
func New(feed PriceFeed, prefs PreferenceSetter, recorder *ledger.Recorder, opts ...Option) *Evaluator {
	e := &Evaluator{
		feed:      feed,
		prefs:     prefs,
		recorder:  recorder,
		announcer: events.Discard,
		logger:    slog.Default(),
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.cfg.DefaultOrder) == 0 {
		e.cfg.DefaultOrder = slices.Clone(DefaultOrder)
	}
	if e.cfg.Flagships == ([2]PricePoint{}) {
		e.cfg.Flagships = DefaultFlagships
	}
	e.monitors = newMonitorSet(e.cfg.MinTickInterval)
	return e
}

// Evaluate prices the flagship pair and applies the resulting ordering.
// Feed failures and unusable prices fall back to the default ordering; only
// a failure to store the new preferences is returned.
func (e *Evaluator) Evaluate(ctx context.Context, window time.Duration, overrides pricing.Snapshot) (*Decision, error) {
	d := &Decision{
		ID:        uuid.NewString(),
		Window:    window,
		DecidedAt: time.Now().UTC(),
	}

	snapshot := pricing.Snapshot{}
	if e.feed != nil {
		fed, err := e.feed.CurrentPrices(ctx, window)
		if err != nil {
			d.FeedError = err.Error()
			e.logger.Warn("price feed failed, using overrides only",
				slog.Duration("window", window),
				slog.String("error", err.Error()),
			)
		} else {
			snapshot = fed
		}
	}
	snapshot = snapshot.Merge(overrides)

	e.decide(d, snapshot)

	if _, err := e.prefs.SetPreferences(ctx, ledger.PolicyUpdate{ProviderPriority: slices.Clone(d.ProviderPriority)}); err != nil {
		return nil, syerrors.Wrap(err, "failed to apply provider priority")
	}

	e.announcer.Publish(ctx, events.ChannelPolicyUpdate, map[string]any{
		"decision_id":       d.ID,
		"provider_priority": d.ProviderPriority,
		"prices":            d.Prices,
		"action":            d.Action,
		"window":            window.String(),
	})

	meta := map[string]any{
		"action":            d.Action,
		"provider_priority": d.ProviderPriority,
		"prices":            d.Prices,
		"window":            window.String(),
	}
	if d.Reason != "" {
		meta["reason"] = d.Reason
	}
	if d.FeedError != "" {
		meta["feed_error"] = d.FeedError
	}
	e.recorder.Record(context.WithoutCancel(ctx), ledger.AttemptRecord{
		ID:        d.ID,
		AgentType: ledger.AgentTypeFinOps,
		Provider:  d.ProviderPriority[0],
		TaskType:  ledger.AgentTypeFinOps,
		Outcome:   ledger.OutcomeSuccess,
		Success:   true,
		Reward:    0,
		Meta:      meta,
		Timestamp: d.DecidedAt,
	})

	if e.observer != nil {
		e.observer.ObserveDecision(d.Action)
	}
	e.logger.Info("provider priority evaluated",
		slog.String("action", d.Action),
		slog.Any("provider_priority", d.ProviderPriority),
		slog.Duration("window", window),
	)
	return d, nil
}

// decide fills Action, ProviderPriority, Prices and Reason.
func (e *Evaluator) decide(d *Decision, snapshot pricing.Snapshot) {
	first, second := e.cfg.Flagships[0], e.cfg.Flagships[1]
	d.Prices = pricing.Snapshot{}

	firstPrice, firstOK := snapshot.Price(first.Provider, first.Model)
	secondPrice, secondOK := snapshot.Price(second.Provider, second.Model)
	if firstOK {
		d.Prices[first.Provider] = map[string]float64{first.Model: firstPrice}
	}
	if secondOK {
		if d.Prices[second.Provider] == nil {
			d.Prices[second.Provider] = map[string]float64{}
		}
		d.Prices[second.Provider][second.Model] = secondPrice
	}

	if !firstOK || !secondOK {
		d.Action = ActionDefaultOrder
		d.ProviderPriority = slices.Clone(e.cfg.DefaultOrder)
		d.Reason = missingReason(first, firstOK, second, secondOK)
		return
	}

	winner, loser := first, second
	if secondPrice < firstPrice {
		winner, loser = second, first
	}
	d.Action = "switch_to_" + winner.Provider
	d.ProviderPriority = Ordering(winner.Provider, loser.Provider, e.cfg.DefaultOrder)
}

// Ordering puts winner then runnerUp first, followed by the rest of
// defaults in order.
func Ordering(winner, runnerUp string, defaults []string) []string {
	out := []string{winner}
	if runnerUp != winner {
		out = append(out, runnerUp)
	}
	for _, p := range defaults {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func missingReason(first PricePoint, firstOK bool, second PricePoint, secondOK bool) string {
	var missing []string
	if !firstOK {
		missing = append(missing, first.Provider+"/"+first.Model)
	}
	if !secondOK {
		missing = append(missing, second.Provider+"/"+second.Model)
	}
	return fmt.Sprintf("missing or invalid price for %v", missing)
}

// ValidateConfig rejects unusable comparison settings.
func ValidateConfig(cfg Config) error {
	for i, p := range cfg.Flagships {
		if p.Provider == "" || p.Model == "" {
			return &syerrors.ValidationError{
				Field:   fmt.Sprintf("finops.flagships[%d]", i),
				Message: "provider and model are required",
			}
		}
	}
	if cfg.Flagships[0] == cfg.Flagships[1] {
		return &syerrors.ValidationError{
			Field:   "finops.flagships",
			Message: "the compared price points must differ",
		}
	}
	if cfg.MinTickInterval < 0 {
		return &syerrors.ValidationError{
			Field:   "finops.min_tick_interval",
			Message: "must not be negative",
		}
	}
	return nil
}

// Run evaluates immediately and then every interval until ctx ends.
func (e *Evaluator) Run(ctx context.Context, interval, window time.Duration) error {
	if interval <= 0 {
		return errors.New("finops: interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.Evaluate(ctx, window, nil); err != nil {
			e.logger.Error("scheduled evaluation failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
