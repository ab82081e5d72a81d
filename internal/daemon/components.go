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


package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/switchyard/internal/config"
	internallog "github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
	syerrors "github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/events"
	"github.com/tombee/switchyard/pkg/finops"
	"github.com/tombee/switchyard/pkg/health"
	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/ledger/memory"
	"github.com/tombee/switchyard/pkg/ledger/postgres"
	"github.com/tombee/switchyard/pkg/ledger/sqlite"
	"github.com/tombee/switchyard/pkg/llm"
	"github.com/tombee/switchyard/pkg/llm/pricing"
	"github.com/tombee/switchyard/pkg/llm/providers"
	"github.com/tombee/switchyard/pkg/policy"
)

// OpenLedger opens the configured ledger backend seeded with the routing
// defaults.
func OpenLedger(cfg config.LedgerConfig, routing config.RoutingConfig) (ledger.Backend, error) {
	seed := ledger.PolicyState{
		ProviderPriority: routing.DefaultPriority,
		ModelPrefs:       routing.ModelPrefs,
	}

	switch cfg.Backend {
	case "memory":
		return memory.New(seed), nil
	case "sqlite":
		b, err := sqlite.New(sqlite.Config{Path: cfg.Path, WAL: true, Seed: seed})
		if err != nil {
			return nil, syerrors.Wrap(err, "failed to open sqlite ledger")
		}
		return b, nil
	case "postgres":
		b, err := postgres.New(postgres.Config{
			ConnectionString: cfg.DSN,
			MaxOpenConns:     cfg.MaxOpenConns,
			MaxIdleConns:     cfg.MaxOpenConns,
			Seed:             seed,
		})
		if err != nil {
			return nil, syerrors.Wrap(err, "failed to open postgres ledger")
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// BuildRegistry activates every configured provider. Secrets are resolved
// here so adapters only ever see literal keys.
func BuildRegistry(cfg config.ProvidersMap) (*llm.Registry, error) {
	reg := llm.NewRegistry()
	providers.RegisterFactories(reg)

	for _, id := range cfg.Names() {
		pc := cfg[id]
		key, err := llm.ResolveSecret(pc.APIKey)
		if err != nil {
			return nil, fmt.Errorf("provider %s: failed to resolve api key: %w", id, err)
		}

		s := llm.Settings{
			ID:           id,
			Type:         pc.Type,
			BaseURL:      pc.BaseURL,
			APIKey:       key,
			Model:        pc.Model,
			Region:       pc.Region,
			ResponsePath: pc.ResponsePath,
			Reply:        pc.Reply,
		}
		if pc.MaxRetries > 0 {
			s.Retry = llm.DefaultRetryConfig()
			s.Retry.MaxRetries = pc.MaxRetries
			if pc.RetryBackoff > 0 {
				s.Retry.InitialDelay = pc.RetryBackoff
			}
		}
		if err := reg.Activate(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BuildClassifier compiles the configured rules in order. Keyword rules are
// rendered as expressions so both kinds share one list.
func BuildClassifier(cfg config.ClassifierConfig) (policy.Classifier, error) {
	fallback := policy.NewKeywordClassifier(nil, cfg.Default)
	if len(cfg.Rules) == 0 {
		return fallback, nil
	}

	rules := make([]policy.ExprRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		expr := r.Expr
		if expr == "" {
			expr = policy.KeywordExpr(r.Keywords)
		}
		rules = append(rules, policy.ExprRule{TaskType: r.TaskType, Expr: expr})
	}
	c, err := policy.NewExprClassifier(rules, fallback)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// HealthConfig converts the config section into filter thresholds.
func HealthConfig(cfg config.HealthConfig) health.Config {
	return health.Config{
		Window:          cfg.Window,
		MinSuccessRate:  cfg.MinSuccessRate,
		MaxAvgLatencyMS: cfg.MaxAvgLatencyMS,
		MinSamples:      cfg.MinSamples,
		FailOpen:        cfg.FailOpenEnabled(),
	}
}

// FinOpsConfig converts the config section into evaluator settings.
func FinOpsConfig(cfg config.FinOpsConfig) (finops.Config, error) {
	out := finops.DefaultConfig()
	if len(cfg.Flagships) > 0 {
		if len(cfg.Flagships) != 2 {
			return out, &syerrors.ValidationError{Field: "finops.flagships", Message: fmt.Sprintf("exactly two flagships are compared, got %d", len(cfg.Flagships))}
		}
		for i, p := range cfg.Flagships {
			out.Flagships[i] = finops.PricePoint{Provider: p.Provider, Model: p.Model}
		}
	}
	if len(cfg.DefaultOrder) > 0 {
		out.DefaultOrder = cfg.DefaultOrder
	}
	out.MinTickInterval = cfg.MinTickInterval
	return out, finops.ValidateConfig(out)
}

// BuildSinks creates the configured event sinks. Redis is pinged once so a
// bad URL fails startup instead of every delivery.
func BuildSinks(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) ([]events.Sink, error) {
	var sinks []events.Sink
	if cfg.Log {
		sinks = append(sinks, events.LogSink{Logger: internallog.WithComponent(logger, "events")})
	}
	for i, wh := range cfg.Webhooks {
		s, err := events.NewWebhookSink(wh.URL, wh.Channels, wh.Timeout)
		if err != nil {
			return nil, syerrors.Wrapf(err, "events.webhooks[%d]", i)
		}
		sinks = append(sinks, s)
	}
	if cfg.Redis.URL != "" {
		s, err := events.NewRedisSink(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return nil, syerrors.Wrap(err, "events.redis")
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// NewBus starts an announcer bus with delivery counters wired to metrics.
func NewBus(cfg config.EventsConfig, logger *slog.Logger, sinks ...events.Sink) *events.Bus {
	return events.NewBus(events.BusConfig{
		Buffer:  cfg.Buffer,
		Source:  cfg.Source,
		Logger:  internallog.WithComponent(logger, "events"),
		Dropped: metrics.EventsDropped,
		Failed:  metrics.EventSinkFailures,
	}, sinks...)
}

// BuildPriceFeed returns the HTTP feed when a URL is configured and the
// static file feed otherwise. The static feed is also returned so the
// caller can watch it.
func BuildPriceFeed(cfg config.FinOpsConfig, logger *slog.Logger) (finops.PriceFeed, *pricing.StaticFeed, error) {
	if cfg.PriceFeedURL != "" {
		feed, err := pricing.NewHTTPFeed(cfg.PriceFeedURL)
		if err != nil {
			return nil, nil, err
		}
		return feed, nil, nil
	}
	feed, err := pricing.NewStaticFeed(cfg.PricingFile, internallog.WithComponent(logger, "pricing"))
	if err != nil {
		return nil, nil, err
	}
	return feed, feed, nil
}
