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

// Package config loads switchyard configuration from YAML, defaults and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	syerrors "github.com/tombee/switchyard/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// DefaultProviderOrder is the fallback provider ordering used when nothing
// else is configured and when the evaluator cannot price the flagship pair.
var DefaultProviderOrder = []string{"openai", "gemini", "anthropic", "ollama", "bedrock"}

// Config represents the complete switchyard configuration.
type Config struct {
	Server    ServerConfig  `yaml:"server"`
	Log       LogConfig     `yaml:"log"`
	Ledger    LedgerConfig  `yaml:"ledger"`
	Routing   RoutingConfig `yaml:"routing"`
	Health    HealthConfig  `yaml:"health"`
	FinOps    FinOpsConfig  `yaml:"finops"`
	Events    EventsConfig  `yaml:"events"`
	Providers ProvidersMap  `yaml:"providers,omitempty"`
	Tracing   TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	// Environment: SWITCHYARD_ADDR
	// Default: 127.0.0.1:8088
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CORSOrigins lists allowed browser origins. Empty disables CORS.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`

	// RouteRateLimit is the sustained /v1/route rate per client in requests
	// per second. Zero disables limiting.
	RouteRateLimit float64 `yaml:"route_rate_limit"`

	// RouteBurst is the burst allowance for RouteRateLimit.
	RouteBurst int `yaml:"route_burst"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`
}

// LedgerConfig selects the outcome ledger backend.
type LedgerConfig struct {
	// Backend is one of memory, sqlite, postgres.
	// Environment: SWITCHYARD_LEDGER_BACKEND
	// Default: sqlite
	Backend string `yaml:"backend"`

	// Path is the sqlite database file.
	// Environment: SWITCHYARD_LEDGER_PATH
	// Default: $XDG_DATA_HOME/switchyard/ledger.db
	Path string `yaml:"path,omitempty"`

	// DSN is the postgres connection string.
	// Environment: SWITCHYARD_LEDGER_DSN
	DSN string `yaml:"dsn,omitempty"`

	// MaxOpenConns caps the postgres connection pool.
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`
}

// RoutingConfig configures candidate selection and the attempt loop.
type RoutingConfig struct {
	// DefaultPriority seeds PolicyState the first time it is read.
	// Environment: SWITCHYARD_PROVIDER_PRIORITY (comma-separated)
	DefaultPriority []string `yaml:"default_priority"`

	// ModelPrefs seeds provider -> task type -> model preferences.
	ModelPrefs map[string]map[string]string `yaml:"model_prefs,omitempty"`

	// TimeoutPerAttempt bounds each provider attempt.
	// Environment: SWITCHYARD_TIMEOUT_PER_ATTEMPT
	// Default: 30s
	TimeoutPerAttempt time.Duration `yaml:"timeout_per_attempt"`

	// Budget bounds the whole candidate chain. Zero means unlimited.
	// Environment: SWITCHYARD_ROUTE_BUDGET
	Budget time.Duration `yaml:"budget"`

	// Classifier configures task type classification.
	Classifier ClassifierConfig `yaml:"classifier"`
}

// ClassifierConfig configures task classification rules. Rules are tried
// in order; the first match wins.
type ClassifierConfig struct {
	// Default is the task type used when no rule matches.
	Default string `yaml:"default"`

	Rules []ClassifierRule `yaml:"rules,omitempty"`
}

// ClassifierRule maps a task to a task type, either by keyword or by an
// expression evaluated against the task text.
type ClassifierRule struct {
	TaskType string   `yaml:"task_type"`
	Keywords []string `yaml:"keywords,omitempty"`
	Expr     string   `yaml:"expr,omitempty"`
}

// HealthConfig configures the ledger-derived circuit breaker.
type HealthConfig struct {
	// Window limits summaries to recent records. Zero means all time.
	Window time.Duration `yaml:"window"`

	// MinSuccessRate excludes providers whose success rate is below it.
	MinSuccessRate float64 `yaml:"min_success_rate"`

	// MaxAvgLatencyMS excludes providers slower than this on average.
	MaxAvgLatencyMS float64 `yaml:"max_avg_latency_ms"`

	// MinSamples is the number of attempts needed before a provider can be excluded.
	MinSamples int `yaml:"min_samples"`

	// FailOpen returns the unfiltered list when every candidate would be excluded.
	// Environment: SWITCHYARD_HEALTH_FAIL_OPEN
	// Default: true
	FailOpen *bool `yaml:"fail_open,omitempty"`
}

// FailOpenEnabled reports the effective FailOpen setting.
func (h HealthConfig) FailOpenEnabled() bool {
	return h.FailOpen == nil || *h.FailOpen
}

// PricePoint names one provider/model pair the evaluator compares.
type PricePoint struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// FinOpsConfig configures the cost/quality evaluator.
type FinOpsConfig struct {
	// Flagships is the compared pair. Exactly two entries.
	Flagships []PricePoint `yaml:"flagships"`

	// DefaultOrder is appended after the winner and used when pricing fails.
	DefaultOrder []string `yaml:"default_order"`

	// Interval runs the evaluator periodically in the daemon. Zero disables it.
	Interval time.Duration `yaml:"interval"`

	// Window is passed to the price feed.
	Window time.Duration `yaml:"window"`

	// PricingFile overrides built-in prices; reloaded when it changes.
	PricingFile string `yaml:"pricing_file,omitempty"`

	// PriceFeedURL fetches prices from a JSON endpoint instead of the file.
	// Environment: SWITCHYARD_PRICE_FEED_URL
	PriceFeedURL string `yaml:"price_feed_url,omitempty"`

	// MinTickInterval rate limits monitor ticks per monitor.
	MinTickInterval time.Duration `yaml:"min_tick_interval"`
}

// EventsConfig configures the event announcer.
type EventsConfig struct {
	// Buffer is the async queue size; events are dropped when it is full.
	Buffer int `yaml:"buffer"`

	// Source is stamped on every envelope.
	Source string `yaml:"source"`

	// Log writes every event to the structured log.
	Log bool `yaml:"log"`

	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
	Redis    RedisConfig     `yaml:"redis"`
}

// WebhookConfig posts events to an HTTP endpoint.
type WebhookConfig struct {
	URL string `yaml:"url"`

	// Channels filters which channels are delivered. Empty means all.
	Channels []string `yaml:"channels,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// RedisConfig publishes events to Redis pub/sub.
type RedisConfig struct {
	// URL enables the sink, e.g. redis://localhost:6379/0.
	// Environment: SWITCHYARD_REDIS_URL
	URL string `yaml:"url,omitempty"`

	// Prefix is prepended to channel names.
	Prefix string `yaml:"prefix"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Environment: SWITCHYARD_TRACING_ENABLED
	Enabled bool `yaml:"enabled"`

	// Exporter is one of stdout, otlp-http, otlp-grpc.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector address.
	// Environment: OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	Insecure bool `yaml:"insecure"`

	// SampleRate is the fraction of traces kept (0.0 to 1.0).
	SampleRate float64 `yaml:"sample_rate"`

	ServiceName string `yaml:"service_name"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8088",
			ShutdownTimeout: 10 * time.Second,
			RouteRateLimit:  10,
			RouteBurst:      20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			Backend:      "sqlite",
			MaxOpenConns: 10,
		},
		Routing: RoutingConfig{
			DefaultPriority:   append([]string(nil), DefaultProviderOrder...),
			TimeoutPerAttempt: 30 * time.Second,
			Classifier: ClassifierConfig{
				Default: "general",
			},
		},
		Health: HealthConfig{
			MinSuccessRate:  0.2,
			MaxAvgLatencyMS: 3000,
			MinSamples:      1,
		},
		FinOps: FinOpsConfig{
			Flagships: []PricePoint{
				{Provider: "openai", Model: "gpt-4"},
				{Provider: "gemini", Model: "ultra"},
			},
			DefaultOrder:    append([]string(nil), DefaultProviderOrder...),
			Window:          time.Hour,
			MinTickInterval: time.Second,
		},
		Events: EventsConfig{
			Buffer: 256,
			Source: "switchyard",
			Log:    true,
			Redis: RedisConfig{
				Prefix: "switchyard:",
			},
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			SampleRate:  1.0,
			ServiceName: "switchyard",
		},
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only defaults and environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &syerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &syerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.RouteRateLimit > 0 && c.Server.RouteBurst == 0 {
		c.Server.RouteBurst = int(math.Ceil(c.Server.RouteRateLimit))
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = d.Ledger.Backend
	}
	if c.Ledger.Backend == "sqlite" && c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(DataDir(), "ledger.db")
	}
	if c.Ledger.MaxOpenConns == 0 {
		c.Ledger.MaxOpenConns = d.Ledger.MaxOpenConns
	}

	if len(c.Routing.DefaultPriority) == 0 {
		c.Routing.DefaultPriority = d.Routing.DefaultPriority
	}
	if c.Routing.TimeoutPerAttempt == 0 {
		c.Routing.TimeoutPerAttempt = d.Routing.TimeoutPerAttempt
	}
	if c.Routing.Classifier.Default == "" {
		c.Routing.Classifier.Default = d.Routing.Classifier.Default
	}

	if c.Health.MinSuccessRate == 0 {
		c.Health.MinSuccessRate = d.Health.MinSuccessRate
	}
	if c.Health.MaxAvgLatencyMS == 0 {
		c.Health.MaxAvgLatencyMS = d.Health.MaxAvgLatencyMS
	}
	if c.Health.MinSamples == 0 {
		c.Health.MinSamples = d.Health.MinSamples
	}

	if len(c.FinOps.Flagships) == 0 {
		c.FinOps.Flagships = d.FinOps.Flagships
	}
	if len(c.FinOps.DefaultOrder) == 0 {
		c.FinOps.DefaultOrder = d.FinOps.DefaultOrder
	}
	if c.FinOps.Window == 0 {
		c.FinOps.Window = d.FinOps.Window
	}
	if c.FinOps.MinTickInterval == 0 {
		c.FinOps.MinTickInterval = d.FinOps.MinTickInterval
	}

	if c.Events.Buffer == 0 {
		c.Events.Buffer = d.Events.Buffer
	}
	if c.Events.Source == "" {
		c.Events.Source = d.Events.Source
	}
	if c.Events.Redis.Prefix == "" {
		c.Events.Redis.Prefix = d.Events.Redis.Prefix
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = d.Tracing.SampleRate
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("SWITCHYARD_ADDR"); val != "" {
		c.Server.Addr = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}

	if val := os.Getenv("SWITCHYARD_LEDGER_BACKEND"); val != "" {
		c.Ledger.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("SWITCHYARD_LEDGER_PATH"); val != "" {
		c.Ledger.Path = val
	}
	if val := os.Getenv("SWITCHYARD_LEDGER_DSN"); val != "" {
		c.Ledger.DSN = val
	}

	if val := os.Getenv("SWITCHYARD_PROVIDER_PRIORITY"); val != "" {
		c.Routing.DefaultPriority = splitList(val)
	}
	if val := os.Getenv("SWITCHYARD_TIMEOUT_PER_ATTEMPT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Routing.TimeoutPerAttempt = d
		}
	}
	if val := os.Getenv("SWITCHYARD_ROUTE_BUDGET"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Routing.Budget = d
		}
	}

	if val := os.Getenv("SWITCHYARD_HEALTH_FAIL_OPEN"); val != "" {
		b := parseBool(val)
		c.Health.FailOpen = &b
	}

	if val := os.Getenv("SWITCHYARD_PRICE_FEED_URL"); val != "" {
		c.FinOps.PriceFeedURL = val
	}
	if val := os.Getenv("SWITCHYARD_FINOPS_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.FinOps.Interval = d
		}
	}

	if val := os.Getenv("SWITCHYARD_REDIS_URL"); val != "" {
		c.Events.Redis.URL = val
	}

	if val := os.Getenv("SWITCHYARD_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = parseBool(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
	if val := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.Tracing.SampleRate = rate
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}
	if c.Server.RouteRateLimit < 0 {
		errs = append(errs, fmt.Sprintf("server.route_rate_limit must be non-negative, got %v", c.Server.RouteRateLimit))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	switch c.Ledger.Backend {
	case "memory":
	case "sqlite":
		if c.Ledger.Path == "" {
			errs = append(errs, "ledger.path is required for the sqlite backend")
		}
	case "postgres":
		if c.Ledger.DSN == "" {
			errs = append(errs, "ledger.dsn is required for the postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger.backend must be one of [memory, sqlite, postgres], got %q", c.Ledger.Backend))
	}

	if msg := validateOrdering("routing.default_priority", c.Routing.DefaultPriority); msg != "" {
		errs = append(errs, msg)
	}
	if c.Routing.TimeoutPerAttempt <= 0 {
		errs = append(errs, fmt.Sprintf("routing.timeout_per_attempt must be positive, got %v", c.Routing.TimeoutPerAttempt))
	}
	if c.Routing.Budget < 0 {
		errs = append(errs, fmt.Sprintf("routing.budget must be non-negative, got %v", c.Routing.Budget))
	}
	for i, rule := range c.Routing.Classifier.Rules {
		if rule.TaskType == "" {
			errs = append(errs, fmt.Sprintf("routing.classifier.rules[%d]: task_type is required", i))
		}
		if (len(rule.Keywords) == 0) == (rule.Expr == "") {
			errs = append(errs, fmt.Sprintf("routing.classifier.rules[%d]: exactly one of keywords or expr is required", i))
		}
	}

	if c.Health.MinSuccessRate < 0 || c.Health.MinSuccessRate > 1 {
		errs = append(errs, fmt.Sprintf("health.min_success_rate must be between 0 and 1, got %v", c.Health.MinSuccessRate))
	}
	if c.Health.MaxAvgLatencyMS <= 0 {
		errs = append(errs, fmt.Sprintf("health.max_avg_latency_ms must be positive, got %v", c.Health.MaxAvgLatencyMS))
	}
	if c.Health.MinSamples < 1 {
		errs = append(errs, fmt.Sprintf("health.min_samples must be at least 1, got %d", c.Health.MinSamples))
	}
	if c.Health.Window < 0 {
		errs = append(errs, fmt.Sprintf("health.window must be non-negative, got %v", c.Health.Window))
	}

	if len(c.FinOps.Flagships) != 2 {
		errs = append(errs, fmt.Sprintf("finops.flagships must list exactly two price points, got %d", len(c.FinOps.Flagships)))
	}
	for i, p := range c.FinOps.Flagships {
		if p.Provider == "" || p.Model == "" {
			errs = append(errs, fmt.Sprintf("finops.flagships[%d]: provider and model are required", i))
		}
	}
	if msg := validateOrdering("finops.default_order", c.FinOps.DefaultOrder); msg != "" {
		errs = append(errs, msg)
	}
	if c.FinOps.Interval < 0 {
		errs = append(errs, fmt.Sprintf("finops.interval must be non-negative, got %v", c.FinOps.Interval))
	}

	if c.Events.Buffer < 1 {
		errs = append(errs, fmt.Sprintf("events.buffer must be positive, got %d", c.Events.Buffer))
	}
	for i, wh := range c.Events.Webhooks {
		if wh.URL == "" {
			errs = append(errs, fmt.Sprintf("events.webhooks[%d]: url is required", i))
		}
	}

	for _, name := range keysOf(c.Providers) {
		if err := c.Providers[name].validate(); err != nil {
			errs = append(errs, fmt.Sprintf("providers.%s: %v", name, err))
		}
	}

	validExporters := map[string]bool{"stdout": true, "otlp-http": true, "otlp-grpc": true}
	if !validExporters[c.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlp-http, otlp-grpc], got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// validateOrdering rejects empty lists, empty names and duplicates.
func validateOrdering(key string, order []string) string {
	if len(order) == 0 {
		return key + " must not be empty"
	}
	seen := make(map[string]bool, len(order))
	for _, p := range order {
		if p == "" {
			return key + " must not contain empty provider names"
		}
		if seen[p] {
			return fmt.Sprintf("%s contains duplicate provider %q", key, p)
		}
		seen[p] = true
	}
	return ""
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(val string) bool {
	return val == "1" || strings.ToLower(val) == "true"
}
