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

// Package api provides the switchyard HTTP API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/internal/tracing"
	"github.com/tombee/switchyard/pkg/finops"
	"github.com/tombee/switchyard/pkg/health"
	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/llm/pricing"
	"github.com/tombee/switchyard/pkg/router"
)

// RouteService runs routing requests. *router.Router implements it.
type RouteService interface {
	Route(ctx context.Context, req router.Request) (*router.Result, error)
}

// HealthReporter reports provider health. *health.Filter implements it.
type HealthReporter interface {
	Report(ctx context.Context, extra ...string) ([]health.Verdict, error)
}

// PreferenceService reads and writes routing preferences.
// *policy.Manager implements it.
type PreferenceService interface {
	Preferences(ctx context.Context) (ledger.PolicyState, error)
	SetPreferences(ctx context.Context, u ledger.PolicyUpdate) (ledger.PolicyState, error)
}

// EvaluatorService runs cost evaluations and monitors.
// *finops.Evaluator implements it.
type EvaluatorService interface {
	Evaluate(ctx context.Context, window time.Duration, overrides pricing.Snapshot) (*finops.Decision, error)
	Start(window time.Duration) finops.Monitor
	Tick(ctx context.Context, id string, overrides pricing.Snapshot) (finops.Monitor, error)
	Monitors() []finops.Monitor
	Stop(id string) error
}

// Services are the components behind the API.
type Services struct {
	Router      RouteService
	Health      HealthReporter
	Preferences PreferenceService
	Evaluator   EvaluatorService

	// Events is optional; GET /v1/events returns 501 without it.
	Events ledger.EventLister
}

// Config holds configuration for the API router.
type Config struct {
	Version   string
	Commit    string
	BuildDate string

	// DefaultWindow is used by /v1/evaluate and /v1/monitor/start when the
	// request has none.
	DefaultWindow time.Duration

	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string

	RouteRateLimit RateLimitConfig

	// Metrics serves GET /metrics. Defaults to the Prometheus handler.
	Metrics http.Handler
}

// Router wraps an http.ServeMux with logging, tracing and CORS.
type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	svc     Services
	cfg     Config
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewRouter creates the HTTP router with every API endpoint registered.
func NewRouter(svc Services, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Handler()
	}
	r := &Router{
		mux:     http.NewServeMux(),
		svc:     svc,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RouteRateLimit),
		logger:  log.WithComponent(logger, "api"),
	}

	r.mux.Handle("POST /v1/route", r.limiter.Middleware("/v1/route", http.HandlerFunc(r.handleRoute)))
	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/preferences", r.handleGetPreferences)
	r.mux.HandleFunc("POST /v1/preferences", r.handleSetPreferences)
	r.mux.HandleFunc("POST /v1/evaluate", r.handleEvaluate)
	r.mux.HandleFunc("POST /v1/monitor/start", r.handleMonitorStart)
	r.mux.HandleFunc("POST /v1/monitor/tick", r.handleMonitorTick)
	r.mux.HandleFunc("GET /v1/monitors", r.handleMonitors)
	r.mux.HandleFunc("DELETE /v1/monitors/{id}", r.handleMonitorStop)
	r.mux.HandleFunc("GET /v1/events", r.handleEvents)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)
	r.mux.Handle("GET /metrics", cfg.Metrics)

	// Middleware chain, outermost last: tracing, request logging, CORS.
	var h http.Handler = r.mux
	h = tracing.Middleware(h)
	h = log.Middleware(r.logger, h)
	if len(cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", log.RequestIDHeader, ClientIDHeader},
			ExposedHeaders: []string{log.RequestIDHeader},
			MaxAge:         300,
		}).Handler(h)
	}
	r.handler = h
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// RateLimiter returns the /v1/route limiter so the server can prune it.
func (r *Router) RateLimiter() *RateLimiter {
	return r.limiter
}
