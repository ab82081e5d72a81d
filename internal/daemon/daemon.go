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


// Package daemon wires the ledger, policy, health, router, finops and event
// components into the switchyardd HTTP service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tombee/switchyard/internal/api"
	"github.com/tombee/switchyard/internal/config"
	internallog "github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/internal/tracing"
	"github.com/tombee/switchyard/pkg/events"
	"github.com/tombee/switchyard/pkg/finops"
	"github.com/tombee/switchyard/pkg/health"
	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/llm"
	"github.com/tombee/switchyard/pkg/llm/pricing"
	"github.com/tombee/switchyard/pkg/policy"
	"github.com/tombee/switchyard/pkg/router"
)

// limiterIdle is how long a client's rate limiter survives without traffic.
const limiterIdle = 10 * time.Minute

// Options carries build metadata and optional overrides.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	Logger *slog.Logger

	// Registry replaces the registry built from cfg.Providers.
	Registry *llm.Registry
}

// Daemon owns every long-lived component of the routing service.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	backend   ledger.Backend
	registry  *llm.Registry
	policy    *policy.Manager
	health    *health.Filter
	bus       *events.Bus
	router    *router.Router
	evaluator *finops.Evaluator
	static    *pricing.StaticFeed
	api       *api.Router

	shutdownTracing tracing.ShutdownFunc

	mu      sync.Mutex
	started bool
	server  *http.Server
	addr    string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the component graph. Nothing listens until Start.
func New(cfg *config.Config, opts Options) (d *Daemon, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	partial := &Daemon{cfg: cfg, opts: opts, logger: logger}
	d = partial
	defer func() {
		if err != nil {
			partial.release(context.Background())
		}
	}()

	ctx := context.Background()

	d.shutdownTracing, err = tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	d.backend, err = OpenLedger(cfg.Ledger, cfg.Routing)
	if err != nil {
		return nil, err
	}

	d.registry = opts.Registry
	if d.registry == nil {
		d.registry, err = BuildRegistry(cfg.Providers)
		if err != nil {
			return nil, err
		}
	}

	classifier, err := BuildClassifier(cfg.Routing.Classifier)
	if err != nil {
		return nil, err
	}
	d.policy = policy.NewManager(d.backend,
		policy.WithClassifier(classifier),
		policy.WithProviderFilter(d.registry.Has),
		policy.WithLogger(internallog.WithComponent(logger, "policy")),
	)

	d.health = health.NewFilter(d.backend, HealthConfig(cfg.Health), internallog.WithComponent(logger, "health"))

	sinks, err := BuildSinks(ctx, cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	d.bus = NewBus(cfg.Events, logger, sinks...)

	recorder := ledger.NewRecorder(d.backend, internallog.WithComponent(logger, "ledger"), metrics.LedgerWriteFailures)

	d.router = router.New(d.policy, d.registry, recorder,
		router.WithFilter(d.health),
		router.WithAnnouncer(d.bus),
		router.WithObserver(metrics.Observer{}),
		router.WithLogger(internallog.WithComponent(logger, "router")),
		router.WithConfig(router.Config{
			TimeoutPerAttempt: cfg.Routing.TimeoutPerAttempt,
			Budget:            cfg.Routing.Budget,
		}),
	)

	finopsCfg, err := FinOpsConfig(cfg.FinOps)
	if err != nil {
		return nil, err
	}
	feed, static, err := BuildPriceFeed(cfg.FinOps, logger)
	if err != nil {
		return nil, err
	}
	d.static = static
	d.evaluator = finops.New(feed, d.policy, recorder,
		finops.WithAnnouncer(d.bus),
		finops.WithObserver(metrics.Observer{}),
		finops.WithLogger(internallog.WithComponent(logger, "finops")),
		finops.WithConfig(finopsCfg),
	)

	d.api = api.NewRouter(api.Services{
		Router:      d.router,
		Health:      d.health,
		Preferences: d.policy,
		Evaluator:   d.evaluator,
		Events:      d.backend,
	}, api.Config{
		Version:       opts.Version,
		Commit:        opts.Commit,
		BuildDate:     opts.BuildDate,
		DefaultWindow: cfg.FinOps.Window,
		CORSOrigins:   cfg.Server.CORSOrigins,
		RouteRateLimit: api.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RouteRateLimit,
			BurstSize:         cfg.Server.RouteBurst,
		},
	}, internallog.WithComponent(logger, "api"))

	return d, nil
}

// Handler returns the HTTP API.
func (d *Daemon) Handler() http.Handler { return d.api }

// Router returns the route executor.
func (d *Daemon) Router() *router.Router { return d.router }

// Evaluator returns the finops evaluator.
func (d *Daemon) Evaluator() *finops.Evaluator { return d.evaluator }

// Policy returns the preference manager.
func (d *Daemon) Policy() *policy.Manager { return d.policy }

// Addr returns the bound listen address once Start has opened it.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Start listens on the configured address and blocks until ctx is done or
// the server fails. Background loops stop when ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}

	ln, err := net.Listen("tcp", d.cfg.Server.Addr)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Server.Addr, err)
	}

	bgCtx, cancel := context.WithCancel(ctx)
	d.started = true
	d.cancel = cancel
	d.addr = ln.Addr().String()
	d.server = &http.Server{
		Handler:      d.api,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: d.writeTimeout(),
		IdleTimeout:  60 * time.Second,
	}
	d.mu.Unlock()

	d.logger.Info("switchyardd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", d.addr),
		slog.String("ledger", d.cfg.Ledger.Backend),
		slog.Any("providers", d.registry.List()))

	d.startBackground(bgCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// writeTimeout leaves room for a full fallback chain.
func (d *Daemon) writeTimeout() time.Duration {
	if d.cfg.Routing.Budget > 0 {
		return d.cfg.Routing.Budget + 10*time.Second
	}
	return 0
}

func (d *Daemon) startBackground(ctx context.Context) {
	if d.cfg.FinOps.Interval > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.evaluator.Run(ctx, d.cfg.FinOps.Interval, d.cfg.FinOps.Window); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("finops loop stopped", internallog.Error(err))
			}
		}()
	}

	if d.static != nil && d.cfg.FinOps.PricingFile != "" {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.static.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Warn("pricing file watch stopped", internallog.Error(err))
			}
		}()
	}

	if limiter := d.api.RateLimiter(); limiter.Enabled() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ticker := time.NewTicker(limiterIdle / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					limiter.Cleanup(limiterIdle)
				}
			}
		}()
	}
}

// Shutdown stops the HTTP server, drains the event bus and closes the
// ledger. It is safe to call when Start was never called.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("graceful shutdown initiated")

	var errs []error
	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Server.ShutdownTimeout)
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", internallog.Error(err))
			errs = append(errs, err)
		}
		cancel()
		d.server = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	if err := d.release(ctx); err != nil {
		errs = append(errs, err)
	}

	d.started = false
	d.logger.Info("daemon stopped")
	return errors.Join(errs...)
}

// release closes the bus, tracing and ledger in that order so queued
// events and spans are flushed first.
func (d *Daemon) release(ctx context.Context) error {
	var errs []error
	if d.bus != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := d.bus.Close(closeCtx); err != nil {
			d.logger.Warn("event bus did not drain", internallog.Error(err))
			errs = append(errs, err)
		}
		cancel()
		d.bus = nil
	}
	if d.shutdownTracing != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := d.shutdownTracing(closeCtx); err != nil {
			d.logger.Error("tracing shutdown error", internallog.Error(err))
			errs = append(errs, err)
		}
		cancel()
		d.shutdownTracing = nil
	}
	if d.backend != nil {
		if err := d.backend.Close(); err != nil {
			d.logger.Error("failed to close ledger", internallog.Error(err))
			errs = append(errs, err)
		}
		d.backend = nil
	}
	return errors.Join(errs...)
}
