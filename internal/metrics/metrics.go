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

// Package metrics exposes switchyard's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/switchyard/pkg/ledger"
)

var (
	// attemptsTotal counts provider attempts by outcome
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_provider_attempts_total",
			Help: "Total provider attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// attemptDuration tracks per-attempt latency
	attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchyard_provider_attempt_duration_seconds",
			Help:    "Provider attempt latency by provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// routesTotal counts finished routes by outcome
	routesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_routes_total",
			Help: "Total routes by outcome (success, exhausted, cancelled)",
		},
		[]string{"outcome"},
	)

	// routeDuration tracks end-to-end routing latency
	routeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchyard_route_duration_seconds",
			Help:    "End-to-end route latency by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// routeAttempts tracks how far down the candidate list routes go
	routeAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchyard_route_attempts",
			Help:    "Number of attempts per route",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	// finopsDecisions counts evaluator decisions by action
	finopsDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_finops_decisions_total",
			Help: "Total evaluator decisions by action",
		},
		[]string{"action"},
	)

	// rateLimited counts rejected API requests
	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_rate_limited_total",
			Help: "Total rate-limited requests by endpoint",
		},
		[]string{"endpoint"},
	)

	// LedgerWriteFailures counts swallowed ledger append errors.
	LedgerWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchyard_ledger_write_failures_total",
			Help: "Total ledger writes that failed and were dropped",
		},
	)

	// EventsDropped counts events lost to a full or closed event bus.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchyard_events_dropped_total",
			Help: "Total events dropped by the announcer",
		},
	)

	// EventSinkFailures counts failed sink deliveries.
	EventSinkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchyard_event_sink_failures_total",
			Help: "Total event deliveries rejected by a sink",
		},
	)
)

// Observer records router and evaluator measurements.
type Observer struct{}

// ObserveAttempt implements router.Observer.
func (Observer) ObserveAttempt(provider string, outcome ledger.Outcome, latency time.Duration) {
	attemptsTotal.WithLabelValues(provider, string(outcome)).Inc()
	attemptDuration.WithLabelValues(provider).Observe(latency.Seconds())
}

// ObserveRoute implements router.Observer.
func (Observer) ObserveRoute(outcome string, attempts int, elapsed time.Duration) {
	routesTotal.WithLabelValues(outcome).Inc()
	routeDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	routeAttempts.Observe(float64(attempts))
}

// ObserveDecision implements finops.DecisionObserver.
func (Observer) ObserveDecision(action string) {
	finopsDecisions.WithLabelValues(action).Inc()
}

// RecordRateLimited increments the rate-limited counter.
func RecordRateLimited(endpoint string) {
	rateLimited.WithLabelValues(endpoint).Inc()
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
