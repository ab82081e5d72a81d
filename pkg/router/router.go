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

// Package router executes a routing request against an ordered, health
// filtered candidate list. Attempts run one at a time; the first non-empty
// answer wins and every attempt is written to the outcome ledger.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	syerrors "github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/events"
	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/llm"
	"github.com/tombee/switchyard/pkg/policy"
)

const (
	// DefaultTimeoutPerAttempt applies when neither the request nor the
	// router config sets one.
	DefaultTimeoutPerAttempt = 30 * time.Second

	// DefaultAgentType labels ledger records when the request has none.
	DefaultAgentType = "router"

	promptExcerptLen = 200
	failureReward    = -1.0
	minReward        = 0.1
)

// Selector produces the ordered candidates for a task.
type Selector interface {
	ChooseProviderModel(ctx context.Context, task, taskType string) (string, policy.CandidateList, error)
}

// CandidateFilter prunes unhealthy candidates.
type CandidateFilter interface {
	Apply(ctx context.Context, candidates policy.CandidateList) policy.CandidateList
}

// AdapterSource resolves provider ids to adapters.
type AdapterSource interface {
	Get(id string) (llm.Adapter, error)
}

// Observer receives attempt and route measurements.
type Observer interface {
	ObserveAttempt(provider string, outcome ledger.Outcome, latency time.Duration)
	ObserveRoute(outcome string, attempts int, elapsed time.Duration)
}

// Request is one routing call.
type Request struct {
	Task     string `json:"task"`
	TaskType string `json:"task_type,omitempty"`

	// TimeoutPerAttempt overrides the router default when positive.
	TimeoutPerAttempt time.Duration `json:"timeout_per_attempt,omitempty"`

	// AgentType labels the ledger records. Defaults to "router".
	AgentType string `json:"agent_type,omitempty"`

	// RouteID correlates records. Generated when empty.
	RouteID string `json:"route_id,omitempty"`
}

// Attempt summarizes one provider invocation.
type Attempt struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model,omitempty"`
	Outcome   ledger.Outcome `json:"outcome"`
	LatencyMS int64          `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`
}

// Result is a successful route.
type Result struct {
	RouteID  string          `json:"route_id"`
	TaskType string          `json:"task_type"`
	Provider string          `json:"provider"`
	Model    string          `json:"model,omitempty"`
	Text     string          `json:"text"`
	Raw      json.RawMessage `json:"raw,omitempty"`
	Reward   float64         `json:"reward"`

	// LatencyMS is measured from the start of the first attempt.
	LatencyMS int64     `json:"latency_ms"`
	Attempts  []Attempt `json:"attempts"`
}

// Config holds router defaults.
type Config struct {
	TimeoutPerAttempt time.Duration

	// Budget bounds the whole chain. Zero means unlimited.
	Budget time.Duration
}

// Router runs the attempt loop.
type Router struct {
	selector  Selector
	filter    CandidateFilter
	adapters  AdapterSource
	recorder  *ledger.Recorder
	announcer events.Announcer
	observer  Observer
	tracer    trace.Tracer
	logger    *slog.Logger
	cfg       Config
}

// Option configures a Router.
type Option func(*Router)

// WithFilter sets the health filter. Without one every candidate is tried.
func WithFilter(f CandidateFilter) Option {
	return func(r *Router) { r.filter = f }
}

// WithAnnouncer sets the event announcer.
func WithAnnouncer(a events.Announcer) Option {
	return func(r *Router) { r.announcer = a }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithConfig sets timeouts and the chain budget.
func WithConfig(cfg Config) Option {
	return func(r *Router) { r.cfg = cfg }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// New creates a Router.
func New(selector Selector, adapters AdapterSource, recorder *ledger.Recorder, opts ...Option) *Router {
	r := &Router{
		selector:  selector,
		adapters:  adapters,
		recorder:  recorder,
		announcer: events.Discard,
		observer:  nopObserver{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("github.com/tombee/switchyard/pkg/router")
	}
	if r.cfg.TimeoutPerAttempt <= 0 {
		r.cfg.TimeoutPerAttempt = DefaultTimeoutPerAttempt
	}
	return r
}

// route carries the state of one Route call.
type route struct {
	req      Request
	taskType string
	start    time.Time
	attempts []Attempt
	logger   *slog.Logger
}

// Route selects candidates for req and tries them in order. It returns
// *ExhaustedError when none succeeds and ctx.Err() when the caller cancels.
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, &syerrors.ValidationError{
			Field:      "task",
			Message:    "task must not be empty",
			Suggestion: "provide the prompt to route",
		}
	}
	if req.RouteID == "" {
		req.RouteID = uuid.NewString()
	}
	if req.AgentType == "" {
		req.AgentType = DefaultAgentType
	}
	timeout := req.TimeoutPerAttempt
	if timeout <= 0 {
		timeout = r.cfg.TimeoutPerAttempt
	}

	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(
		attribute.String("switchyard.route_id", req.RouteID),
	))
	defer span.End()

	taskType, candidates, err := r.selector.ChooseProviderModel(ctx, req.Task, req.TaskType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "candidate selection failed")
		return nil, syerrors.Wrap(err, "failed to select candidates")
	}
	if r.filter != nil {
		candidates = r.filter.Apply(ctx, candidates)
	}
	span.SetAttributes(
		attribute.String("switchyard.task_type", taskType),
		attribute.StringSlice("switchyard.candidates", candidates.Providers()),
	)

	rt := &route{
		req:      req,
		taskType: taskType,
		start:    time.Now(),
		logger: r.logger.With(
			slog.String("route_id", req.RouteID),
			slog.String("task_type", taskType),
		),
	}

	if len(candidates) == 0 {
		return nil, r.exhausted(ctx, span, rt, ErrNoHealthyCandidates)
	}

	chainCtx := ctx
	if r.cfg.Budget > 0 {
		var cancel context.CancelFunc
		chainCtx, cancel = context.WithTimeout(ctx, r.cfg.Budget)
		defer cancel()
	}

	var lastErr error
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			r.finishRoute(span, "cancelled", rt)
			return nil, err
		}
		if chainCtx.Err() != nil {
			if lastErr == nil {
				lastErr = fmt.Errorf("%w after %v", ErrBudgetExceeded, r.cfg.Budget)
			} else {
				lastErr = fmt.Errorf("%w after %v: %w", ErrBudgetExceeded, r.cfg.Budget, lastErr)
			}
			break
		}

		res, err := r.attempt(ctx, chainCtx, rt, i+1, c, timeout)
		if err == nil {
			r.finishRoute(span, "success", rt)
			return res, nil
		}
		if ctx.Err() != nil {
			r.finishRoute(span, "cancelled", rt)
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, r.exhausted(ctx, span, rt, lastErr)
}

func (r *Router) attempt(ctx, chainCtx context.Context, rt *route, n int, c policy.Candidate, timeout time.Duration) (*Result, error) {
	attemptCtx, span := r.tracer.Start(chainCtx, "router.Attempt", trace.WithAttributes(
		attribute.String("switchyard.provider", c.Provider),
		attribute.String("switchyard.model", c.Model),
		attribute.Int("switchyard.attempt", n),
	))
	defer span.End()

	logger := rt.logger.With(slog.String("provider", c.Provider), slog.Int("attempt", n))

	adapter, err := r.adapters.Get(c.Provider)
	if err != nil {
		err = &syerrors.ProviderError{
			Provider: c.Provider,
			Model:    c.Model,
			Message:  "provider not registered",
			Cause:    err,
		}
		r.fail(ctx, span, rt, n, c, ledger.OutcomeFailure, 0, err)
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(attemptCtx, timeout)
	defer cancel()

	logger.Debug("invoking provider", slog.String("model", c.Model))
	t0 := time.Now()
	resp, err := adapter.Invoke(attemptCtx, rt.req.Task, c.Model)
	latency := time.Since(t0)

	if err == nil && resp != nil && resp.Text != "" {
		return r.succeed(ctx, span, rt, n, c, resp, latency), nil
	}

	outcome := ledger.OutcomeFailure
	switch {
	case ctx.Err() != nil:
		outcome = ledger.OutcomeCancelled
		err = fmt.Errorf("attempt cancelled: %w", ctx.Err())
	case attemptCtx.Err() != nil:
		outcome = ledger.OutcomeTimeout
		err = &syerrors.TimeoutError{
			Operation: "provider attempt",
			Provider:  c.Provider,
			Duration:  latency,
			Cause:     attemptCtx.Err(),
		}
	case err == nil:
		err = &syerrors.ProviderError{
			Provider: c.Provider,
			Model:    c.Model,
			Message:  "empty response",
		}
	}

	r.fail(ctx, span, rt, n, c, outcome, latency, err)
	return nil, err
}

func (r *Router) succeed(ctx context.Context, span trace.Span, rt *route, n int, c policy.Candidate, resp *llm.Response, latency time.Duration) *Result {
	elapsed := time.Since(rt.start)
	reward := Reward(len(resp.Text), elapsed)
	model := c.Model
	if resp.Model != "" {
		model = resp.Model
	}

	r.recorder.Record(context.WithoutCancel(ctx), ledger.AttemptRecord{
		RouteID:   rt.req.RouteID,
		AgentType: rt.req.AgentType,
		Provider:  c.Provider,
		Model:     model,
		TaskType:  rt.taskType,
		Outcome:   ledger.OutcomeSuccess,
		Success:   true,
		Reward:    reward,
		LatencyMS: elapsed.Milliseconds(),
		Meta: map[string]any{
			"attempt": n,
			"prompt":  excerpt(rt.req.Task, promptExcerptLen),
		},
		AttemptLatencyMS: latency.Milliseconds(),
	})
	rt.attempts = append(rt.attempts, Attempt{
		Provider:  c.Provider,
		Model:     model,
		Outcome:   ledger.OutcomeSuccess,
		LatencyMS: latency.Milliseconds(),
	})
	r.observer.ObserveAttempt(c.Provider, ledger.OutcomeSuccess, latency)
	span.SetStatus(codes.Ok, "")

	r.announcer.Publish(ctx, events.ChannelRouteSucceeded, map[string]any{
		"route_id":   rt.req.RouteID,
		"provider":   c.Provider,
		"model":      model,
		"task_type":  rt.taskType,
		"attempts":   n,
		"latency_ms": elapsed.Milliseconds(),
		"reward":     reward,
	})
	rt.logger.Info("route succeeded",
		slog.String("provider", c.Provider),
		slog.Int("attempts", n),
		slog.Int64("latency_ms", elapsed.Milliseconds()),
	)

	return &Result{
		RouteID:   rt.req.RouteID,
		TaskType:  rt.taskType,
		Provider:  c.Provider,
		Model:     model,
		Text:      resp.Text,
		Raw:       resp.Raw,
		Reward:    reward,
		LatencyMS: elapsed.Milliseconds(),
		Attempts:  rt.attempts,
	}
}

func (r *Router) fail(ctx context.Context, span trace.Span, rt *route, n int, c policy.Candidate, outcome ledger.Outcome, latency time.Duration, err error) {
	r.recorder.Record(context.WithoutCancel(ctx), ledger.AttemptRecord{
		RouteID:   rt.req.RouteID,
		AgentType: rt.req.AgentType,
		Provider:  c.Provider,
		Model:     c.Model,
		TaskType:  rt.taskType,
		Outcome:   outcome,
		Success:   false,
		Reward:    failureReward,
		LatencyMS: latency.Milliseconds(),
		Meta: map[string]any{
			"attempt": n,
			"error":   err.Error(),
			"prompt":  excerpt(rt.req.Task, promptExcerptLen),
		},
		AttemptLatencyMS: latency.Milliseconds(),
	})
	rt.attempts = append(rt.attempts, Attempt{
		Provider:  c.Provider,
		Model:     c.Model,
		Outcome:   outcome,
		LatencyMS: latency.Milliseconds(),
		Error:     err.Error(),
	})
	r.observer.ObserveAttempt(c.Provider, outcome, latency)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(outcome))

	r.announcer.Publish(ctx, events.ChannelRouteAttemptFailed, map[string]any{
		"route_id":   rt.req.RouteID,
		"provider":   c.Provider,
		"model":      c.Model,
		"attempt":    n,
		"outcome":    string(outcome),
		"error":      err.Error(),
		"latency_ms": latency.Milliseconds(),
	})
	rt.logger.Warn("provider attempt failed",
		slog.String("provider", c.Provider),
		slog.Int("attempt", n),
		slog.String("outcome", string(outcome)),
		slog.Int64("latency_ms", latency.Milliseconds()),
		slog.String("error", err.Error()),
	)
}

func (r *Router) exhausted(ctx context.Context, span trace.Span, rt *route, lastErr error) error {
	err := &ExhaustedError{
		RouteID:  rt.req.RouteID,
		LastErr:  lastErr,
		Elapsed:  time.Since(rt.start),
		Attempts: len(rt.attempts),
	}
	r.announcer.Publish(ctx, events.ChannelRouteExhausted, map[string]any{
		"route_id":   rt.req.RouteID,
		"task_type":  rt.taskType,
		"attempts":   err.Attempts,
		"elapsed_ms": err.Elapsed.Milliseconds(),
		"error":      errString(lastErr),
	})
	rt.logger.Error("all candidates exhausted",
		slog.Int("attempts", err.Attempts),
		slog.Int64("elapsed_ms", err.Elapsed.Milliseconds()),
		slog.String("error", errString(lastErr)),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "exhausted")
	r.finishRoute(span, "exhausted", rt)
	return err
}

func (r *Router) finishRoute(span trace.Span, outcome string, rt *route) {
	span.SetAttributes(
		attribute.String("switchyard.outcome", outcome),
		attribute.Int("switchyard.attempts", len(rt.attempts)),
	)
	r.observer.ObserveRoute(outcome, len(rt.attempts), time.Since(rt.start))
}

// Reward scores a successful answer: longer answers score higher, up to
// 1000 bytes, minus 0.1 per second of end-to-end latency, floored at 0.1.
func Reward(size int, elapsed time.Duration) float64 {
	sizeFactor := math.Min(float64(size)/1000.0, 1.0)
	return math.Max(minReward, sizeFactor-elapsed.Seconds()*0.1)
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, ledger.Outcome, time.Duration) {}
func (nopObserver) ObserveRoute(string, int, time.Duration)              {}

// IsExhausted reports whether err means no candidate succeeded.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrAllCandidatesExhausted)
}
