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

package api

import (
	"net/http"
	"strconv"
	"time"

	syerrors "github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/health"
	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/llm/pricing"
	"github.com/tombee/switchyard/pkg/router"
)

// RouteRequest is the body of POST /v1/route.
type RouteRequest struct {
	Task      string   `json:"task"`
	TaskType  string   `json:"task_type,omitempty"`
	Timeout   Duration `json:"timeout,omitempty"`
	AgentType string   `json:"agent_type,omitempty"`
}

func (r *Router) handleRoute(w http.ResponseWriter, req *http.Request) {
	var body RouteRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}
	res, err := r.svc.Router.Route(req.Context(), router.Request{
		Task:              body.Task,
		TaskType:          body.TaskType,
		TimeoutPerAttempt: time.Duration(body.Timeout),
		AgentType:         body.AgentType,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status    string           `json:"status"`
	Providers []health.Verdict `json:"providers"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	var extra []string
	if r.svc.Preferences != nil {
		if state, err := r.svc.Preferences.Preferences(req.Context()); err == nil {
			extra = state.ProviderPriority
		}
	}
	verdicts, err := r.svc.Health.Report(req.Context(), extra...)
	if err != nil {
		writeErr(w, err)
		return
	}

	status := "healthy"
	unhealthy := 0
	for _, v := range verdicts {
		if !v.Healthy {
			unhealthy++
		}
	}
	switch {
	case len(verdicts) > 0 && unhealthy == len(verdicts):
		status = "unhealthy"
	case unhealthy > 0:
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: status, Providers: verdicts})
}

func (r *Router) handleGetPreferences(w http.ResponseWriter, req *http.Request) {
	state, err := r.svc.Preferences.Preferences(req.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// PreferencesRequest is the body of POST /v1/preferences. Absent fields
// keep their current value.
type PreferencesRequest struct {
	ProviderPriority *[]string                   `json:"provider_priority"`
	ModelPrefs       map[string]map[string]string `json:"model_prefs"`
}

func (r *Router) handleSetPreferences(w http.ResponseWriter, req *http.Request) {
	var body PreferencesRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}

	u := ledger.PolicyUpdate{ModelPrefs: body.ModelPrefs}
	if body.ProviderPriority != nil {
		// An explicit empty list must reach validation as non-nil.
		u.ProviderPriority = append([]string{}, (*body.ProviderPriority)...)
	}
	state, err := r.svc.Preferences.SetPreferences(req.Context(), u)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	Window Duration         `json:"window,omitempty"`
	Prices pricing.Snapshot `json:"prices,omitempty"`
}

func (r *Router) window(d Duration) time.Duration {
	if d > 0 {
		return time.Duration(d)
	}
	return r.cfg.DefaultWindow
}

func (r *Router) handleEvaluate(w http.ResponseWriter, req *http.Request) {
	var body EvaluateRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}
	d, err := r.svc.Evaluator.Evaluate(req.Context(), r.window(body.Window), body.Prices)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// MonitorStartRequest is the body of POST /v1/monitor/start.
type MonitorStartRequest struct {
	Window Duration `json:"window,omitempty"`
}

func (r *Router) handleMonitorStart(w http.ResponseWriter, req *http.Request) {
	var body MonitorStartRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, r.svc.Evaluator.Start(r.window(body.Window)))
}

// MonitorTickRequest is the body of POST /v1/monitor/tick.
type MonitorTickRequest struct {
	MonitorID string           `json:"monitor_id"`
	Prices    pricing.Snapshot `json:"prices,omitempty"`
}

func (r *Router) handleMonitorTick(w http.ResponseWriter, req *http.Request) {
	var body MonitorTickRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.MonitorID == "" {
		writeErr(w, &syerrors.ValidationError{Field: "monitor_id", Message: "monitor_id is required"})
		return
	}
	m, err := r.svc.Evaluator.Tick(req.Context(), body.MonitorID, body.Prices)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (r *Router) handleMonitors(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"monitors": r.svc.Evaluator.Monitors()})
}

func (r *Router) handleMonitorStop(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Evaluator.Stop(req.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if r.svc.Events == nil {
		writeError(w, http.StatusNotImplemented, "the configured ledger cannot list events")
		return
	}

	q := req.URL.Query()
	filter := ledger.EventFilter{
		RouteID:   q.Get("route_id"),
		Provider:  q.Get("provider"),
		AgentType: q.Get("agent_type"),
		Limit:     100,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeErr(w, &syerrors.ValidationError{Field: "limit", Message: "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	recs, err := r.svc.Events.ListEvents(req.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if recs == nil {
		recs = []ledger.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": recs})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    r.cfg.Version,
		"commit":     r.cfg.Commit,
		"build_date": r.cfg.BuildDate,
	})
}
