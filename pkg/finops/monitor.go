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
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	syerrors "github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/llm/pricing"
)

// ErrTickRateLimited is returned when a monitor is ticked faster than the
// configured minimum interval.
var ErrTickRateLimited = errors.New("finops: monitor tick rate limited")

// Monitor is a stored evaluation window that can be re-run by id.
type Monitor struct {
	ID           string        `json:"id"`
	Window       time.Duration `json:"window"`
	CreatedAt    time.Time     `json:"created_at"`
	Ticks        int           `json:"ticks"`
	LastTickAt   time.Time     `json:"last_tick_at,omitzero"`
	LastDecision *Decision     `json:"last_decision,omitempty"`
}

type monitorEntry struct {
	Monitor
	limiter *rate.Limiter
}

type monitorSet struct {
	mu       sync.Mutex
	entries  map[string]*monitorEntry
	interval time.Duration
}

func newMonitorSet(interval time.Duration) *monitorSet {
	return &monitorSet{entries: make(map[string]*monitorEntry), interval: interval}
}

func (s *monitorSet) limiter() *rate.Limiter {
	if s.interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(s.interval), 1)
}

func notFound(id string) error {
	return &syerrors.NotFoundError{Resource: "monitor", ID: id}
}

// Start registers a monitor for window.
func (e *Evaluator) Start(window time.Duration) Monitor {
	s := e.monitors
	m := &monitorEntry{
		Monitor: Monitor{
			ID:        uuid.NewString(),
			Window:    window,
			CreatedAt: time.Now().UTC(),
		},
		limiter: s.limiter(),
	}

	s.mu.Lock()
	s.entries[m.ID] = m
	s.mu.Unlock()

	e.logger.Info("monitor started", slog.String("monitor_id", m.ID), slog.Duration("window", window))
	return m.Monitor
}

// Tick re-runs Evaluate with the monitor's window and stores the decision
// on the monitor.
func (e *Evaluator) Tick(ctx context.Context, id string, overrides pricing.Snapshot) (Monitor, error) {
	s := e.monitors

	s.mu.Lock()
	m, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return Monitor{}, notFound(id)
	}
	if !m.limiter.Allow() {
		s.mu.Unlock()
		return Monitor{}, ErrTickRateLimited
	}
	window := m.Window
	s.mu.Unlock()

	d, err := e.Evaluate(ctx, window, overrides)
	if err != nil {
		return Monitor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok = s.entries[id]
	if !ok {
		return Monitor{}, notFound(id)
	}
	m.Ticks++
	m.LastTickAt = d.DecidedAt
	m.LastDecision = d
	return m.Monitor, nil
}

// Monitor returns one monitor.
func (e *Evaluator) Monitor(id string) (Monitor, error) {
	s := e.monitors
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[id]
	if !ok {
		return Monitor{}, notFound(id)
	}
	return m.Monitor, nil
}

// Monitors lists monitors oldest first.
func (e *Evaluator) Monitors() []Monitor {
	s := e.monitors
	s.mu.Lock()
	out := make([]Monitor, 0, len(s.entries))
	for _, m := range s.entries {
		out = append(out, m.Monitor)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Monitor) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Stop removes a monitor.
func (e *Evaluator) Stop(id string) error {
	s := e.monitors
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return notFound(id)
	}
	delete(s.entries, id)
	return nil
}
