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

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Counter is satisfied by prometheus.Counter.
type Counter interface {
	Inc()
}

// Recorder is the write path used by the router and evaluator. Append
// failures are logged and counted, never returned.
type Recorder struct {
	store    Store
	logger   *slog.Logger
	failures Counter
}

// NewRecorder wraps store. failures may be nil.
func NewRecorder(store Store, logger *slog.Logger, failures Counter) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, failures: failures}
}

// Record appends rec and reports whether the write succeeded.
func (r *Recorder) Record(ctx context.Context, rec AttemptRecord) bool {
	rec = Normalize(rec, time.Now())
	if err := r.store.InsertEvent(ctx, rec); err != nil {
		err = fmt.Errorf("%w: %w", ErrWriteFailure, err)
		r.logger.Warn("ledger write failed",
			slog.String("record_id", rec.ID),
			slog.String("provider", rec.Provider),
			slog.String("agent_type", rec.AgentType),
			slog.Any("error", err),
		)
		if r.failures != nil {
			r.failures.Inc()
		}
		return false
	}
	return true
}

// Store returns the wrapped store.
func (r *Recorder) Store() Store {
	return r.store
}

// Normalize fills the fields a backend is allowed to default: ID,
// Timestamp and Outcome.
func Normalize(rec AttemptRecord, now time.Time) AttemptRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.Outcome == "" {
		if rec.Success {
			rec.Outcome = OutcomeSuccess
		} else {
			rec.Outcome = OutcomeFailure
		}
	}
	return rec
}

// Summarize aggregates records at or after since into per-provider
// summaries. Providers with no matching records are omitted. Evaluator
// decision records and cancelled attempts never count.
func Summarize(recs []AttemptRecord, since time.Time) map[string]ProviderHealthSummary {
	type acc struct {
		total, success int
		latency        int64
	}
	accs := make(map[string]*acc)
	for _, rec := range recs {
		if rec.AgentType == AgentTypeFinOps || rec.Outcome == OutcomeCancelled {
			continue
		}
		if !since.IsZero() && rec.Timestamp.Before(since) {
			continue
		}
		a, ok := accs[rec.Provider]
		if !ok {
			a = &acc{}
			accs[rec.Provider] = a
		}
		a.total++
		if rec.Success {
			a.success++
		}
		a.latency += rec.AttemptLatencyMS
	}

	out := make(map[string]ProviderHealthSummary, len(accs))
	for provider, a := range accs {
		out[provider] = ProviderHealthSummary{
			Provider:     provider,
			Total:        a.total,
			Success:      a.success,
			AvgLatencyMS: float64(a.latency) / float64(a.total),
		}
	}
	return out
}
