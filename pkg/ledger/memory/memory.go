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

// Package memory provides an in-memory ledger backend. PolicyState lives
// only for the process lifetime.
package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/switchyard/pkg/ledger"
)

// Compile-time interface assertions.
var (
	_ ledger.Store       = (*Backend)(nil)
	_ ledger.EventLister = (*Backend)(nil)
	_ ledger.Backend     = (*Backend)(nil)
)

// Backend is an in-memory ledger.
type Backend struct {
	mu      sync.RWMutex
	records []ledger.AttemptRecord
	seq     int64

	// policyMu serializes writers; readers load the pointer without locking.
	policyMu sync.Mutex
	policy   atomic.Pointer[ledger.PolicyState]
	seed     ledger.PolicyState

	now func() time.Time
}

// New creates an in-memory backend. seed becomes the PolicyState on first
// read.
func New(seed ledger.PolicyState) *Backend {
	return &Backend{
		seed: seed.Clone(),
		now:  time.Now,
	}
}

// InsertEvent appends a record.
func (b *Backend) InsertEvent(ctx context.Context, rec ledger.AttemptRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec = ledger.Normalize(rec, b.now())
	if rec.Meta != nil {
		meta := make(map[string]any, len(rec.Meta))
		for k, v := range rec.Meta {
			meta[k] = v
		}
		rec.Meta = meta
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	rec.Seq = b.seq
	b.records = append(b.records, rec)
	return nil
}

// SummaryByProvider aggregates records inside the window.
func (b *Backend) SummaryByProvider(ctx context.Context, window time.Duration) (map[string]ledger.ProviderHealthSummary, error) {
	since := ledger.Since(b.now(), window)

	b.mu.RLock()
	defer b.mu.RUnlock()

	return ledger.Summarize(b.records, since), nil
}

// ListEvents returns matching records in insertion order.
func (b *Backend) ListEvents(ctx context.Context, filter ledger.EventFilter) ([]ledger.AttemptRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []ledger.AttemptRecord
	for _, rec := range b.records {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return slices.Clone(out), nil
}

// GetPolicyState returns a copy of the current state.
func (b *Backend) GetPolicyState(ctx context.Context) (ledger.PolicyState, error) {
	if p := b.policy.Load(); p != nil {
		return p.Clone(), nil
	}

	b.policyMu.Lock()
	defer b.policyMu.Unlock()
	return b.loadOrInitLocked().Clone(), nil
}

// SetPolicyState merges u into the current state and swaps it in whole.
func (b *Backend) SetPolicyState(ctx context.Context, u ledger.PolicyUpdate) (ledger.PolicyState, error) {
	b.policyMu.Lock()
	defer b.policyMu.Unlock()

	next := b.loadOrInitLocked().Merge(u, b.now().UTC())
	b.policy.Store(&next)
	return next.Clone(), nil
}

// loadOrInitLocked must be called with policyMu held.
func (b *Backend) loadOrInitLocked() *ledger.PolicyState {
	if p := b.policy.Load(); p != nil {
		return p
	}
	seeded := ledger.Seed(b.seed, b.now())
	b.policy.Store(&seeded)
	return &seeded
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}
