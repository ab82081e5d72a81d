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

package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBuffer      = 256
	defaultSource      = "switchyard"
	defaultSinkTimeout = 5 * time.Second
)

// Counter is satisfied by prometheus.Counter.
type Counter interface {
	Inc()
}

// BusConfig configures a Bus.
type BusConfig struct {
	// Buffer is the queue capacity. Events published while it is full
	// are dropped.
	Buffer int

	// Source is stamped on every envelope.
	Source string

	// SinkTimeout bounds one delivery.
	SinkTimeout time.Duration

	Logger *slog.Logger

	// Dropped counts events lost to a full queue or a closed bus.
	Dropped Counter

	// Failed counts sink delivery errors.
	Failed Counter
}

// Bus fans envelopes out to sinks from a single worker goroutine.
type Bus struct {
	cfg   BusConfig
	sinks []Sink
	queue chan Envelope

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus starts a bus delivering to sinks.
func NewBus(cfg BusConfig, sinks ...Sink) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Source == "" {
		cfg.Source = defaultSource
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Bus{
		cfg:   cfg,
		sinks: sinks,
		queue: make(chan Envelope, cfg.Buffer),
		done:  make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish implements Announcer. It never blocks.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) {
	env := Envelope{
		EventID:   uuid.NewString(),
		Channel:   channel,
		Source:    b.cfg.Source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.drop(env, "bus closed")
		return
	}
	select {
	case b.queue <- env:
		b.published.Add(1)
	default:
		b.drop(env, "queue full")
	}
}

func (b *Bus) drop(env Envelope, reason string) {
	b.dropped.Add(1)
	if b.cfg.Dropped != nil {
		b.cfg.Dropped.Inc()
	}
	b.cfg.Logger.Debug("event dropped",
		slog.String("channel", env.Channel),
		slog.String("event_id", env.EventID),
		slog.String("reason", reason),
	)
}

func (b *Bus) run() {
	defer close(b.done)
	for env := range b.queue {
		for _, sink := range b.sinks {
			b.deliver(sink, env)
		}
	}
	for _, sink := range b.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				b.cfg.Logger.Warn("failed to close sink", slog.String("sink", sink.Name()), slog.String("error", err.Error()))
			}
		}
	}
}

func (b *Bus) deliver(sink Sink, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SinkTimeout)
	defer cancel()

	if err := sink.Deliver(ctx, env); err != nil {
		if b.cfg.Failed != nil {
			b.cfg.Failed.Inc()
		}
		b.cfg.Logger.Warn("event delivery failed",
			slog.String("sink", sink.Name()),
			slog.String("channel", env.Channel),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or ctx to end. Sinks implementing io.Closer are closed after the drain.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Published returns the number of events accepted onto the queue.
func (b *Bus) Published() int64 { return b.published.Load() }

// Dropped returns the number of events discarded.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
