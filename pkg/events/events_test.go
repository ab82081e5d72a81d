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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	got   []Envelope
	block chan struct{}
	err   error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, env Envelope) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, env)
	return s.err
}

func (s *recordingSink) envelopes() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.got...)
}

type countingCounter struct{ n atomic.Int64 }

func (c *countingCounter) Inc() { c.n.Add(1) }

func TestBus_FansOutToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	bus := NewBus(BusConfig{Source: "test"}, a, b)

	bus.Publish(context.Background(), ChannelRouteSucceeded, map[string]any{"provider": "openai"})
	bus.Publish(context.Background(), ChannelPolicyUpdate, map[string]any{"action": "default_order"})
	require.NoError(t, bus.Close(context.Background()))

	for _, sink := range []*recordingSink{a, b} {
		got := sink.envelopes()
		require.Len(t, got, 2)
		assert.Equal(t, ChannelRouteSucceeded, got[0].Channel)
		assert.Equal(t, ChannelPolicyUpdate, got[1].Channel)
		assert.Equal(t, "test", got[0].Source)
		assert.NotEmpty(t, got[0].EventID)
		assert.False(t, got[0].Timestamp.IsZero())
	}
	assert.Equal(t, int64(2), bus.Published())
	assert.Zero(t, bus.Dropped())
}

func TestBus_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &recordingSink{block: block}
	dropped := &countingCounter{}
	bus := NewBus(BusConfig{Buffer: 1, Dropped: dropped}, sink)

	// The worker holds the first event, the queue holds the second and
	// everything after that is dropped.
	for i := 0; i < 10; i++ {
		bus.Publish(context.Background(), ChannelRouteAttemptFailed, i)
	}

	assert.GreaterOrEqual(t, bus.Dropped(), int64(8))
	assert.Equal(t, bus.Dropped(), dropped.n.Load())

	close(block)
	require.NoError(t, bus.Close(context.Background()))
	assert.Equal(t, int(bus.Published()), len(sink.envelopes()))
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	sink := &recordingSink{}
	bus := NewBus(BusConfig{}, sink)
	require.NoError(t, bus.Close(context.Background()))
	require.NoError(t, bus.Close(context.Background()))

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), ChannelRouteExhausted, nil)
	})
	assert.Equal(t, int64(1), bus.Dropped())
	assert.Empty(t, sink.envelopes())
}

func TestBus_CloseHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	bus := NewBus(BusConfig{}, &recordingSink{block: block})
	bus.Publish(context.Background(), ChannelRouteSucceeded, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Close(ctx), context.DeadlineExceeded)
}

func TestBus_SinkErrorsAreCounted(t *testing.T) {
	failed := &countingCounter{}
	bad := &recordingSink{err: errors.New("boom")}
	good := &recordingSink{}
	bus := NewBus(BusConfig{Failed: failed}, bad, good)

	bus.Publish(context.Background(), ChannelRouteSucceeded, nil)
	require.NoError(t, bus.Close(context.Background()))

	assert.Equal(t, int64(1), failed.n.Load())
	assert.Len(t, good.envelopes(), 1)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Publish(context.Background(), ChannelPolicyUpdate, nil)
	})
}

func TestWebhookSink(t *testing.T) {
	var mu sync.Mutex
	var received []Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var env Envelope
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&env)) {
			return
		}
		assert.Equal(t, env.Channel, r.Header.Get("X-Switchyard-Event"))
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(srv.URL, []string{ChannelPolicyUpdate}, time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Deliver(ctx, Envelope{EventID: "1", Channel: ChannelPolicyUpdate, Payload: map[string]any{"action": "switch_to_gemini"}}))
	require.NoError(t, sink.Deliver(ctx, Envelope{EventID: "2", Channel: ChannelRouteSucceeded}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1, "channels outside the filter are skipped")
	assert.Equal(t, "1", received[0].EventID)
	assert.Equal(t, "switch_to_gemini", received[0].Payload.(map[string]any)["action"])
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(srv.URL, nil, time.Second)
	require.NoError(t, err)
	err = sink.Deliver(context.Background(), Envelope{Channel: ChannelRouteExhausted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	sink, err := NewRedisSink(ctx, "redis://"+mr.Addr(), "switchyard:")
	require.NoError(t, err)
	defer sink.Close()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, "switchyard:"+ChannelPolicyUpdate)
	defer ps.Close()
	_, err = ps.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(ctx, Envelope{EventID: "evt-1", Channel: ChannelPolicyUpdate, Payload: "x"}))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := ps.ReceiveMessage(recvCtx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, "evt-1", env.EventID)
	assert.Equal(t, ChannelPolicyUpdate, env.Channel)
}

func TestNewRedisSink_BadURL(t *testing.T) {
	_, err := NewRedisSink(context.Background(), "not-a-url", "")
	assert.Error(t, err)
}
