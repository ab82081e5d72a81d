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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tombee/switchyard/pkg/httpclient"
)

// LogSink writes every envelope to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Name implements Sink.
func (s LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s LogSink) Deliver(ctx context.Context, env Envelope) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event published",
		slog.String("event", env.Channel),
		slog.String("event_id", env.EventID),
		slog.Any("payload", env.Payload),
	)
	return nil
}

// WebhookSink POSTs envelopes as JSON. An empty channel set means every
// channel.
type WebhookSink struct {
	url      string
	channels map[string]bool
	client   *http.Client
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string, channels []string, timeout time.Duration) (*WebhookSink, error) {
	cfg := httpclient.DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	// Delivery is at most once.
	cfg.RetryAttempts = 0
	cfg.UserAgent = "switchyard-webhook/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(channels))
	for _, c := range channels {
		set[c] = true
	}
	return &WebhookSink{url: url, channels: set, client: client}, nil
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook:" + s.url }

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, env Envelope) error {
	if len(s.channels) > 0 && !s.channels[env.Channel] {
		return nil
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Switchyard-Event", env.Channel)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// RedisSink publishes envelopes on Redis pub/sub channels named
// Prefix+channel.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink connects to a redis:// URL and verifies the connection.
func NewRedisSink(ctx context.Context, url, prefix string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisSink{client: client, prefix: prefix}, nil
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Deliver implements Sink.
func (s *RedisSink) Deliver(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.client.Publish(ctx, s.prefix+env.Channel, body).Err()
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
