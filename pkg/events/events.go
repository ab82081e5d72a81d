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

// Package events is the best-effort announcer for routing and policy
// events. Publishing never blocks the caller and never fails it.
package events

import (
	"context"
	"time"
)

// Channels published by the router and evaluator.
const (
	ChannelPolicyUpdate       = "policy_update"
	ChannelRouteAttemptFailed = "route_attempt_failed"
	ChannelRouteSucceeded     = "route_succeeded"
	ChannelRouteExhausted     = "route_exhausted"
)

// Announcer publishes a payload on a channel. Delivery is at most once.
type Announcer interface {
	Publish(ctx context.Context, channel string, payload any)
}

// Envelope wraps every published payload.
type Envelope struct {
	EventID   string    `json:"event_id"`
	Channel   string    `json:"channel"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Sink delivers envelopes to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, env Envelope) error
}

// Discard is an Announcer that drops everything.
var Discard Announcer = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, any) {}
