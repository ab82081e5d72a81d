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

// Package eventstest provides an in-memory Announcer for tests.
package eventstest

import (
	"context"
	"sync"

	"github.com/tombee/switchyard/pkg/events"
)

// Collector records every published event synchronously.
type Collector struct {
	mu     sync.Mutex
	events []events.Envelope
}

// Publish implements events.Announcer.
func (c *Collector) Publish(_ context.Context, channel string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events.Envelope{Channel: channel, Payload: payload})
}

// Events returns a copy of everything published so far.
func (c *Collector) Events() []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Envelope(nil), c.events...)
}

// Channels returns the channel of each event in order.
func (c *Collector) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Channel
	}
	return out
}

// On returns the events published on channel.
func (c *Collector) On(channel string) []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Envelope
	for _, e := range c.events {
		if e.Channel == channel {
			out = append(out, e)
		}
	}
	return out
}
