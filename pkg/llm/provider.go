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

// Package llm defines the provider adapter contract used by the router and
// the registry that maps provider ids to configured adapters.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Adapter invokes one provider. Implementations must honour ctx
// cancellation and return a *errors.ProviderError for provider-reported
// failures. An empty model selects the adapter's default.
type Adapter interface {
	// Name returns the provider id the adapter was activated under.
	Name() string

	// Invoke sends prompt to the provider and blocks until it answers.
	Invoke(ctx context.Context, prompt, model string) (*Response, error)
}

// Response is a provider answer. Raw holds the provider's response body
// for diagnostics.
type Response struct {
	Text  string          `json:"text"`
	Raw   json.RawMessage `json:"raw,omitempty"`
	Model string          `json:"model,omitempty"`
}

// Settings is the resolved configuration handed to a Factory.
type Settings struct {
	// ID is the provider id used in priorities and ledger records.
	ID string

	// Type selects the factory. Defaults to ID.
	Type string

	BaseURL string

	// APIKey is the resolved secret, never a reference.
	APIKey string

	// Model is the default model when the router passes none.
	Model string

	// Region is used by cloud SDK providers such as bedrock.
	Region string

	// ResponsePath is a jq query selecting the text from a generic
	// http provider's JSON response.
	ResponsePath string

	// Reply is the canned answer of the echo provider.
	Reply string

	// Timeout bounds a single HTTP exchange. The router's per-attempt
	// deadline still applies.
	Timeout time.Duration

	// Retry wraps the adapter with NewRetryingAdapter when MaxRetries > 0.
	Retry RetryConfig
}

// Redacted renders the settings with the API key masked.
func (s Settings) Redacted() string {
	return fmt.Sprintf("id=%s type=%s base_url=%s api_key=%s model=%s", s.ID, s.factoryType(), s.BaseURL, maskSecret(s.APIKey), s.Model)
}

func (s Settings) factoryType() string {
	if s.Type == "" {
		return s.ID
	}
	return s.Type
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc struct {
	ID string
	Fn func(ctx context.Context, prompt, model string) (*Response, error)
}

// Name implements Adapter.
func (f AdapterFunc) Name() string { return f.ID }

// Invoke implements Adapter.
func (f AdapterFunc) Invoke(ctx context.Context, prompt, model string) (*Response, error) {
	return f.Fn(ctx, prompt, model)
}

var _ Adapter = AdapterFunc{}
