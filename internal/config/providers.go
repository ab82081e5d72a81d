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

package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// plaintextAPIKeyPattern matches common plaintext API key formats
var plaintextAPIKeyPattern = regexp.MustCompile(`^(sk-ant-|sk-|gsk-|AIza)`)

// ProviderConfig defines configuration for a single provider instance.
// The map key in ProvidersMap is the provider id used in PolicyState.
type ProviderConfig struct {
	// Type specifies the adapter implementation (see SupportedProviderTypes).
	Type string `yaml:"type" json:"type"`

	// BaseURL overrides the provider's API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// APIKey is a literal key, env:NAME or keyring:NAME.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Model is the adapter default when no model preference applies.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Region is used by the bedrock adapter.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// ResponsePath is a jq query extracting text from the http adapter's response.
	ResponsePath string `yaml:"response_path,omitempty" json:"response_path,omitempty"`

	// Reply is the fixed response of the echo adapter. Empty echoes the prompt.
	Reply string `yaml:"reply,omitempty" json:"reply,omitempty"`

	// MaxRetries wraps the adapter with exponential backoff retries.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// RetryBackoff is the base delay between retries.
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty" json:"retry_backoff,omitempty"`
}

// ProvidersMap is a map of provider ids to their configurations.
type ProvidersMap map[string]ProviderConfig

func (p ProviderConfig) validate() error {
	var errs []error
	if p.Type == "" {
		errs = append(errs, errors.New("type is required"))
	} else if !IsSupportedProvider(p.Type) {
		errs = append(errs, fmt.Errorf("unsupported type %q (supported: %s)", p.Type, strings.Join(SupportedProviderTypes, ", ")))
	}
	if p.Type == "http" && p.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required for the http type"))
	}
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be non-negative, got %d", p.MaxRetries))
	}
	return errors.Join(errs...)
}

// HasPlaintextKey reports whether the API key looks like a pasted secret
// rather than an env: or keyring: reference.
func (p ProviderConfig) HasPlaintextKey() bool {
	return plaintextAPIKeyPattern.MatchString(p.APIKey)
}

// keysOf returns the sorted keys of a ProvidersMap.
func keysOf(m ProvidersMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Names returns the configured provider ids in sorted order.
func (m ProvidersMap) Names() []string {
	return keysOf(m)
}
