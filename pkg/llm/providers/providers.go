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

// Package providers implements llm.Adapter for the supported provider
// types and registers their factories.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/httpclient"
	"github.com/tombee/switchyard/pkg/llm"
)

// Provider types accepted in configuration.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeGemini    = "gemini"
	TypeOllama    = "ollama"
	TypeBedrock   = "bedrock"
	TypeHTTP      = "http"
	TypeEcho      = "echo"
)

// defaultHTTPTimeout bounds one exchange when Settings.Timeout is unset.
const defaultHTTPTimeout = 120 * time.Second

// maxErrorBody limits how much of an error response ends up in messages.
const maxErrorBody = 512

// RegisterFactories registers every built-in provider type with r.
func RegisterFactories(r *llm.Registry) {
	r.RegisterFactory(TypeOpenAI, NewOpenAI)
	r.RegisterFactory(TypeAnthropic, NewAnthropic)
	r.RegisterFactory(TypeGemini, NewGemini)
	r.RegisterFactory(TypeOllama, NewOllama)
	r.RegisterFactory(TypeBedrock, NewBedrock)
	r.RegisterFactory(TypeHTTP, NewHTTP)
	r.RegisterFactory(TypeEcho, NewEcho)
}

func newHTTPClient(s llm.Settings) (*http.Client, error) {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = defaultHTTPTimeout
	if s.Timeout > 0 {
		cfg.Timeout = s.Timeout
	}
	cfg.UserAgent = "switchyard-" + s.ID + "/1.0"
	// The llm retry wrapper and the router's fallback chain handle retries.
	cfg.RetryAttempts = 0

	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return client, nil
}

// postJSON sends body to url and returns the raw response. Non-2xx
// answers become *errors.ProviderError carrying the status code.
func postJSON(ctx context.Context, client *http.Client, provider, model, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &errors.ProviderError{Provider: provider, Model: model, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &errors.ProviderError{Provider: provider, Model: model, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &errors.ProviderError{Provider: provider, Model: model, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{Provider: provider, Model: model, StatusCode: resp.StatusCode, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errors.ProviderError{
			Provider:   provider,
			Model:      model,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
			RequestID:  requestID(resp.Header),
		}
	}
	return raw, nil
}

// errorMessage pulls a readable message out of the common error shapes:
// {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func errorMessage(raw []byte) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(body.Error, &flat) == nil && flat != "" {
			return flat
		}
		if body.Message != "" {
			return body.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	if msg == "" {
		msg = "empty error response"
	}
	return msg
}

func requestID(h http.Header) string {
	for _, k := range []string{"X-Request-Id", "Request-Id", "X-Amzn-Requestid"} {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func decodeResponse(provider, model string, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &errors.ProviderError{Provider: provider, Model: model, Message: "failed to parse response", Cause: err}
	}
	return nil
}

func pickModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func baseURL(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return strings.TrimRight(configured, "/")
}

func requireKey(s llm.Settings) error {
	if s.APIKey == "" {
		return &errors.ConfigError{
			Key:    "providers." + s.ID + ".api_key",
			Reason: fmt.Sprintf("API key is required for %s provider", s.ID),
		}
	}
	return nil
}
