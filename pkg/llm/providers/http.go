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

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/itchyny/gojq"

	"github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/llm"
)

// DefaultResponsePath selects the answer from a generic endpoint.
const DefaultResponsePath = ".text"

// HTTP posts {"prompt", "model"} to an arbitrary JSON endpoint and
// extracts the answer with a jq query.
type HTTP struct {
	id, apiKey, url, model string
	query                  *gojq.Code
	client                 *http.Client
}

type httpRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// NewHTTP is the http Factory. Settings.BaseURL is the full endpoint URL.
func NewHTTP(s llm.Settings) (llm.Adapter, error) {
	if s.BaseURL == "" {
		return nil, &errors.ConfigError{Key: "providers." + s.ID + ".base_url", Reason: "base_url is required for http providers"}
	}
	path := s.ResponsePath
	if path == "" {
		path = DefaultResponsePath
	}
	code, err := compileQuery(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: "providers." + s.ID + ".response_path", Reason: err.Error(), Cause: err}
	}
	client, err := newHTTPClient(s)
	if err != nil {
		return nil, err
	}
	return &HTTP{id: s.ID, apiKey: s.APIKey, url: s.BaseURL, model: s.Model, query: code, client: client}, nil
}

func compileQuery(expr string) (*gojq.Code, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}
	return code, nil
}

// Name implements llm.Adapter.
func (p *HTTP) Name() string { return p.id }

// Invoke implements llm.Adapter.
func (p *HTTP) Invoke(ctx context.Context, prompt, model string) (*llm.Response, error) {
	model = pickModel(model, p.model)
	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.apiKey}
	}

	raw, err := postJSON(ctx, p.client, p.id, model, p.url, headers, httpRequest{Prompt: prompt, Model: model})
	if err != nil {
		return nil, err
	}

	var doc any
	if err := decodeResponse(p.id, model, raw, &doc); err != nil {
		return nil, err
	}
	text, err := p.extract(ctx, doc)
	if err != nil {
		return nil, &errors.ProviderError{Provider: p.id, Model: model, Message: "response_path query failed", Cause: err}
	}
	return &llm.Response{Text: text, Raw: raw, Model: model}, nil
}

// extract returns the first query result; strings are used as-is and
// other values are rendered as JSON.
func (p *HTTP) extract(ctx context.Context, doc any) (string, error) {
	iter := p.query.RunWithContext(ctx, doc)
	v, ok := iter.Next()
	if !ok {
		return "", nil
	}
	switch v := v.(type) {
	case error:
		return "", v
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
