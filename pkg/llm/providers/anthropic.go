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
	"net/http"
	"strings"

	"github.com/tombee/switchyard/pkg/llm"
)

const (
	anthropicBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultModel = "claude-3-5-haiku-20241022"
	anthropicMaxTokens    = 1024
)

// Anthropic calls the Messages API.
type Anthropic struct {
	id, apiKey, baseURL, model string
	client                     *http.Client
}

// NewAnthropic is the anthropic Factory.
func NewAnthropic(s llm.Settings) (llm.Adapter, error) {
	if err := requireKey(s); err != nil {
		return nil, err
	}
	client, err := newHTTPClient(s)
	if err != nil {
		return nil, err
	}
	return &Anthropic{
		id:      s.ID,
		apiKey:  s.APIKey,
		baseURL: baseURL(s.BaseURL, anthropicBaseURL),
		model:   pickModel(s.Model, anthropicDefaultModel),
		client:  client,
	}, nil
}

// Name implements llm.Adapter.
func (p *Anthropic) Name() string { return p.id }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Invoke implements llm.Adapter.
func (p *Anthropic) Invoke(ctx context.Context, prompt, model string) (*llm.Response, error) {
	model = pickModel(model, p.model)
	raw, err := postJSON(ctx, p.client, p.id, model, p.baseURL+"/messages",
		map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": anthropicAPIVersion,
		},
		anthropicRequest{
			Model:     model,
			MaxTokens: anthropicMaxTokens,
			Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		},
	)
	if err != nil {
		return nil, err
	}

	var out anthropicResponse
	if err := decodeResponse(p.id, model, raw, &out); err != nil {
		return nil, err
	}
	return &llm.Response{Text: joinAnthropicText(out), Raw: raw, Model: pickModel(out.Model, model)}, nil
}

func joinAnthropicText(out anthropicResponse) string {
	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" || block.Type == "" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
