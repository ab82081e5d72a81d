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

	"github.com/tombee/switchyard/pkg/llm"
)

const (
	openAIBaseURL      = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAI calls the chat completions endpoint. It also serves any
// OpenAI-compatible server through base_url.
type OpenAI struct {
	id, apiKey, baseURL, model string
	client                     *http.Client
}

// NewOpenAI is the openai Factory.
func NewOpenAI(s llm.Settings) (llm.Adapter, error) {
	if err := requireKey(s); err != nil {
		return nil, err
	}
	client, err := newHTTPClient(s)
	if err != nil {
		return nil, err
	}
	return &OpenAI{
		id:      s.ID,
		apiKey:  s.APIKey,
		baseURL: baseURL(s.BaseURL, openAIBaseURL),
		model:   pickModel(s.Model, openAIDefaultModel),
		client:  client,
	}, nil
}

// Name implements llm.Adapter.
func (p *OpenAI) Name() string { return p.id }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// Invoke implements llm.Adapter.
func (p *OpenAI) Invoke(ctx context.Context, prompt, model string) (*llm.Response, error) {
	model = pickModel(model, p.model)
	raw, err := postJSON(ctx, p.client, p.id, model, p.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + p.apiKey},
		openAIRequest{Model: model, Messages: []openAIMessage{{Role: "user", Content: prompt}}},
	)
	if err != nil {
		return nil, err
	}

	var out openAIResponse
	if err := decodeResponse(p.id, model, raw, &out); err != nil {
		return nil, err
	}
	var text string
	if len(out.Choices) > 0 {
		text = out.Choices[0].Message.Content
	}
	return &llm.Response{Text: text, Raw: raw, Model: pickModel(out.Model, model)}, nil
}
