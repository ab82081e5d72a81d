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
	defaultOllamaURL   = "http://localhost:11434"
	ollamaDefaultModel = "llama3.2"
)

// Ollama calls a local Ollama server's /api/chat endpoint. No API key is
// needed.
type Ollama struct {
	id, baseURL, model string
	client             *http.Client
}

// NewOllama is the ollama Factory.
func NewOllama(s llm.Settings) (llm.Adapter, error) {
	client, err := newHTTPClient(s)
	if err != nil {
		return nil, err
	}
	return &Ollama{
		id:      s.ID,
		baseURL: baseURL(s.BaseURL, defaultOllamaURL),
		model:   pickModel(s.Model, ollamaDefaultModel),
		client:  client,
	}, nil
}

// Name implements llm.Adapter.
func (p *Ollama) Name() string { return p.id }

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Model   string            `json:"model"`
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// Invoke implements llm.Adapter.
func (p *Ollama) Invoke(ctx context.Context, prompt, model string) (*llm.Response, error) {
	model = pickModel(model, p.model)
	raw, err := postJSON(ctx, p.client, p.id, model, p.baseURL+"/api/chat", nil, ollamaChatRequest{
		Model:    model,
		Messages: []ollamaChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}

	var out ollamaChatResponse
	if err := decodeResponse(p.id, model, raw, &out); err != nil {
		return nil, err
	}
	return &llm.Response{Text: out.Message.Content, Raw: raw, Model: pickModel(out.Model, model)}, nil
}
