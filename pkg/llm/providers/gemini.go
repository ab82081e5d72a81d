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
	"net/url"
	"strings"

	"github.com/tombee/switchyard/pkg/llm"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-1.5-flash"
)

// Gemini calls generateContent on the Generative Language API.
type Gemini struct {
	id, apiKey, baseURL, model string
	client                     *http.Client
}

// NewGemini is the gemini Factory.
func NewGemini(s llm.Settings) (llm.Adapter, error) {
	if err := requireKey(s); err != nil {
		return nil, err
	}
	client, err := newHTTPClient(s)
	if err != nil {
		return nil, err
	}
	return &Gemini{
		id:      s.ID,
		apiKey:  s.APIKey,
		baseURL: baseURL(s.BaseURL, geminiBaseURL),
		model:   pickModel(s.Model, geminiDefaultModel),
		client:  client,
	}, nil
}

// Name implements llm.Adapter.
func (p *Gemini) Name() string { return p.id }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	ModelVersion string `json:"modelVersion"`
}

// Invoke implements llm.Adapter.
func (p *Gemini) Invoke(ctx context.Context, prompt, model string) (*llm.Response, error) {
	model = pickModel(model, p.model)
	endpoint := p.baseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	raw, err := postJSON(ctx, p.client, p.id, model, endpoint,
		map[string]string{"x-goog-api-key": p.apiKey},
		geminiRequest{Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}},
	)
	if err != nil {
		return nil, err
	}

	var out geminiResponse
	if err := decodeResponse(p.id, model, raw, &out); err != nil {
		return nil, err
	}
	var text strings.Builder
	if len(out.Candidates) > 0 {
		for _, part := range out.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	return &llm.Response{Text: text.String(), Raw: raw, Model: pickModel(out.ModelVersion, model)}, nil
}
