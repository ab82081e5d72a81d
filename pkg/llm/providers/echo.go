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

	"github.com/tombee/switchyard/pkg/llm"
)

// Echo answers locally with Settings.Reply, or with the prompt itself.
// It is meant for development and smoke tests.
type Echo struct {
	id, reply, model string
}

// NewEcho is the echo Factory.
func NewEcho(s llm.Settings) (llm.Adapter, error) {
	return &Echo{id: s.ID, reply: s.Reply, model: pickModel(s.Model, "echo")}, nil
}

// Name implements llm.Adapter.
func (p *Echo) Name() string { return p.id }

// Invoke implements llm.Adapter.
func (p *Echo) Invoke(ctx context.Context, prompt, model string) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := p.reply
	if text == "" {
		text = prompt
	}
	model = pickModel(model, p.model)
	raw, _ := json.Marshal(map[string]string{"text": text, "model": model})
	return &llm.Response{Text: text, Raw: raw, Model: model}, nil
}
