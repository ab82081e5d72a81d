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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/llm"
)

type captured struct {
	path    string
	headers http.Header
	body    map[string]any
}

func fakeServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.path = r.URL.Path
		c.headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &c.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestAdapters_HTTPProviders(t *testing.T) {
	tests := []struct {
		name       string
		factory    llm.Factory
		reply      string
		wantPath   string
		wantHeader [2]string
		wantModel  string
		wantText   string
	}{
		{
			name:       "openai",
			factory:    NewOpenAI,
			reply:      `{"model":"gpt-4","choices":[{"message":{"role":"assistant","content":"hello from openai"}}]}`,
			wantPath:   "/chat/completions",
			wantHeader: [2]string{"Authorization", "Bearer sk-test"},
			wantModel:  "gpt-4",
			wantText:   "hello from openai",
		},
		{
			name:       "anthropic",
			factory:    NewAnthropic,
			reply:      `{"model":"claude","content":[{"type":"text","text":"hello "},{"type":"text","text":"there"}]}`,
			wantPath:   "/messages",
			wantHeader: [2]string{"x-api-key", "sk-test"},
			wantModel:  "claude",
			wantText:   "hello there",
		},
		{
			name:       "gemini",
			factory:    NewGemini,
			reply:      `{"candidates":[{"content":{"parts":[{"text":"ultra says hi"}]}}]}`,
			wantPath:   "/models/ultra:generateContent",
			wantHeader: [2]string{"x-goog-api-key", "sk-test"},
			wantModel:  "ultra",
			wantText:   "ultra says hi",
		},
		{
			name:      "ollama",
			factory:   NewOllama,
			reply:     `{"model":"llama3.2","message":{"role":"assistant","content":"local answer"},"done":true}`,
			wantPath:  "/api/chat",
			wantModel: "llama3.2",
			wantText:  "local answer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := fakeServer(t, http.StatusOK, tt.reply)
			a, err := tt.factory(llm.Settings{ID: tt.name, BaseURL: srv.URL, APIKey: "sk-test", Model: tt.wantModel})
			require.NoError(t, err)
			assert.Equal(t, tt.name, a.Name())

			resp, err := a.Invoke(context.Background(), "say hi", "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, resp.Text)
			assert.Equal(t, tt.wantModel, resp.Model)
			assert.NotEmpty(t, resp.Raw)
			assert.Equal(t, tt.wantPath, got.path)
			if tt.wantHeader[0] != "" {
				assert.Equal(t, tt.wantHeader[1], got.headers.Get(tt.wantHeader[0]))
			}
			assert.Contains(t, got.headers.Get("User-Agent"), "switchyard-"+tt.name)
		})
	}
}

func TestAdapters_RequestedModelOverridesDefault(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"choices":[{"message":{"content":"x"}}]}`)
	a, err := NewOpenAI(llm.Settings{ID: "openai", BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	resp, err := a.Invoke(context.Background(), "p", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.body["model"])
	assert.Equal(t, "gpt-4o", resp.Model)
}

func TestAdapters_ErrorStatus(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusTooManyRequests, `{"error":{"type":"rate_limit","message":"slow down"}}`)
	a, err := NewAnthropic(llm.Settings{ID: "anthropic", BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), "p", "")
	var pe *errors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "slow down", pe.Message)
	assert.True(t, pe.IsRetryable())
}

func TestAdapters_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	a, err := NewOllama(llm.Settings{ID: "ollama", BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Invoke(ctx, "p", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdapters_RequireAPIKey(t *testing.T) {
	for _, f := range []llm.Factory{NewOpenAI, NewAnthropic, NewGemini} {
		_, err := f(llm.Settings{ID: "x"})
		var ce *errors.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "providers.x.api_key", ce.Key)
	}
}

func TestHTTPAdapter_ResponsePath(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"data":{"outputs":[{"content":"jq picked this"}]},"usage":{"tokens":3}}`)
	a, err := NewHTTP(llm.Settings{ID: "custom", BaseURL: srv.URL, ResponsePath: ".data.outputs[0].content", APIKey: "tok"})
	require.NoError(t, err)

	resp, err := a.Invoke(context.Background(), "summarize", "m1")
	require.NoError(t, err)
	assert.Equal(t, "jq picked this", resp.Text)
	assert.Equal(t, "summarize", got.body["prompt"])
	assert.Equal(t, "m1", got.body["model"])
	assert.Equal(t, "Bearer tok", got.headers.Get("Authorization"))

	a, err = NewHTTP(llm.Settings{ID: "custom", BaseURL: srv.URL, ResponsePath: ".usage"})
	require.NoError(t, err)
	resp, err = a.Invoke(context.Background(), "p", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"tokens":3}`, resp.Text)

	a, err = NewHTTP(llm.Settings{ID: "custom", BaseURL: srv.URL})
	require.NoError(t, err)
	resp, err = a.Invoke(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Empty(t, resp.Text, "missing default path yields empty text")
}

func TestHTTPAdapter_ConfigErrors(t *testing.T) {
	_, err := NewHTTP(llm.Settings{ID: "custom"})
	var ce *errors.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "providers.custom.base_url", ce.Key)

	_, err = NewHTTP(llm.Settings{ID: "custom", BaseURL: "http://x", ResponsePath: ".data[["})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "providers.custom.response_path", ce.Key)
}

func TestEcho(t *testing.T) {
	a, err := NewEcho(llm.Settings{ID: "dev"})
	require.NoError(t, err)
	resp, err := a.Invoke(context.Background(), "ping", "")
	require.NoError(t, err)
	assert.Equal(t, "ping", resp.Text)
	assert.Equal(t, "echo", resp.Model)

	a, err = NewEcho(llm.Settings{ID: "dev", Reply: "pong"})
	require.NoError(t, err)
	resp, err = a.Invoke(context.Background(), "ping", "m")
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)
	assert.Equal(t, "m", resp.Model)
}

type fakeBedrock struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeBedrock) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrock_ModelFamilies(t *testing.T) {
	tests := []struct {
		model    string
		body     string
		wantKey  string
		wantText string
	}{
		{"anthropic.claude-3-5-sonnet-20240620-v1:0", `{"content":[{"type":"text","text":"claude on aws"}]}`, "anthropic_version", "claude on aws"},
		{"us.anthropic.claude-3-haiku", `{"content":[{"type":"text","text":"profile"}]}`, "messages", "profile"},
		{"amazon.titan-text-express-v1", `{"results":[{"outputText":"titan"}]}`, "inputText", "titan"},
		{"meta.llama3-8b-instruct-v1:0", `{"generation":"llama"}`, "max_gen_len", "llama"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			fake := &fakeBedrock{body: tt.body}
			a := NewBedrockWithClient("bedrock", "", fake)

			resp, err := a.Invoke(context.Background(), "hi", tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, resp.Text)
			assert.Equal(t, tt.model, aws.ToString(fake.input.ModelId))

			var sent map[string]any
			require.NoError(t, json.Unmarshal(fake.input.Body, &sent))
			assert.Contains(t, sent, tt.wantKey)
		})
	}
}

func TestBedrock_Error(t *testing.T) {
	a := NewBedrockWithClient("bedrock", "", &fakeBedrock{err: io.ErrUnexpectedEOF})
	_, err := a.Invoke(context.Background(), "hi", "")
	var pe *errors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bedrockDefaultModel, pe.Model)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRegisterFactories(t *testing.T) {
	r := llm.NewRegistry()
	RegisterFactories(r)
	assert.Equal(t, []string{"anthropic", "bedrock", "echo", "gemini", "http", "ollama", "openai"}, r.ListFactories())

	require.NoError(t, r.Activate(llm.Settings{ID: "local", Type: TypeEcho}))
	assert.True(t, r.Has("local"))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "nested", errorMessage([]byte(`{"error":{"message":"nested"}}`)))
	assert.Equal(t, "flat", errorMessage([]byte(`{"error":"flat"}`)))
	assert.Equal(t, "top", errorMessage([]byte(`{"message":"top"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte("plain text")))
	assert.Equal(t, "empty error response", errorMessage(nil))
}
