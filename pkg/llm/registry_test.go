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

package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/tombee/switchyard/pkg/errors"
)

func staticAdapter(id, text string) AdapterFunc {
	return AdapterFunc{ID: id, Fn: func(context.Context, string, string) (*Response, error) {
		return &Response{Text: text}, nil
	}}
}

func TestRegistry_ActivateFromFactory(t *testing.T) {
	r := NewRegistry()
	var got Settings
	r.RegisterFactory("echo", func(s Settings) (Adapter, error) {
		got = s
		return staticAdapter(s.ID, "hi"), nil
	})

	require.NoError(t, r.Activate(Settings{ID: "local", Type: "echo", Model: "m"}))
	assert.Equal(t, "local", got.ID)
	assert.True(t, r.Has("local"))
	assert.Equal(t, []string{"local"}, r.List())
	assert.Equal(t, []string{"echo"}, r.ListFactories())

	// Second activation is a no-op.
	require.NoError(t, r.Activate(Settings{ID: "local", Type: "missing"}))

	a, err := r.Get("local")
	require.NoError(t, err)
	resp, err := a.Invoke(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
}

func TestRegistry_ActivateTypeDefaultsToID(t *testing.T) {
	r := NewRegistry()
	r.RegisterFactory("openai", func(s Settings) (Adapter, error) { return staticAdapter(s.ID, "x"), nil })

	require.NoError(t, r.Activate(Settings{ID: "openai"}))
	assert.True(t, r.Has("openai"))
}

func TestRegistry_ActivateErrors(t *testing.T) {
	r := NewRegistry()
	r.RegisterFactory("broken", func(Settings) (Adapter, error) { return nil, errors.New("boom") })

	err := r.Activate(Settings{ID: "x", Type: "nope"})
	assert.ErrorIs(t, err, ErrFactoryNotFound)

	err = r.Activate(Settings{ID: "y", Type: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, r.Has("y"))

	assert.ErrorIs(t, r.Activate(Settings{}), ErrInvalidProvider)
}

func TestRegistry_ActivateWrapsRetry(t *testing.T) {
	r := NewRegistry()
	r.RegisterFactory("echo", func(s Settings) (Adapter, error) { return staticAdapter(s.ID, "x"), nil })

	require.NoError(t, r.Activate(Settings{ID: "e", Type: "echo", Retry: RetryConfig{MaxRetries: 2}}))
	a, err := r.Get("e")
	require.NoError(t, err)
	assert.IsType(t, &RetryingAdapter{}, a)
	assert.Equal(t, "e", a.Name())
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(staticAdapter("a", "x")))
	assert.ErrorIs(t, r.Register(staticAdapter("a", "y")), ErrProviderAlreadyRegistered)
	assert.ErrorIs(t, r.Register(nil), ErrInvalidProvider)
	assert.ErrorIs(t, r.Register(staticAdapter("", "y")), ErrInvalidProvider)

	_, err := r.Get("missing")
	var nf *pkgerrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)

	require.NoError(t, r.Unregister("a"))
	assert.False(t, r.Has("a"))
	assert.ErrorAs(t, r.Unregister("a"), &nf)
}

func TestSettings_Redacted(t *testing.T) {
	s := Settings{ID: "openai", APIKey: "sk-1234567890abcdef"}
	out := s.Redacted()
	assert.NotContains(t, out, "567890ab")
	assert.Contains(t, out, "sk-1")
	assert.Contains(t, out, "type=openai")
}
