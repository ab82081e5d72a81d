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

package pricing

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Price(t *testing.T) {
	s := Snapshot{
		"openai": {"gpt-4": 0.03, "bad": math.NaN(), "neg": -1, "inf": math.Inf(1)},
		"ollama": {"llama3.2": 0},
	}

	p, ok := s.Price("openai", "gpt-4")
	assert.True(t, ok)
	assert.InDelta(t, 0.03, p, 1e-9)

	_, ok = s.Price("ollama", "llama3.2")
	assert.True(t, ok, "free models are valid")

	for _, model := range []string{"bad", "neg", "inf", "missing"} {
		_, ok = s.Price("openai", model)
		assert.False(t, ok, model)
	}
	_, ok = s.Price("gemini", "ultra")
	assert.False(t, ok)
}

func TestSnapshot_MergeDoesNotMutate(t *testing.T) {
	base := Snapshot{"openai": {"gpt-4": 0.03}}
	merged := base.Merge(Snapshot{"openai": {"gpt-4": 0.02}, "gemini": {"ultra": 0.01}})

	assert.InDelta(t, 0.03, base["openai"]["gpt-4"], 1e-9)
	assert.InDelta(t, 0.02, merged["openai"]["gpt-4"], 1e-9)
	assert.InDelta(t, 0.01, merged["gemini"]["ultra"], 1e-9)
	assert.Equal(t, []string{"gemini", "openai"}, merged.Providers())
	assert.Equal(t, base, base.Merge(nil))
}

func TestDefaults_CoverFlagships(t *testing.T) {
	d := Defaults()
	_, ok := d.Price("openai", "gpt-4")
	assert.True(t, ok)
	_, ok = d.Price("gemini", "ultra")
	assert.True(t, ok)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestStaticFeed_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	writeFile(t, path, "prices:\n  gemini:\n    ultra: 0.001\n  custom:\n    m1: 0.5\n")

	feed, err := NewStaticFeed(path, nil)
	require.NoError(t, err)
	assert.False(t, feed.LoadedAt().IsZero())

	snap, err := feed.CurrentPrices(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, snap["gemini"]["ultra"], 1e-9)
	assert.InDelta(t, 0.5, snap["custom"]["m1"], 1e-9)
	assert.InDelta(t, 0.03, snap["openai"]["gpt-4"], 1e-9)

	// Callers get a copy.
	snap["openai"]["gpt-4"] = 99
	again, err := feed.CurrentPrices(context.Background(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.03, again["openai"]["gpt-4"], 1e-9)
}

func TestStaticFeed_MissingAndInvalidFiles(t *testing.T) {
	dir := t.TempDir()

	feed, err := NewStaticFeed(filepath.Join(dir, "absent.yaml"), nil)
	require.NoError(t, err)
	snap, err := feed.CurrentPrices(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), snap)

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "prices: [not, a, map")
	_, err = NewStaticFeed(bad, nil)
	require.Error(t, err)
}

func TestStaticFeed_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	writeFile(t, path, "prices:\n  gemini:\n    ultra: 0.002\n")
	feed, err := NewStaticFeed(path, nil)
	require.NoError(t, err)

	writeFile(t, path, ":::")
	require.Error(t, feed.Reload())

	snap, err := feed.CurrentPrices(context.Background(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.002, snap["gemini"]["ultra"], 1e-9)
}

func TestStaticFeed_WatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	writeFile(t, path, "prices:\n  gemini:\n    ultra: 0.002\n")
	feed, err := NewStaticFeed(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Watch(ctx) }()

	require.Eventually(t, func() bool {
		writeFile(t, path, "prices:\n  gemini:\n    ultra: 0.004\n")
		snap, err := feed.CurrentPrices(context.Background(), 0)
		return err == nil && snap["gemini"]["ultra"] == 0.004
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestHTTPFeed(t *testing.T) {
	var gotWindow string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWindow = r.URL.Query().Get("window")
		switch r.URL.Path {
		case "/wrapped":
			_, _ = w.Write([]byte(`{"prices":{"openai":{"gpt-4":0.03},"gemini":{"ultra":0.01}}}`))
		case "/bare":
			_, _ = w.Write([]byte(`{"gemini":{"ultra":0.02}}`))
		case "/garbage":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	feed, err := NewHTTPFeed(srv.URL + "/wrapped")
	require.NoError(t, err)
	snap, err := feed.CurrentPrices(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, snap["gemini"]["ultra"], 1e-9)
	assert.Equal(t, "1h0m0s", gotWindow)

	feed, err = NewHTTPFeed(srv.URL + "/bare")
	require.NoError(t, err)
	snap, err = feed.CurrentPrices(context.Background(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, snap["gemini"]["ultra"], 1e-9)

	for _, path := range []string{"/garbage", "/missing"} {
		feed, err = NewHTTPFeed(srv.URL + path)
		require.NoError(t, err)
		_, err = feed.CurrentPrices(context.Background(), 0)
		assert.Error(t, err, path)
	}

	_, err = NewHTTPFeed("::not a url")
	assert.Error(t, err)
}
