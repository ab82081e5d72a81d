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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tombee/switchyard/pkg/httpclient"
)

// HTTPFeed fetches prices from a JSON endpoint. The body is either
// {"prices": {provider: {model: price}}} or the bare map.
type HTTPFeed struct {
	url    string
	client *http.Client
}

// NewHTTPFeed creates a feed for endpoint. The window is sent as the
// "window" query parameter.
func NewHTTPFeed(endpoint string) (*HTTPFeed, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid price feed url: %w", err)
	}
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.RetryAttempts = 2
	cfg.UserAgent = "switchyard-pricing/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, err
	}
	return &HTTPFeed{url: endpoint, client: client}, nil
}

// CurrentPrices implements the finops price feed.
func (f *HTTPFeed) CurrentPrices(ctx context.Context, window time.Duration) (Snapshot, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, err
	}
	if window > 0 {
		q := u.Query()
		q.Set("window", window.String())
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price feed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read price feed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	var wrapped struct {
		Prices Snapshot `json:"prices"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Prices != nil {
		return wrapped.Prices, nil
	}
	var bare Snapshot
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("failed to parse price feed: %w", err)
	}
	return bare, nil
}
