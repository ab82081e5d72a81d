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


// Package client is a typed client for the switchyardd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/switchyard/internal/api"
	"github.com/tombee/switchyard/pkg/finops"
	"github.com/tombee/switchyard/pkg/httpclient"
	"github.com/tombee/switchyard/pkg/ledger"
	"github.com/tombee/switchyard/pkg/router"
)

const (
	// DefaultURL matches the daemon's default listen address.
	DefaultURL = "http://127.0.0.1:8088"

	// URLEnv overrides DefaultURL.
	URLEnv = "SWITCHYARD_URL"

	defaultTimeout = 5 * time.Minute
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Body       api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("switchyard returned %d: %s", e.StatusCode, e.Body.Error)
	}
	return fmt.Sprintf("switchyard returned %d", e.StatusCode)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Client talks to one daemon.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBaseURL sets the daemon URL.
func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid switchyard url %q", raw)
		}
		c.baseURL = strings.TrimRight(raw, "/")
		return nil
	}
}

// WithClientID sets the X-Client-ID header used for per-client rate
// limiting.
func WithClientID(id string) Option {
	return func(c *Client) error {
		c.clientID = id
		return nil
	}
}

// WithTimeout bounds each request. Routes can wait on a whole fallback
// chain, so the default is generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// New creates a client. The URL defaults to $SWITCHYARD_URL, then
// DefaultURL.
func New(opts ...Option) (*Client, error) {
	c := &Client{baseURL: DefaultURL, timeout: defaultTimeout}
	if env := os.Getenv(URLEnv); env != "" {
		if err := WithBaseURL(env)(c); err != nil {
			return nil, err
		}
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = c.timeout
		cfg.UserAgent = "switchyard-cli/1.0"
		hc, err := httpclient.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
		c.httpClient = hc
	}
	return c, nil
}

// BaseURL returns the daemon URL in use.
func (c *Client) BaseURL() string { return c.baseURL }

// Route sends a task through the fallback chain.
func (c *Client) Route(ctx context.Context, req api.RouteRequest) (*router.Result, error) {
	var out router.Result
	if err := c.do(ctx, http.MethodPost, "/v1/route", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns per-provider health verdicts.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preferences returns the current routing preferences.
func (c *Client) Preferences(ctx context.Context) (*ledger.PolicyState, error) {
	var out ledger.PolicyState
	if err := c.do(ctx, http.MethodGet, "/v1/preferences", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPreferences merges req into the routing preferences.
func (c *Client) SetPreferences(ctx context.Context, req api.PreferencesRequest) (*ledger.PolicyState, error) {
	var out ledger.PolicyState
	if err := c.do(ctx, http.MethodPost, "/v1/preferences", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Evaluate runs one cost evaluation.
func (c *Client) Evaluate(ctx context.Context, req api.EvaluateRequest) (*finops.Decision, error) {
	var out finops.Decision
	if err := c.do(ctx, http.MethodPost, "/v1/evaluate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartMonitor creates a cost monitor.
func (c *Client) StartMonitor(ctx context.Context, window time.Duration) (*finops.Monitor, error) {
	var out finops.Monitor
	if err := c.do(ctx, http.MethodPost, "/v1/monitor/start", api.MonitorStartRequest{Window: api.Duration(window)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tick evaluates a monitor once.
func (c *Client) Tick(ctx context.Context, req api.MonitorTickRequest) (*finops.Monitor, error) {
	var out finops.Monitor
	if err := c.do(ctx, http.MethodPost, "/v1/monitor/tick", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Monitors lists active monitors, oldest first.
func (c *Client) Monitors(ctx context.Context) ([]finops.Monitor, error) {
	var out struct {
		Monitors []finops.Monitor `json:"monitors"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/monitors", nil, &out); err != nil {
		return nil, err
	}
	return out.Monitors, nil
}

// StopMonitor removes a monitor.
func (c *Client) StopMonitor(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/monitors/"+url.PathEscape(id), nil, nil)
}

// Events lists ledger records matching filter.
func (c *Client) Events(ctx context.Context, filter ledger.EventFilter) ([]ledger.AttemptRecord, error) {
	q := url.Values{}
	if filter.RouteID != "" {
		q.Set("route_id", filter.RouteID)
	}
	if filter.Provider != "" {
		q.Set("provider", filter.Provider)
	}
	if filter.AgentType != "" {
		q.Set("agent_type", filter.AgentType)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Events []ledger.AttemptRecord `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// VersionResponse is the body of GET /v1/version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Version returns the daemon build information.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	var out VersionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.Header.Set(api.ClientIDHeader, c.clientID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := json.Unmarshal(raw, &apiErr.Body); err != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
