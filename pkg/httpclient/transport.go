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

package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/tracing"
)

// loggingTransport sets the User-Agent, forwards the request id and trace
// context, and logs each round trip.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newLoggingTransport(base http.RoundTripper, userAgent string) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{base: base, userAgent: userAgent}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	out := req.Clone(req.Context())
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", t.userAgent)
	}
	if id := log.RequestIDFromContext(out.Context()); id != "" && out.Header.Get(log.RequestIDHeader) == "" {
		out.Header.Set(log.RequestIDHeader, id)
	}
	tracing.InjectHTTPHeaders(out.Context(), out)

	resp, err := t.base.RoundTrip(out)
	elapsed := time.Since(start).Milliseconds()
	url := sanitizeURL(out.URL)

	if err != nil {
		slog.WarnContext(out.Context(), "http request failed",
			slog.String("method", out.Method),
			slog.String("url", url),
			slog.Int64(log.DurationKey, elapsed),
			log.Error(err),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	slog.Log(out.Context(), level, "http request",
		slog.String("method", out.Method),
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Int64(log.DurationKey, elapsed),
	)
	return resp, nil
}
