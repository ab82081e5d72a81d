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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	syerrors "github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/finops"
	"github.com/tombee/switchyard/pkg/router"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	Type       string `json:"type,omitempty"`
	Field      string `json:"field,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`

	// Set for exhausted routes.
	RouteID   string `json:"route_id,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeErr maps err onto a status code and error body.
func writeErr(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Type: syerrors.Classify(err)}
	status := http.StatusInternalServerError

	var (
		verr      *syerrors.ValidationError
		nferr     *syerrors.NotFoundError
		exhausted *router.ExhaustedError
	)
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Field = verr.Field
		resp.Suggestion = verr.Suggestion
	case errors.As(err, &nferr):
		status = http.StatusNotFound
	case errors.Is(err, finops.ErrTickRateLimited):
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", "1")
	case errors.As(err, &exhausted):
		status = http.StatusBadGateway
		resp.Type = exhausted.ErrorType()
		resp.RouteID = exhausted.RouteID
		resp.Attempts = exhausted.Attempts
		resp.ElapsedMS = exhausted.Elapsed.Milliseconds()
		if exhausted.LastErr != nil {
			resp.LastError = exhausted.LastErr.Error()
		}
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &syerrors.ValidationError{
			Field:      "body",
			Message:    fmt.Sprintf("invalid JSON: %s", err.Error()),
			Suggestion: "send a JSON object with the documented fields",
		}
	}
	return nil
}

// Duration accepts a Go duration string ("90s", "1h") or a number of
// seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		*d = Duration(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
