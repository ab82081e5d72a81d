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

package tracing

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	syerrors "github.com/tombee/switchyard/pkg/errors"
)

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		sampled bool
	}{
		{"always", 1.0, true},
		{"above one", 2.0, true},
		{"never", 0, false},
		{"negative", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewSampler(tt.rate).ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       trace.TraceID{1},
				Name:          "span",
			})
			assert.Equal(t, tt.sampled, res.Decision == sdktrace.RecordAndSample)
		})
	}
}

func TestNewExporter_Unsupported(t *testing.T) {
	_, err := NewExporter(context.Background(), Config{Exporter: "zipkin"})
	var cerr *syerrors.ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "tracing.exporter", cerr.Key)
}

func TestNewProvider_Stdout(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewProvider(context.Background(), Config{
		Exporter:    ExporterStdout,
		SampleRate:  1,
		ServiceName: "switchyard-test",
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "router.Route")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "router.Route")
	assert.Contains(t, buf.String(), "switchyard-test")
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(W3CPropagator())
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return rec
}

func TestInjectExtractRoundTrip(t *testing.T) {
	withRecorder(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "outbound")
	defer span.End()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	InjectHTTPHeaders(ctx, req)
	assert.NotEmpty(t, req.Header.Get("traceparent"))

	got := trace.SpanContextFromContext(ExtractHTTPHeaders(context.Background(), req))
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestMiddleware(t *testing.T) {
	rec := withRecorder(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, trace.SpanContextFromContext(r.Context()).IsValid())
		w.WriteHeader(http.StatusBadGateway)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/route", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /v1/route", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
