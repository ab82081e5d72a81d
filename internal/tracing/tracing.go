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
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporter names.
const (
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Config holds tracing configuration.
type Config struct {
	Enabled bool

	// Exporter is one of stdout, otlp-http, otlp-grpc.
	Exporter string

	// Endpoint is the collector host:port for the OTLP exporters.
	Endpoint string

	// Insecure disables TLS for the OTLP exporters.
	Insecure bool

	// SampleRate is the fraction of root traces recorded (0.0 - 1.0).
	SampleRate float64

	ServiceName    string
	ServiceVersion string

	// Writer receives stdout exporter output. Defaults to os.Stderr.
	Writer io.Writer
}

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Setup installs a global tracer provider and W3C propagator. When tracing
// is disabled only the propagator is installed and the returned shutdown
// is a no-op.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(W3CPropagator())
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	tp, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewProvider builds a tracer provider without installing it.
func NewProvider(ctx context.Context, cfg Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "switchyard"
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	exporter, err := NewExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// An empty schema URL avoids conflicts with the default resource.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	all := append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.SampleRate)),
		sdktrace.WithBatcher(exporter),
	}, opts...)
	return sdktrace.NewTracerProvider(all...), nil
}
