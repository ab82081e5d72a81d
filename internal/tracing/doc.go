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

// Package tracing configures the OpenTelemetry tracer provider used by the
// router's route and attempt spans, and propagates trace context over
// HTTP.
//
// Setup installs a global provider; components obtain tracers with
// otel.Tracer and never hold the provider directly.
//
//	shutdown, err := tracing.Setup(ctx, tracing.Config{
//	    Enabled:  true,
//	    Exporter: tracing.ExporterOTLPHTTP,
//	    Endpoint: "localhost:4318",
//	})
//	defer shutdown(context.Background())
package tracing
