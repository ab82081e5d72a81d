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

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}
	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		level     string
		format    Format
		addSource bool
	}{
		{
			name:   "defaults when no env vars",
			level:  "info",
			format: FormatJSON,
		},
		{
			name:    "LOG_LEVEL=DEBUG (case insensitive)",
			envVars: map[string]string{"LOG_LEVEL": "DEBUG"},
			level:   "debug",
			format:  FormatJSON,
		},
		{
			name:    "SWITCHYARD_LOG_LEVEL wins over LOG_LEVEL",
			envVars: map[string]string{"LOG_LEVEL": "error", "SWITCHYARD_LOG_LEVEL": "warn"},
			level:   "warn",
			format:  FormatJSON,
		},
		{
			name:      "SWITCHYARD_DEBUG enables debug and source",
			envVars:   map[string]string{"SWITCHYARD_DEBUG": "1", "SWITCHYARD_LOG_LEVEL": "error"},
			level:     "debug",
			format:    FormatJSON,
			addSource: true,
		},
		{
			name:      "format and source",
			envVars:   map[string]string{"LOG_FORMAT": "text", "LOG_SOURCE": "1"},
			level:     "info",
			format:    FormatText,
			addSource: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"SWITCHYARD_DEBUG", "SWITCHYARD_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.level {
				t.Errorf("expected level %q, got %q", tt.level, cfg.Level)
			}
			if cfg.Format != tt.format {
				t.Errorf("expected format %q, got %q", tt.format, cfg.Format)
			}
			if cfg.AddSource != tt.addSource {
				t.Errorf("expected AddSource %v, got %v", tt.addSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	logger.Info("test message", "key", "value")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v", err)
	}
	if entry["msg"] != "test message" {
		t.Errorf("expected msg 'test message', got: %v", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected key 'value', got: %v", entry["key"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("expected level 'INFO', got: %v", entry["level"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") || !strings.Contains(output, "key=value") {
		t.Errorf("unexpected text output: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if level := ParseLevel(tt.input); level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got: %s", buf.String())
	}

	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected warn entry, got: %s", buf.String())
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger = WithComponent(logger, "router")
	logger = WithRouteContext(logger, "route-1", "code")
	logger = WithProvider(logger, "openai")
	logger = WithRequestID(logger, "req-9")
	logger.Info("attempt", Error(errors.New("boom")))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	want := map[string]string{
		"component":  "router",
		RouteIDKey:   "route-1",
		TaskTypeKey:  "code",
		ProviderKey:  "openai",
		"request_id": "req-9",
		"error":      "boom",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("expected %s=%q, got %v", k, v, entry[k])
		}
	}
}

func TestSanitizeAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "[REDACTED]"},
		{"abcd", "[REDACTED]"},
		{"sk-1234567890", "...7890"},
	}
	for _, tt := range tests {
		if got := SanitizeAPIKey(tt.key); got != tt.want {
			t.Errorf("SanitizeAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer

	info := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	Trace(context.Background(), info, "hidden")
	if buf.Len() != 0 {
		t.Fatalf("trace should be filtered at info level, got: %s", buf.String())
	}

	trace := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})
	//nolint:staticcheck // nil context is tolerated
	Trace(nil, trace, "visible", slog.String("prompt", "hi"))
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected trace entry, got: %s", buf.String())
	}
}
