package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("default level = %s, want %s", cfg.Level, LevelInfo)
	}
	if cfg.Pretty {
		t.Error("default pretty should be false")
	}
	if cfg.Output == nil {
		t.Error("default output should not be nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel}, // unknown levels fall back to info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSetupEmitsStructuredJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelDebug, Output: buf})

	logger.Info().
		Str("component", "engine").
		Int("batch", 3).
		Msg("batch started")

	var event map[string]any
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("output is not JSON: %v (raw: %q)", err, buf.String())
	}
	if event["component"] != "engine" {
		t.Errorf("component = %v, want engine", event["component"])
	}
	if event["message"] != "batch started" {
		t.Errorf("message = %v, want 'batch started'", event["message"])
	}
}

func TestSetupNilOutputDefaultsToStderr(t *testing.T) {
	// Must not panic; Setup falls back to stderr when Output is nil.
	Setup(Config{Level: LevelInfo})
}

func TestNewLoggerComponentField(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	for _, component := range []string{"pool", "selector", "usage-ledger"} {
		buf.Reset()
		logger := NewLogger(component)
		logger.Info().Msg("ready")

		if !strings.Contains(buf.String(), component) {
			t.Errorf("output missing component %q: %q", component, buf.String())
		}
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("engine")
	logger.Debug().Msg("retry scheduled")
	logger.Info().Msg("batch completed")
	logger.Warn().Msg("credential rate limited")
	logger.Error().Msg("all credentials exhausted")

	output := buf.String()
	for _, suppressed := range []string{"retry scheduled", "batch completed"} {
		if strings.Contains(output, suppressed) {
			t.Errorf("%q should be filtered out at warn level", suppressed)
		}
	}
	for _, kept := range []string{"credential rate limited", "all credentials exhausted"} {
		if !strings.Contains(output, kept) {
			t.Errorf("%q should be logged at warn level", kept)
		}
	}
}
