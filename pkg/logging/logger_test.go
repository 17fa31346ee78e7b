package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
}

func TestSetup_WritesToConfiguredOutput(t *testing.T) {
	tests := []struct {
		name  string
		level LogLevel
		emit  func(zerolog.Logger, string)
	}{
		{"info_level", LevelInfo, func(l zerolog.Logger, m string) { l.Info().Msg(m) }},
		{"debug_level", LevelDebug, func(l zerolog.Logger, m string) { l.Debug().Msg(m) }},
		{"warn_level", LevelWarn, func(l zerolog.Logger, m string) { l.Warn().Msg(m) }},
		{"error_level", LevelError, func(l zerolog.Logger, m string) { l.Error().Msg(m) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			msg := "pipeline phase message"
			tt.emit(logger, msg)

			if !strings.Contains(buf.String(), msg) {
				t.Errorf("Expected output to contain %q, got %q", msg, buf.String())
			}
		})
	}
}

func TestSetup_NilOutputDefaultsToStderr(t *testing.T) {
	// Must not panic.
	Setup(Config{Level: LevelError})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewLogger_CarriesComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("paginator")
	logger.Info().Msg("cursor advanced")

	output := buf.String()
	if !strings.Contains(output, "paginator") {
		t.Errorf("Expected output to contain component name, got %q", output)
	}
	if !strings.Contains(output, "cursor advanced") {
		t.Errorf("Expected output to contain message, got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("fetcher")

	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Error("Messages below Warn should be filtered out")
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Error("Warn and Error messages should be included at Warn level")
	}
}
