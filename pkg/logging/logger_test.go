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

func TestSetup_FiltersByLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     LogLevel
		wantDebug bool
	}{
		{name: "debug level keeps debug", level: LevelDebug, wantDebug: true},
		{name: "info level drops debug", level: LevelInfo, wantDebug: false},
		{name: "error level drops debug", level: LevelError, wantDebug: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := Setup(Config{Level: tt.level, Output: &buf})
			t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

			logger.Debug().Msg("debug message")
			logger.Error().Msg("error message")

			if got := strings.Contains(buf.String(), "debug message"); got != tt.wantDebug {
				t.Errorf("debug message present = %v, want %v", got, tt.wantDebug)
			}
			if !strings.Contains(buf.String(), "error message") {
				t.Error("error message should always be logged")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLogger_AddsComponent(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: LevelInfo, Output: &buf})

	logger := WithRun(NewLogger("acquire"), "run-1")
	logger.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"component":"acquire"`) {
		t.Errorf("component field missing: %s", out)
	}
	if !strings.Contains(out, `"run_id":"run-1"`) {
		t.Errorf("run_id field missing: %s", out)
	}
}
