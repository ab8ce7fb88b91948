package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSeverityForLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level log.Level
		want  string
	}{
		{name: "panic", level: log.PanicLevel, want: "EMERGENCY"},
		{name: "fatal", level: log.FatalLevel, want: "CRITICAL"},
		{name: "error", level: log.ErrorLevel, want: "ERROR"},
		{name: "warn", level: log.WarnLevel, want: "WARNING"},
		{name: "info", level: log.InfoLevel, want: "INFO"},
		{name: "debug", level: log.DebugLevel, want: "DEBUG"},
		{name: "trace", level: log.TraceLevel, want: "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := severityForLevel(tt.level)
			if got != tt.want {
				t.Errorf("severityForLevel(%v) = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestConfigureJSONAddsSeverity(t *testing.T) {
	t.Parallel()

	logger := log.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	Configure(logger, Options{Level: "info", JSON: true})
	logger.WithField("region", "IND").Info("hello")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal log payload: %v", err)
	}

	got, ok := payload["severity"]
	if !ok {
		t.Fatalf("expected severity field in log payload, got: %#v", payload)
	}
	if got != "INFO" {
		t.Fatalf("expected severity %q, got %v", "INFO", got)
	}
}

func TestConfigureLogrusJSONRespectsExistingSeverity(t *testing.T) {
	t.Parallel()

	logger := log.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	ConfigureLogrusJSON(logger)
	logger.WithField("severity", "NOTICE").Info("hello")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal log payload: %v", err)
	}

	if got := payload["severity"]; got != "NOTICE" {
		t.Fatalf("expected severity %q, got %v", "NOTICE", got)
	}
}

func TestConfigureLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level string
		want  log.Level
	}{
		{name: "debug", level: "debug", want: log.DebugLevel},
		{name: "warn", level: "warn", want: log.WarnLevel},
		{name: "empty", level: "", want: log.InfoLevel},
		{name: "garbage", level: "loud", want: log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger := log.New()
			var buf bytes.Buffer
			logger.SetOutput(&buf)

			Configure(logger, Options{Level: tt.level})
			if logger.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", logger.GetLevel(), tt.want)
			}
			if tt.name == "garbage" && !strings.Contains(buf.String(), "couldn't parse") {
				t.Errorf("expected a parse error to be logged, got %q", buf.String())
			}
		})
	}
}

func TestConfigureTwiceAddsOneSeverityHook(t *testing.T) {
	t.Parallel()

	logger := log.New()
	logger.SetOutput(&bytes.Buffer{})

	Configure(logger, Options{Level: "info", JSON: true})
	Configure(logger, Options{Level: "debug", JSON: true})

	var hooks int
	for _, h := range logger.Hooks[log.InfoLevel] {
		if _, ok := h.(SeverityHook); ok {
			hooks++
		}
	}
	if hooks != 1 {
		t.Errorf("expected 1 severity hook, got %d", hooks)
	}
}
