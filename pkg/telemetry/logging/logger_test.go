package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"ntonix-ai/ntonix/pkg/config"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	logger.Info("hello", "component", "test")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["component"] != "test" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSetupLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("info line emitted at warn level")
	}
	if !strings.Contains(out, "loud") {
		t.Error("warn line missing")
	}
}

func TestSetupRejectsBadConfig(t *testing.T) {
	if _, err := Setup(config.LoggingConfig{Level: "noisy", Format: "json"}, nil); err == nil {
		t.Error("Setup() accepted unknown level")
	}
	if _, err := Setup(config.LoggingConfig{Level: "info", Format: "xml"}, nil); err == nil {
		t.Error("Setup() accepted unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
