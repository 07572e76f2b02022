package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/findmy-bridge/internal/infrastructure/config"
)

func capture(cfg config.LoggingConfig) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Logger{Logger: slog.New(newHandler(&buf, cfg, "test"))}, &buf
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONEntryFields(t *testing.T) {
	logger, buf := capture(config.LoggingConfig{Level: "info", Format: "json"})
	logger.With("component", "bridge").Info("sync pass complete", "published", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	want := map[string]any{
		"service":   "findmy-bridge",
		"version":   "test",
		"component": "bridge",
		"msg":       "sync pass complete",
		"published": float64(2),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := capture(config.LoggingConfig{Level: "warn", Format: "text"})
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn entry missing")
	}
}

func TestSecretsRedacted(t *testing.T) {
	logger, buf := capture(config.LoggingConfig{Level: "debug", Format: "text"})
	logger.Debug("config loaded", "mqtt_password", "hunter2", "influx_token", "abc", "host", "10.0.0.2")

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "abc") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "host=10.0.0.2") || !strings.Contains(out, redacted) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findmy.log")
	logger := New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "file",
		File:   config.FileLoggingConfig{Path: path, MaxSize: 1, MaxBackups: 1},
	}, "1.0.0")

	logger.Info("written to file", "device", "maxs_iphone")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestNew_StreamOutputs(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", "syslog"} {
		logger := New(config.LoggingConfig{Output: output}, "1.0.0")
		if logger.closer != nil {
			t.Errorf("%s: closer set for a stream output", output)
		}
		if err := logger.Close(); err != nil {
			t.Errorf("%s: Close() error = %v", output, err)
		}
	}
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}
