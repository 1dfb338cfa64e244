package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	l := NewText("info", &buf)
	l.Info("swarm finished", "best_score", 1.5)

	output := buf.String()
	if !strings.Contains(output, "swarm finished") {
		t.Errorf("Expected log output to contain 'swarm finished', got: %s", output)
	}
	if !strings.Contains(output, "best_score=1.5") {
		t.Errorf("Expected text attribute in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		logFunc  func(string, ...any)
		logMsg   string
		expected bool
	}{
		{"Debug when debug level", "debug", Debug, "debug message", true},
		{"Debug when info level", "info", Debug, "debug message", false},
		{"Info when warn level", "warn", Info, "info message", false},
		{"Warn when info level", "info", Warn, "warn message", true},
		{"Error when error level", "error", Error, "error message", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetDefault(New(tt.logLevel, &buf))

			tt.logFunc(tt.logMsg)
			output := buf.String()

			if tt.expected && !strings.Contains(output, tt.logMsg) {
				t.Errorf("Expected log output to contain '%s', got: %s", tt.logMsg, output)
			}
			if !tt.expected && strings.Contains(output, tt.logMsg) {
				t.Errorf("Expected log output NOT to contain '%s', but it did: %s", tt.logMsg, output)
			}
		})
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New("info", &buf))

	Info("objective evaluated", "score", 0.25, "particles", 25)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}
	if entry["msg"] != "objective evaluated" {
		t.Errorf("Expected msg 'objective evaluated', got '%v'", entry["msg"])
	}
	if entry["score"] != 0.25 {
		t.Errorf("Expected score 0.25, got '%v'", entry["score"])
	}
	if entry["particles"] != float64(25) {
		t.Errorf("Expected particles 25, got '%v'", entry["particles"])
	}
}

func TestForSession(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New("info", &buf))

	ForSession("design-42").Info("state changed")
	if !strings.Contains(buf.String(), `"session_id":"design-42"`) {
		t.Errorf("Expected session_id attribute, got: %s", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New("info", &buf))

	if OrDefault(nil) != Default {
		t.Fatal("expected nil logger to resolve to Default")
	}
	custom := NewText("debug", &buf)
	if OrDefault(custom) != custom {
		t.Fatal("expected explicit logger to be returned unchanged")
	}
}
