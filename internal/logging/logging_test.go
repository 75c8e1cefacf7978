package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"loud", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVerbosityLevel(t *testing.T) {
	if got := VerbosityLevel("warn", true, false); got != "warn" {
		t.Errorf("explicit level should win, got %q", got)
	}
	if got := VerbosityLevel("", true, false); got != "debug" {
		t.Errorf("verbose = %q", got)
	}
	if got := VerbosityLevel("", false, true); got != "error" {
		t.Errorf("quiet = %q", got)
	}
}

func TestNewJSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "info", Out: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Debug().Msg("hidden")
	l.Info().Str("plugin", "akismet").Msg("activated")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["plugin"] != "akismet" || entry["message"] != "activated" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Format: FormatConsole, Out: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("console output looks like JSON: %q", buf.String())
	}
}

func TestNewFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wpguard.log")
	var buf bytes.Buffer
	l, err := New(Options{Format: FormatJSON, Out: &buf, File: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Warn().Msg("written twice")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written twice") {
		t.Errorf("file content = %q", data)
	}
	if !strings.Contains(buf.String(), "written twice") {
		t.Errorf("out content = %q", buf.String())
	}
}

func TestNewUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml", Out: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error")
	}
}
