package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"trace":   zerolog.TraceLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(Config{Level: "info", Format: "json"}, &buf), "engine")

	log.Debug().Msg("hidden")
	log.Info().Int("tick", 3).Msg("stepped")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["component"] != "engine" || entry["message"] != "stepped" || entry["tick"] != float64(3) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log := New(DefaultConfig(), &buf)
	log.Warn().Msg("sync client lost")
	if !strings.Contains(buf.String(), "sync client lost") {
		t.Errorf("expected message in console output, got %q", buf.String())
	}
}
