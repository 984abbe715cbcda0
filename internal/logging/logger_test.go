package logging

import (
	"bytes"
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
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
		{"off", zerolog.Disabled},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	l := With("pipeline")
	l.Info().Int("frame", 3).Msg("frame scored")
	Debug().Msg("hidden")

	out := buf.String()
	if !strings.Contains(out, `"component":"pipeline"`) || !strings.Contains(out, `"frame":3`) {
		t.Errorf("Expected structured fields in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("Debug line leaked at info level: %q", out)
	}
}
