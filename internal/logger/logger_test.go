package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("should not appear")
	log.Debug("also should not appear")

	if buf.Len() > 0 {
		t.Fatalf("expected no output for info/debug at warn level, got: %s", buf.String())
	}

	log.Warn("should appear", "stage", "block 3")
	if !strings.Contains(buf.String(), `"stage":"block 3"`) {
		t.Fatalf("expected stage attr in output, got: %s", buf.String())
	}
}

func TestSetupFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"loaded"`},
		{"text", "msg=loaded"},
		{"pretty", "loaded shard=7"},
		{"", "loaded shard=7"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		log, err := Setup(&buf, Options{Format: tc.format, Level: "info"})
		if err != nil {
			t.Fatalf("Setup(%q): %v", tc.format, err)
		}
		log.Info("loaded", "shard", 7)
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("Setup(%q): expected %q in output, got: %s", tc.format, tc.want, buf.String())
		}
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	t.Parallel()
	if _, err := Setup(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSetupDebugOverridesLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := Setup(&buf, Options{Format: "text", Level: "error", Debug: true})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if !log.Enabled(slog.LevelDebug) {
		t.Fatal("expected debug to be enabled")
	}
	log.Debug("stage loaded")
	if !strings.Contains(buf.String(), "stage loaded") {
		t.Fatalf("expected debug record, got: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard()
	if log.Enabled(slog.LevelError) {
		t.Fatal("discard logger should not enable error")
	}
	log.Error("dropped")
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)

	ctx := WithContext(context.Background(), log.With("run", "abc"))
	FromContext(ctx).Info("roundtrip test")
	if !strings.Contains(buf.String(), `"run":"abc"`) {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
}

func TestFromContextDefault(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext with no logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelInfo}, // case-sensitive
	}

	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}

func TestPrettyNoColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	h.NoColor = true
	slog.New(h.WithAttrs([]slog.Attr{slog.String("stage", "ln_f")})).Info("released")

	if strings.Contains(buf.String(), "\033[") {
		t.Fatalf("expected no ANSI escapes, got: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "released stage=ln_f") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestPrettyRoundsDurations(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	h.NoColor = true
	slog.New(h).Info("stage", "load", 1234567*time.Nanosecond)

	if !strings.Contains(buf.String(), "load=1.23ms") {
		t.Fatalf("expected rounded duration, got: %q", buf.String())
	}
}

func TestPrettyHandlerNestedGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	slog.New(h.WithGroup("a").WithGroup("b")).Info("nested", "key", "val")

	if !strings.Contains(buf.String(), "a.b.key=val") {
		t.Fatalf("expected 'a.b.key=val' in output, got: %s", buf.String())
	}
	if h.WithGroup("") != h {
		t.Fatal("WithGroup empty string should return same handler")
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected bool
	}{
		{"simple", false},
		{"has space", true},
		{"has\ttab", true},
		{`has"quote`, true},
		{"", false},
	}

	for _, tc := range tests {
		if got := needsQuoting(tc.input); got != tc.expected {
			t.Errorf("needsQuoting(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}
