package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerAddsServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{ServiceName: "channels", Environment: "test", Level: "info", Output: &buf})
	log.Debug("hidden")
	log.Info("hello", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected a single json record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "channels" || rec["env"] != "test" || rec["msg"] != "hello" {
		t.Fatalf("unexpected record: %v", rec)
	}
}
