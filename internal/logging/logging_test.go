package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/meur/mistbook/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{Level: slog.LevelInfo, Format: "json"}, &buf)

	log.Debug("hidden")
	log.Info("started", slog.String("addr", ":8080"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one json record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "started" || rec["addr"] != ":8080" {
		t.Fatalf("record = %v", rec)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{Level: slog.LevelDebug, Format: "text"}, &buf)

	log.Debug("tick")
	if !strings.Contains(buf.String(), "msg=tick") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
