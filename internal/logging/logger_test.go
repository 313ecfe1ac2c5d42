package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/pauricg23/SOIL-TEMP/internal/config"
)

func TestNewWithWriter_prodIsJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo}

	logger := NewWithWriter(&buf, cfg, "1.2.3", "soil-temp")
	logger.Info("reading recorded", "value", 20.5)

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if got["app"] != "soil-temp" || got["version"] != "1.2.3" || got["env"] != "prod" {
		t.Errorf("attrs = %v; want app, version and env", got)
	}
	if got["msg"] != "reading recorded" {
		t.Errorf("msg = %v", got["msg"])
	}
}

func TestNewWithWriter_respectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{AppEnv: "prod", LogLevel: slog.LevelWarn}

	logger := NewWithWriter(&buf, cfg, "1.2.3", "soil-temp")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn not written: %q", buf.String())
	}
}

func TestNewWithWriter_devIsText(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{AppEnv: "dev", LogLevel: slog.LevelDebug}

	logger := NewWithWriter(&buf, cfg, "dev", "soil-temp")
	logger.Debug("hello")

	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "soil-temp") {
		t.Errorf("dev output = %q; want message and app", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("dev output looks like JSON: %q", out)
	}
}
