package logging_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cardscan/internal/config"
	"cardscan/internal/logging"
)

func newFileLogger(t *testing.T, format, level string) (func(), string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{
		Format:      format,
		Level:       level,
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	run := func() {
		log := logger.With("component", "scheduler")
		log.Debug("hidden at info")
		log.Info("frame done", "session", "table 1", "seq", 3, "elapsed", 1500*time.Microsecond)
		log.WithGroup("catalog").Warn("reload failed", logging.Error(errors.New("boom")), "version", 7)
	}
	return run, path
}

func TestConsoleLoggerFormatsLine(t *testing.T) {
	run, path := newFileLogger(t, "console", "info")
	run()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), content)
	}
	first := lines[0]
	for _, want := range []string{"INFO ", "scheduler: frame done", `session="table 1"`, "seq=3", "elapsed=1.5ms"} {
		if !strings.Contains(first, want) {
			t.Fatalf("line %q missing %q", first, want)
		}
	}
	if strings.Contains(first, "component=") {
		t.Fatalf("component should be lifted into the prefix: %q", first)
	}
	if strings.Contains(string(content), "\x1b[") {
		t.Fatalf("expected no escape codes in file output, got %q", content)
	}
	if !strings.Contains(lines[1], "catalog.error=boom") || !strings.Contains(lines[1], "catalog.version=7") {
		t.Fatalf("group prefix missing: %q", lines[1])
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", content)
	}
}

func TestConsoleLoggerDebugAddsSource(t *testing.T) {
	run, path := newFileLogger(t, "console", "debug")
	run()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "hidden at info") {
		t.Fatalf("debug line missing: %q", content)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected caller information at debug level, got %q", content)
	}
}

func TestJSONLogger(t *testing.T) {
	run, path := newFileLogger(t, "json", "info")
	run()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid json line %q: %v", lines[0], err)
	}
	if entry["level"] != "info" || entry["msg"] != "frame done" || entry["component"] != "scheduler" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Format = "json"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "cardscan.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `"msg":"hello"`) {
		t.Fatalf("log file missing entry: %q", content)
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(t.Context(), 12) {
		t.Fatal("nop logger should not be enabled")
	}
}
