package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sitealert/internal/config"
)

func TestBuildRejectsNoSinks(t *testing.T) {
	t.Parallel()

	if _, _, err := build(config.LogConfig{}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error when no sinks are enabled")
	}
}

func TestConsoleJSONWithSiteScope(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closeFn, err := build(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "info", Format: "json"},
	}, &out)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closeFn()

	ForSite(logger, "org-1", "site-9").Info("alert created")
	line := out.String()
	if !strings.Contains(line, `"org_id":"org-1"`) || !strings.Contains(line, `"site_id":"site-9"`) {
		t.Fatalf("missing tenant attrs: %s", line)
	}
	if strings.Contains(line, `"time"`) {
		t.Fatalf("console sink must drop time attr: %s", line)
	}
}

func TestTeeWritesConsoleAndFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sitealert.log")
	var out bytes.Buffer
	logger, closeFn, err := build(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "warn", Format: "line"},
		File:    config.LogSinkConfig{Enabled: true, Level: "debug", Format: "json", Path: path},
	}, &out)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	logger.Debug("rule skipped", "rule_id", "low-stock")
	closeFn()

	if out.Len() != 0 {
		t.Fatalf("console sink must filter debug: %q", out.String())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "low-stock") {
		t.Fatalf("file sink missing record: %s", raw)
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := parseLevel("verbose"); err == nil {
		t.Fatalf("expected unknown level error")
	}
}

func TestColorLineWriterWrapsByLevel(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closeFn, err := build(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "debug", Format: "line", Color: true},
	}, &out)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closeFn()

	logger.Warn("channel slow", "channel", "sms")
	line := out.String()
	if !strings.HasPrefix(line, "\x1b[33m") || !strings.HasSuffix(line, ansiReset) {
		t.Fatalf("warn line not colored: %q", line)
	}
}

func TestFileSinkCreatesParentDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "logs", "sitealert.log")
	logger, closeFn, err := build(config.LogConfig{
		File: config.LogSinkConfig{Enabled: true, Level: "info", Format: "line", Path: path},
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	logger.Info("started")
	closeFn()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}
