package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	Info("worker %d started", 3)
	Warn("truncated %s", "name")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "worker 3 started") {
		t.Errorf("log missing info line: %s", out)
	}
	if !strings.Contains(out, "level=warning") {
		t.Errorf("log missing warning level: %s", out)
	}
}

func TestSetLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer Close()

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	defer SetLevel("debug")

	Debug("hidden")
	Error("visible")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug line should be filtered")
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Error("error line should be written")
	}
}

func TestSetLevelInvalid(t *testing.T) {
	if err := SetLevel("loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer Close()

	WithFields(map[string]interface{}{"test": "login"}).Info("started")
	if !strings.Contains(buf.String(), "test=login") {
		t.Errorf("missing field: %s", buf.String())
	}
}

func TestMirrorWarnings(t *testing.T) {
	var log, mirror bytes.Buffer
	InitWriter(&log)
	if err := SetLevel("debug"); err != nil {
		t.Fatal(err)
	}
	MirrorWarnings(&mirror)

	Info("device %s leased", "emu-1")
	Warn("blocklisting device %s", "emu-2")
	Error("worker crashed")

	out := mirror.String()
	if strings.Contains(out, "emu-1") {
		t.Errorf("info line mirrored: %s", out)
	}
	if !strings.Contains(out, "blocklisting device emu-2") || !strings.Contains(out, "worker crashed") {
		t.Errorf("mirror missing warnings: %s", out)
	}
	if !strings.Contains(log.String(), "emu-1") {
		t.Errorf("log output lost the info line: %s", log.String())
	}

	Close()
	mirror.Reset()
	Warn("after close")
	if mirror.Len() != 0 {
		t.Errorf("mirror kept after Close: %s", mirror.String())
	}
}
