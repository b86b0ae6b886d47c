package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func withCapture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
		now = time.Now
	})
	return &buf
}

func TestSetVerbose(t *testing.T) {
	withCapture(t)

	SetVerbose(false)
	if IsVerbose() {
		t.Error("expected verbose to be false initially")
	}

	SetVerbose(true)
	if !IsVerbose() {
		t.Error("expected verbose to be true after SetVerbose(true)")
	}
}

func TestDebug_WhenVerbose(t *testing.T) {
	buf := withCapture(t)
	SetVerbose(true)

	Debug("test message %s", "arg")

	if got := buf.String(); got != "2026-01-02T03:04:05Z [DEBUG] test message arg\n" {
		t.Errorf("unexpected output: %q", got)
	}
}

func TestDebug_WhenNotVerbose(t *testing.T) {
	buf := withCapture(t)

	Debug("hidden")
	Section("hidden")

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestInfoWarnError_AlwaysWritten(t *testing.T) {
	buf := withCapture(t)

	Info("built %d vectors", 10)
	Warn("batch %s missing", "c1.00001")
	Error("swap failed: %v", "boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "[INFO] built 10 vectors") {
		t.Errorf("unexpected info line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "[WARN] batch c1.00001 missing") {
		t.Errorf("unexpected warn line: %q", lines[1])
	}
	if !strings.Contains(lines[2], "[ERROR] swap failed: boom") {
		t.Errorf("unexpected error line: %q", lines[2])
	}
}

func TestSection_WhenVerbose(t *testing.T) {
	buf := withCapture(t)
	SetVerbose(true)

	Section("Index Build")

	if got := buf.String(); got != "\n=== Index Build ===\n" {
		t.Errorf("unexpected output: %q", got)
	}
}
