package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBuffered(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)
	return l, &buf
}

func TestLogger_Levels(t *testing.T) {
	logger, buf := newBuffered(t)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Errorf("log should contain INFO level, got: %s", output)
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("store")
	logger.SetOutput(&buf)

	logger.Info("test message")

	if !strings.Contains(buf.String(), "store") {
		t.Errorf("expected component 'store' in log, got: %s", buf.String())
	}
	if logger.Component() != "store" {
		t.Errorf("Component() = %q", logger.Component())
	}
}

func TestLogger_Fields(t *testing.T) {
	logger, buf := newBuffered(t)

	logger.Info("created", map[string]any{"task": "7", "priority": 3})

	output := buf.String()
	if !strings.Contains(output, "task=7") {
		t.Errorf("expected field 'task=7' in log, got: %s", output)
	}
	if !strings.Contains(output, "priority=3") {
		t.Errorf("expected field 'priority=3' in log, got: %s", output)
	}
	if strings.Index(output, "priority=3") > strings.Index(output, "task=7") {
		t.Errorf("fields should be sorted by key, got: %s", output)
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	logger, buf := newBuffered(t)
	logger.SetFormat(FormatJSON)

	logger.TaskCompleted("12")

	output := buf.String()
	if !strings.Contains(output, `"task":"12"`) {
		t.Errorf("expected JSON field, got: %s", output)
	}
	if !strings.Contains(output, "task_completed") {
		t.Errorf("expected message, got: %s", output)
	}
}

func TestLogger_NotifyFailed(t *testing.T) {
	logger, buf := newBuffered(t)

	logger.NotifyFailed("created", "4", errors.New("bus closed"))

	output := buf.String()
	if !strings.Contains(output, "WARN") {
		t.Errorf("notify failure should be WARN, got: %s", output)
	}
	if !strings.Contains(output, "event=created") {
		t.Errorf("expected event field, got: %s", output)
	}
}

func TestLogger_RequestHandled(t *testing.T) {
	logger, buf := newBuffered(t)
	logger.SetLevel(LevelDebug)

	logger.RequestHandled("tasks.get", "alice", time.Millisecond, nil)
	if !strings.Contains(buf.String(), "method=tasks.get") {
		t.Errorf("expected method field, got: %s", buf.String())
	}

	buf.Reset()
	logger.RequestHandled("tasks.get", "alice", time.Millisecond, errors.New("task 1 not found"))
	if !strings.Contains(buf.String(), "request_failed") {
		t.Errorf("failed request should log request_failed, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNop(t *testing.T) {
	// Must not panic or write anywhere visible.
	Nop().Error("discarded")
}
