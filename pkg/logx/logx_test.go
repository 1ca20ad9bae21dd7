package logx

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo("loop", &buf)

	logger.Info("iteration %d starting", 3)

	line := buf.String()
	if !strings.Contains(line, "[loop]") {
		t.Errorf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, "INFO: iteration 3 starting") {
		t.Errorf("expected level and message, got %q", line)
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	prev := DebugEnabled()
	SetDebug(false)
	defer SetDebug(prev)

	var buf bytes.Buffer
	logger := NewLoggerTo("loop", &buf)
	logger.Debug("hidden")

	if buf.Len() != 0 {
		t.Errorf("expected no output with debug off, got %q", buf.String())
	}

	SetDebug(true)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "DEBUG: visible") {
		t.Errorf("expected debug line with debug on, got %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo("features", &buf)
	sub := logger.WithComponent("reviews")

	sub.Warn("fix count is 2")

	if !strings.Contains(buf.String(), "[reviews]") {
		t.Errorf("expected derived component prefix, got %q", buf.String())
	}
	if sub.Component() != "reviews" {
		t.Errorf("expected component 'reviews', got %q", sub.Component())
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "load ledger"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
