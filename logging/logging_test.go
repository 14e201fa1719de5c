package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	output := buf.String()
	if !strings.Contains(output, "level=info") {
		t.Errorf("log should contain info level, got: %s", output)
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("scheduler")
	logger.SetOutput(&buf)

	logger.Info("tick")

	if !strings.Contains(buf.String(), "component=scheduler") {
		t.Errorf("expected component in log, got: %s", buf.String())
	}
}

func TestLogger_WithTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("digest").WithTraceID("sweep-1")
	logger.SetOutput(&buf)

	logger.Warn("slow")

	output := buf.String()
	if !strings.Contains(output, "trace_id=sweep-1") {
		t.Errorf("expected trace id in log, got: %s", output)
	}
	if !strings.Contains(output, "component=digest") {
		t.Errorf("trace logger lost component, got: %s", output)
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Error("boom", map[string]interface{}{"task_id": 7})

	if !strings.Contains(buf.String(), "task_id=7") {
		t.Errorf("expected field in log, got: %s", buf.String())
	}
}

func TestLogger_DomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.TaskTransition(3, "new", "claimed", 42)
	logger.ReminderFired(3, "2h")
	logger.DeliveryFailed(3, "claimant", 42, errors.New("blocked"))
	logger.DigestSent("conversation:-100", 2)
	logger.PersistFailed(errors.New("disk full"))

	output := buf.String()
	for _, want := range []string{"to=claimed", "key=2h", "error=blocked", "recipients=2", "disk full"} {
		if !strings.Contains(output, want) {
			t.Errorf("missing %q in output:\n%s", want, output)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"trace", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
