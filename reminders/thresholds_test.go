package reminders

import (
	"testing"
	"time"

	"github.com/vinayprograms/taskbot/tasks"
)

func TestHoursLeft(t *testing.T) {
	deadline := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		left time.Duration
		want int
	}{
		{59 * time.Minute, 1},
		{60 * time.Minute, 1},
		{61 * time.Minute, 2},
		{59*time.Minute + 30*time.Second, 1},
		{30 * time.Second, 0},
		{96 * time.Hour, 96},
	}
	for _, tt := range tests {
		if got := HoursLeft(deadline, deadline.Add(-tt.left)); got != tt.want {
			t.Errorf("HoursLeft(%v) = %d, want %d", tt.left, got, tt.want)
		}
	}
}

func TestDueThreshold(t *testing.T) {
	tests := []struct {
		cat   tasks.Category
		hours int
		want  string
	}{
		{tasks.CategoryUrgent, 97, ""},
		{tasks.CategoryUrgent, 96, "96h"},
		{tasks.CategoryUrgent, 73, "96h"},
		{tasks.CategoryUrgent, 72, "72h"},
		{tasks.CategoryUrgent, 25, "72h"},
		{tasks.CategoryUrgent, 13, "24h"},
		{tasks.CategoryUrgent, 7, "12h"},
		{tasks.CategoryUrgent, 3, "6h"},
		{tasks.CategoryUrgent, 2, "2h"},
		{tasks.CategoryUrgent, 1, "1h"},
		{tasks.CategoryUrgent, 0, ""},
		{tasks.CategoryNormal, 49, ""},
		{tasks.CategoryNormal, 48, "48h"},
		{tasks.CategoryNormal, 24, "24h"},
		{tasks.CategoryNormal, 12, "12h"},
		{tasks.CategoryNormal, 6, "6h"},
		{tasks.CategoryNormal, 2, "2h"},
		{tasks.CategoryNormal, 1, "2h"},
		{tasks.CategoryOptional, 25, ""},
		{tasks.CategoryOptional, 24, "24h"},
		{tasks.CategoryOptional, 6, "24h"},
		{tasks.CategoryOptional, 5, "4-5h"},
		{tasks.CategoryOptional, 4, "4-5h"},
		{tasks.CategoryOptional, 3, ""},
		{tasks.CategoryOptional, 1, ""},
	}
	for _, tt := range tests {
		got, ok := DueThreshold(tt.cat, tt.hours)
		if got != tt.want || ok != (tt.want != "") {
			t.Errorf("DueThreshold(%s, %d) = %q, %v; want %q", tt.cat, tt.hours, got, ok, tt.want)
		}
	}
}

func TestEscalationWait(t *testing.T) {
	if EscalationWait(tasks.CategoryUrgent) != 2*time.Hour ||
		EscalationWait(tasks.CategoryNormal) != 3*time.Hour ||
		EscalationWait(tasks.CategoryOptional) != 4*time.Hour {
		t.Error("unexpected escalation waits")
	}
}

func TestFormatLeft(t *testing.T) {
	tests := []struct {
		left time.Duration
		want string
	}{
		{59 * time.Minute, "59 min"},
		{10 * time.Second, "1 min"},
		{time.Hour, "1 h"},
		{90 * time.Minute, "2 h"},
	}
	for _, tt := range tests {
		if got := FormatLeft(tt.left); got != tt.want {
			t.Errorf("FormatLeft(%v) = %q, want %q", tt.left, got, tt.want)
		}
	}
}
