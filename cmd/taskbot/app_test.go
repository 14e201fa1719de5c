package main

import (
	"testing"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/config"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/state"
	"github.com/vinayprograms/taskbot/tasks"
)

func TestOpenState(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{"memory", false},
		{"file", false},
		{"sqlite", false},
		{"nats", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store.Backend = tt.backend
			cfg.Store.Path = t.TempDir()
			if tt.backend == "sqlite" {
				cfg.Store.Path += "/tasks.db"
			}
			st, err := openState(cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error without a nats connection")
				}
				return
			}
			if err != nil {
				t.Fatalf("openState failed: %v", err)
			}
			defer st.Close()
			if got := typeName(st); got != tt.backend {
				t.Errorf("backend type = %s, want %s", got, tt.backend)
			}
		})
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case *state.MemoryStore:
		return "memory"
	case *state.FileStore:
		return "file"
	case *state.SQLiteStore:
		return "sqlite"
	}
	return "unknown"
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(discard{})
	return l
}

func TestNeedsNATS(t *testing.T) {
	cfg := config.Default()
	if needsNATS(cfg) {
		t.Error("default config should run without nats")
	}
	cfg.Chat.Transport = "bus"
	if !needsNATS(cfg) {
		t.Error("bus transport needs nats")
	}
}

func TestNewRouterLimiter(t *testing.T) {
	cfg := config.Default()
	if _, closeLimiter := newRouter(cfg, nil, nil, quietLogger()); closeLimiter == nil {
		t.Error("default config should pace deliveries")
	} else {
		closeLimiter()
	}
	cfg.Delivery.RateLimit = 0
	if _, closeLimiter := newRouter(cfg, nil, nil, quietLogger()); closeLimiter != nil {
		t.Error("rate_limit = 0 should disable pacing")
	}
}

func TestListColumns(t *testing.T) {
	loc := time.FixedZone("EET", 2*60*60)
	d := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	if got := deadlineText(&d, loc); got != "10.03 18:00" {
		t.Errorf("deadlineText = %q", got)
	}
	if got := deadlineText(nil, loc); got != "-" {
		t.Errorf("deadlineText(nil) = %q", got)
	}

	claimant := chat.Address(42)
	tests := []struct {
		task tasks.Task
		want string
	}{
		{tasks.Task{ClaimantID: &claimant, ClaimantHandle: "bob"}, "@bob"},
		{tasks.Task{ClaimantID: &claimant, ClaimantName: "Bob"}, "Bob"},
		{tasks.Task{MentionedHandle: "carol"}, "@carol"},
		{tasks.Task{}, "-"},
	}
	for _, tt := range tests {
		if got := responsible(&tt.task); got != tt.want {
			t.Errorf("responsible(%+v) = %q, want %q", tt.task, got, tt.want)
		}
	}
}
