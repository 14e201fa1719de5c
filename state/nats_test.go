//go:build integration

package state

import (
	"errors"
	"os"
	"testing"

	"github.com/nats-io/nats.go"
)

func newTestNATSStore(t *testing.T, bucket string) *NATSStore {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url)
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}

	store, err := NewNATSStore(NATSStoreConfig{Conn: conn, Bucket: bucket})
	if err != nil {
		conn.Close()
		t.Fatalf("NewNATSStore failed: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		conn.Close()
	})
	return store
}

func TestNATSStore_RoundTrip(t *testing.T) {
	s := newTestNATSStore(t, "taskbot-test-roundtrip")

	if err := s.Put("tasks.snapshot", []byte(`[]`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get("tasks.snapshot")
	if err != nil || string(got) != `[]` {
		t.Fatalf("Get = %q, %v", got, err)
	}

	keys, err := s.Keys("tasks.*")
	if err != nil || len(keys) != 1 {
		t.Errorf("Keys = %v, %v", keys, err)
	}

	if err := s.Delete("tasks.snapshot"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("tasks.snapshot"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
