package identity

import (
	"testing"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/state"
)

func TestStoreRegistry_RegisterResolve(t *testing.T) {
	r, err := NewStoreRegistry(state.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewStoreRegistry failed: %v", err)
	}

	if _, ok := r.Resolve("bob"); ok {
		t.Fatal("unregistered handle resolved")
	}
	if err := r.Register("@Bob", 42); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for _, h := range []string{"bob", "@bob", "BOB"} {
		addr, ok := r.Resolve(h)
		if !ok || addr != 42 {
			t.Errorf("Resolve(%q) = %d, %v", h, addr, ok)
		}
	}
}

func TestStoreRegistry_Persists(t *testing.T) {
	store := state.NewMemoryStore()
	r, _ := NewStoreRegistry(store)
	r.Register("alice", 7)
	r.Register("bob", 8)

	reloaded, err := NewStoreRegistry(store)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	entries := reloaded.Entries()
	if len(entries) != 2 || entries[0].Handle != "alice" || entries[1].Address != 8 {
		t.Errorf("Entries = %+v", entries)
	}
}

func TestStoreRegistry_Rejects(t *testing.T) {
	r, _ := NewStoreRegistry(state.NewMemoryStore())

	tests := []struct {
		name   string
		handle string
		addr   int64
	}{
		{"empty", "@", 1},
		{"group address", "carol", -100},
		{"zero address", "carol", 0},
		{"space", "two words", 1},
	}
	for _, tt := range tests {
		if err := r.Register(tt.handle, chatAddr(tt.addr)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestStoreRegistry_Reregister(t *testing.T) {
	r, _ := NewStoreRegistry(state.NewMemoryStore())
	r.Register("dave", 1)
	r.Register("dave", 2)
	if addr, _ := r.Resolve("dave"); addr != 2 {
		t.Errorf("re-register kept %d", addr)
	}
}

func chatAddr(v int64) chat.Address { return chat.Address(v) }
