package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/identity"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/state"
)

var (
	testLoc = time.FixedZone("EET", 2*60*60)
	bg      = context.Background()
)

const (
	alice chat.Address = 100
	bob   chat.Address = 200
	carol chat.Address = 300
	group chat.Address = -1000
)

var (
	aliceActor = Actor{ID: alice, Handle: "alice", Name: "Alice"}
	bobActor   = Actor{ID: bob, Handle: "bob", Name: "Bob"}
	carolActor = Actor{ID: carol, Handle: "carol", Name: "Carol"}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	mgr       *Manager
	store     *Store
	backend   *state.MemoryStore
	transport *chat.MemoryTransport
	registry  *identity.StoreRegistry
	clock     *testClock
}

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetLevel(logging.LevelError)
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := state.NewMemoryStore()
	registry, err := identity.NewStoreRegistry(backend)
	if err != nil {
		t.Fatalf("NewStoreRegistry failed: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, testLoc)}
	store := NewStore(backend, WithStoreLogger(quietLogger()))
	transport := chat.NewMemoryTransport()
	mgr := NewManager(store, transport,
		WithClock(clock.Now),
		WithLocation(testLoc),
		WithRegistry(registry),
		WithLogger(quietLogger()))
	return &fixture{
		mgr:       mgr,
		store:     store,
		backend:   backend,
		transport: transport,
		registry:  registry,
		clock:     clock,
	}
}

func (f *fixture) create(t *testing.T, req CreateRequest) *Task {
	t.Helper()
	if req.Title == "" {
		req.Title = "Prepare report"
	}
	if req.Author.ID == 0 {
		req.Author = aliceActor
	}
	task, err := f.mgr.Create(bg, req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return task
}

func addr(a chat.Address) *chat.Address { return &a }
