package tasks

import (
	"reflect"
	"testing"
	"time"

	"github.com/vinayprograms/taskbot/errors"
	"github.com/vinayprograms/taskbot/state"
)

type failingBackend struct {
	*state.MemoryStore
	fail bool
}

func (b *failingBackend) Put(key string, value []byte) error {
	if b.fail {
		return errors.New(errors.ErrCodeStorage, "disk full")
	}
	return b.MemoryStore.Put(key, value)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, CreateRequest{Conversation: addr(group), MentionedHandle: "bob", Deadline: "12.03 18:00"})
	b := f.create(t, CreateRequest{})
	f.mgr.Claim(bg, a.ID, bobActor)
	f.mgr.ProposeDeadlineChange(bg, a.ID, bobActor, "13.03 18:00", "")
	f.store.Update(a.ID, func(t *Task) error {
		t.Reminders.MarkDefault("48h")
		t.Reminders.NotTakenSent = true
		return nil
	})
	f.mgr.Delete(bg, b.ID, aliceActor)

	reloaded := NewStore(f.backend, WithStoreLogger(quietLogger()))
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("expected 1 task, got %d", reloaded.Len())
	}
	if reloaded.NextID() != 2 {
		t.Errorf("next id = %d, want 2", reloaded.NextID())
	}

	orig, _ := f.store.Get(a.ID)
	got, _ := reloaded.Get(a.ID)
	if got.Status != orig.Status || *got.ClaimantID != *orig.ClaimantID {
		t.Errorf("status/claimant differ: %+v vs %+v", got, orig)
	}
	if !reflect.DeepEqual(got.Reminders.FiredDefault, []string{"48h"}) || !got.Reminders.NotTakenSent {
		t.Errorf("reminder bookkeeping lost: %+v", got.Reminders)
	}
	if got.PendingInput == nil || got.PendingInput.Kind != InputReason {
		t.Errorf("pending input lost: %+v", got.PendingInput)
	}
	if got.PendingChange == nil || !got.PendingChange.Deadline.Equal(orig.PendingChange.Deadline) {
		t.Errorf("pending change lost: %+v", got.PendingChange)
	}
	if !got.Deadline.Equal(*orig.Deadline) || *got.OriginConversation != group {
		t.Errorf("deadline/conversation differ")
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	s := NewStore(state.NewMemoryStore(), WithStoreLogger(quietLogger()))
	if err := s.Load(); err != nil {
		t.Fatalf("Load on empty backend failed: %v", err)
	}
	if s.NextID() != 1 {
		t.Errorf("next id = %d", s.NextID())
	}
}

func TestStore_LoadNextIDFromMax(t *testing.T) {
	backend := state.NewMemoryStore()
	backend.Put(SnapshotKey, []byte(`[{"id":3,"title":"a","status":"new"},{"id":9,"title":"b","status":"completed"}]`))

	s := NewStore(backend, WithStoreLogger(quietLogger()))
	if err := s.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.NextID() != 10 {
		t.Errorf("next id = %d, want 10", s.NextID())
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	backend := state.NewMemoryStore()
	backend.Put(SnapshotKey, []byte(`{not json`))
	s := NewStore(backend, WithStoreLogger(quietLogger()))
	if err := s.Load(); !errors.Is(err, errors.ErrCodeStorage) {
		t.Errorf("expected STORAGE error, got %v", err)
	}
}

func TestStore_UpdateFailureLeavesNoTrace(t *testing.T) {
	s := NewStore(state.NewMemoryStore(), WithStoreLogger(quietLogger()))
	task, _ := s.Insert(func(id int64) (*Task, error) {
		return &Task{Title: "x", Status: StatusNew}, nil
	})

	_, err := s.Update(task.ID, func(t *Task) error {
		t.Title = "changed"
		t.Reminders.MarkDefault("2h")
		return errors.InvalidInput("nope")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	got, _ := s.Get(task.ID)
	if got.Title != "x" || len(got.Reminders.FiredDefault) != 0 {
		t.Errorf("failed update leaked: %+v", got)
	}
}

func TestStore_PersistFailureKeepsMemory(t *testing.T) {
	backend := &failingBackend{MemoryStore: state.NewMemoryStore(), fail: true}
	s := NewStore(backend, WithStoreLogger(quietLogger()))

	task, err := s.Insert(func(id int64) (*Task, error) {
		return &Task{Title: "x", Status: StatusNew}, nil
	})
	if err != nil {
		t.Fatalf("Insert should not fail on persist errors: %v", err)
	}
	if s.PersistError() == nil {
		t.Error("PersistError should report the failed write")
	}
	if _, err := s.Get(task.ID); err != nil {
		t.Error("task should stay in memory")
	}

	backend.fail = false
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if s.PersistError() != nil {
		t.Error("successful write should clear PersistError")
	}
}

func TestStore_SubscribeAndSweep(t *testing.T) {
	s := NewStore(state.NewMemoryStore(), WithStoreLogger(quietLogger()))
	var kinds []ChangeKind
	s.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

	for i := 0; i < 3; i++ {
		s.Insert(func(id int64) (*Task, error) { return &Task{Title: "t", Status: StatusNew}, nil })
	}
	n := s.Sweep(func(t *Task) bool {
		if t.ID%2 == 1 {
			t.Reminders.NotTakenSent = true
			return true
		}
		return false
	})
	if n != 2 {
		t.Errorf("Sweep changed %d, want 2", n)
	}
	s.Remove(2, nil)

	want := []ChangeKind{ChangeCreated, ChangeCreated, ChangeCreated, ChangeUpdated, ChangeUpdated, ChangeDeleted}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("changes = %v, want %v", kinds, want)
	}
}

func TestStore_IDsNeverReused(t *testing.T) {
	s := NewStore(state.NewMemoryStore(), WithStoreLogger(quietLogger()))
	build := func(id int64) (*Task, error) { return &Task{Title: "t", CreatedAt: time.Now()}, nil }

	a, _ := s.Insert(build)
	s.Remove(a.ID, nil)
	b, _ := s.Insert(build)
	if b.ID == a.ID {
		t.Errorf("id %d reused", a.ID)
	}
}
