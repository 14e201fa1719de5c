package tasks

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/state"
)

// SnapshotKey is the state key holding the whole task set.
const SnapshotKey = "tasks.snapshot"

// ChangeKind describes a store mutation.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is emitted to subscribers after a mutation is committed.
type Change struct {
	Kind ChangeKind
	Task *Task
}

// Store owns the task set. Every mutation runs under one lock, is applied
// to a copy first so a failing mutation leaves no trace, and is followed
// by a whole-snapshot write to the backend.
type Store struct {
	backend state.StateStore
	logger  *logging.Logger

	mu         sync.Mutex
	tasks      map[int64]*Task
	nextID     int64
	persistErr error

	subMu     sync.RWMutex
	listeners []func(Change)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for persistence failures.
func WithStoreLogger(l *logging.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates an empty store over backend. Call Load to restore the
// last snapshot.
func NewStore(backend state.StateStore, opts ...StoreOption) *Store {
	s := &Store{
		backend: backend,
		logger:  logging.New(),
		tasks:   make(map[int64]*Task),
		nextID:  1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("store")
	return s
}

// Load replaces the in-memory set with the persisted snapshot. A missing
// snapshot yields an empty set. The next id is one past the highest
// loaded id.
func (s *Store) Load() error {
	data, err := s.backend.Get(SnapshotKey)
	if stderrors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Storage("load snapshot", err)
	}

	var list []*Task
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.Storage("decode snapshot", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[int64]*Task, len(list))
	s.nextID = 1
	for _, t := range list {
		s.tasks[t.ID] = t
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
	}
	s.logger.Info("snapshot loaded", map[string]interface{}{
		"tasks":   len(list),
		"next_id": s.nextID,
	})
	return nil
}

// Subscribe registers fn for every committed change. fn runs on the
// mutating goroutine after the store lock is released.
func (s *Store) Subscribe(fn func(Change)) {
	s.subMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.subMu.Unlock()
}

func (s *Store) emit(changes ...Change) {
	s.subMu.RLock()
	listeners := s.listeners
	s.subMu.RUnlock()
	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

// Insert allocates the next id, builds the task and commits it.
func (s *Store) Insert(build func(id int64) (*Task, error)) (*Task, error) {
	s.mu.Lock()
	id := s.nextID
	t, err := build(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	t.ID = id
	s.tasks[id] = t
	s.nextID++
	s.persistLocked()
	out := t.Clone()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeCreated, Task: out.Clone()})
	return out, nil
}

// Update applies fn to a copy of task id and commits the copy when fn
// returns nil.
func (s *Store) Update(id int64, fn func(*Task) error) (*Task, error) {
	s.mu.Lock()
	cur, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.TaskNotFound(id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.tasks[id] = next
	s.persistLocked()
	out := next.Clone()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeUpdated, Task: out.Clone()})
	return out, nil
}

// Remove deletes task id when check (if non-nil) allows it and returns
// the removed task.
func (s *Store) Remove(id int64, check func(*Task) error) (*Task, error) {
	s.mu.Lock()
	cur, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.TaskNotFound(id)
	}
	if check != nil {
		if err := check(cur.Clone()); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	delete(s.tasks, id)
	s.persistLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeDeleted, Task: cur.Clone()})
	return cur, nil
}

// Sweep runs fn over every task in id order while holding the lock. fn
// mutates the task in place and returns true when it changed something.
// The snapshot is written once if anything changed.
func (s *Store) Sweep(fn func(*Task) bool) int {
	s.mu.Lock()
	var changed []Change
	for _, id := range s.sortedIDsLocked() {
		t := s.tasks[id]
		if fn(t) {
			changed = append(changed, Change{Kind: ChangeUpdated, Task: t.Clone()})
		}
	}
	if len(changed) > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	s.emit(changed...)
	return len(changed)
}

// Get returns a copy of task id.
func (s *Store) Get(id int64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errors.TaskNotFound(id)
	}
	return t.Clone(), nil
}

// List returns copies of matching tasks ordered by id.
func (s *Store) List(f Filter) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, id := range s.sortedIDsLocked() {
		if t := s.tasks[id]; f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// AwaitingInput returns the task with an open prompt for actor.
func (s *Store) AwaitingInput(actor chat.Address) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sortedIDsLocked() {
		if t := s.tasks[id]; t.AwaitingInputFrom(actor) {
			return t.Clone(), true
		}
	}
	return nil, false
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// NextID returns the id the next Insert will use.
func (s *Store) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

// Flush writes the snapshot now and returns the outcome.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// PersistError returns the error of the most recent snapshot write, or
// nil if it succeeded.
func (s *Store) PersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistErr
}

func (s *Store) sortedIDsLocked() []int64 {
	ids := make([]int64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// persistLocked writes the whole snapshot. Failures are logged and kept
// for PersistError; the in-memory set stays authoritative.
func (s *Store) persistLocked() error {
	list := make([]*Task, 0, len(s.tasks))
	for _, id := range s.sortedIDsLocked() {
		list = append(list, s.tasks[id])
	}
	data, err := json.Marshal(list)
	if err == nil {
		err = s.backend.Put(SnapshotKey, data)
	}
	if err != nil {
		err = fmt.Errorf("write snapshot: %w", err)
		s.logger.PersistFailed(err)
	}
	s.persistErr = err
	return err
}
