package calendar

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/state"
	"github.com/vinayprograms/taskbot/tasks"
)

type fakeEvents struct {
	mu      sync.Mutex
	byTask  map[string]*gcal.Event
	nextID  int
	inserts int
	patches int
	deletes int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{byTask: make(map[string]*gcal.Event)}
}

func (f *fakeEvents) find(_ context.Context, taskID string) (*gcal.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byTask[taskID], nil
}

func (f *fakeEvents) insert(_ context.Context, ev *gcal.Event) (*gcal.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.inserts++
	cp := *ev
	cp.Id = "ev" + strconv.Itoa(f.nextID)
	f.byTask[ev.ExtendedProperties.Private[TaskIDProperty]] = &cp
	return &cp, nil
}

func (f *fakeEvents) patch(_ context.Context, eventID string, p *gcal.Event) (*gcal.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches++
	for _, ev := range f.byTask {
		if ev.Id != eventID {
			continue
		}
		if p.Summary != "" {
			ev.Summary = p.Summary
		}
		if p.Description != "" {
			ev.Description = p.Description
		}
		if p.ColorId != "" {
			ev.ColorId = p.ColorId
		}
		if p.Start != nil {
			ev.Start, ev.End = p.Start, p.End
		}
		return ev, nil
	}
	return nil, nil
}

func (f *fakeEvents) delete(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for k, ev := range f.byTask {
		if ev.Id == eventID {
			delete(f.byTask, k)
		}
	}
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(discard{})
	return l
}

var (
	testLoc = time.FixedZone("EET", 2*60*60)
	now     = time.Date(2026, 3, 10, 9, 0, 0, 0, testLoc)
)

func newTestMirror(events *fakeEvents) *Mirror {
	return newMirror(events,
		WithLogger(quietLogger()),
		WithLocation(testLoc),
		WithClock(func() time.Time { return now }))
}

func sampleTask() *tasks.Task {
	deadline := time.Date(2026, 3, 10, 18, 0, 0, 0, testLoc)
	return &tasks.Task{
		ID:              7,
		Title:           "Send invoices",
		Category:        tasks.CategoryUrgent,
		Status:          tasks.StatusNew,
		MentionedHandle: "bob",
		Deadline:        &deadline,
	}
}

func TestMirror_SyncInsertsThenPatches(t *testing.T) {
	events := newFakeEvents()
	m := newTestMirror(events)
	ctx := context.Background()

	task := sampleTask()
	ev, err := m.Sync(ctx, task)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if ev.Summary != "#7 Send invoices" {
		t.Errorf("summary = %q", ev.Summary)
	}
	if ev.Start.DateTime != "2026-03-10T17:30:00+02:00" || ev.End.DateTime != "2026-03-10T18:00:00+02:00" {
		t.Errorf("times = %s .. %s", ev.Start.DateTime, ev.End.DateTime)
	}
	if !strings.Contains(ev.Description, "Assigned: @bob") || ev.ColorId != "11" {
		t.Errorf("event = %+v", ev)
	}

	if _, err := m.Sync(ctx, task); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if events.inserts != 1 || events.patches != 0 {
		t.Errorf("unchanged task: inserts=%d patches=%d", events.inserts, events.patches)
	}

	later := task.Deadline.Add(24 * time.Hour)
	task.Deadline = &later
	task.Status = tasks.StatusClaimed
	claimant := chat.Address(200)
	task.ClaimantID = &claimant
	task.ClaimantHandle = "bob"
	ev, err = m.Sync(ctx, task)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if events.patches != 1 || ev.End.DateTime != "2026-03-11T18:00:00+02:00" {
		t.Errorf("patches=%d end=%s", events.patches, ev.End.DateTime)
	}
	if !strings.Contains(ev.Description, "Responsible: @bob") {
		t.Errorf("description = %q", ev.Description)
	}
}

func TestMirror_SummaryPrefixes(t *testing.T) {
	m := newTestMirror(newFakeEvents())
	overdue := time.Date(2026, 3, 9, 18, 0, 0, 0, testLoc)

	tests := []struct {
		name   string
		mutate func(*tasks.Task)
		want   string
	}{
		{"open", func(*tasks.Task) {}, "#7"},
		{"completed", func(t *tasks.Task) { t.Status = tasks.StatusCompleted }, "✓ #7"},
		{"rejected", func(t *tasks.Task) { t.Status = tasks.StatusRejected }, "✗ #7"},
		{"overdue", func(t *tasks.Task) { t.Deadline = &overdue }, "! #7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := sampleTask()
			tt.mutate(task)
			if got := m.eventFor(task).Summary; !strings.HasPrefix(got, tt.want) {
				t.Errorf("summary = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestMirror_ApplyDelete(t *testing.T) {
	events := newFakeEvents()
	m := newTestMirror(events)
	ctx := context.Background()

	task := sampleTask()
	m.Apply(ctx, tasks.Change{Kind: tasks.ChangeCreated, Task: task})
	if err := m.Apply(ctx, tasks.Change{Kind: tasks.ChangeDeleted, Task: task}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if events.deletes != 1 || len(events.byTask) != 0 {
		t.Errorf("event not removed: %d left", len(events.byTask))
	}
	if err := m.Remove(ctx, task.ID); err != nil {
		t.Errorf("removing a missing event should succeed: %v", err)
	}
}

func TestMirror_WatchAndRun(t *testing.T) {
	events := newFakeEvents()
	m := newTestMirror(events)
	store := tasks.NewStore(state.NewMemoryStore(), tasks.WithStoreLogger(quietLogger()))
	m.Watch(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	store.Insert(func(id int64) (*tasks.Task, error) {
		return sampleTask(), nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		events.mu.Lock()
		n := events.inserts
		events.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("store change never reached the calendar")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestMirror_EnqueueDropsWhenFull(t *testing.T) {
	m := newMirror(newFakeEvents(), WithLogger(quietLogger()), WithQueueSize(1))
	m.Enqueue(tasks.Change{Task: sampleTask()})
	m.Enqueue(tasks.Change{Task: sampleTask()})
	if len(m.queue) != 1 {
		t.Errorf("queue length = %d", len(m.queue))
	}
}
