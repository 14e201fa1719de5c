// Package calendar mirrors task deadlines into a Google Calendar so people
// see them next to their meetings.
package calendar

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/tasks"
)

// TaskIDProperty is the private extended property linking an event to its task.
const TaskIDProperty = "taskbot_id"

// EventDuration is how long before the deadline a mirrored event starts.
const EventDuration = 30 * time.Minute

const defaultQueueSize = 256

// eventStore is the subset of the Calendar API the mirror needs.
type eventStore interface {
	find(ctx context.Context, taskID string) (*gcal.Event, error)
	insert(ctx context.Context, ev *gcal.Event) (*gcal.Event, error)
	patch(ctx context.Context, eventID string, ev *gcal.Event) (*gcal.Event, error)
	delete(ctx context.Context, eventID string) error
}

// Mirror keeps one calendar event per task deadline. Store changes are
// queued and applied in order by Run.
type Mirror struct {
	events eventStore
	logger *logging.Logger
	loc    *time.Location
	now    func() time.Time
	queue  chan tasks.Change
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Mirror) {
		m.logger = l
	}
}

// WithLocation sets the zone event times are written in.
func WithLocation(loc *time.Location) Option {
	return func(m *Mirror) {
		m.loc = loc
	}
}

// WithQueueSize sets how many pending changes are buffered before new
// ones are dropped.
func WithQueueSize(n int) Option {
	return func(m *Mirror) {
		m.queue = make(chan tasks.Change, n)
	}
}

// WithClock overrides time.Now when marking overdue tasks.
func WithClock(now func() time.Time) Option {
	return func(m *Mirror) {
		m.now = now
	}
}

func newMirror(events eventStore, opts ...Option) *Mirror {
	m := &Mirror{
		events: events,
		logger: logging.New(),
		loc:    time.Local,
		now:    time.Now,
		queue:  make(chan tasks.Change, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("calendar")
	return m
}

// Watch subscribes the mirror to store changes.
func (m *Mirror) Watch(store *tasks.Store) {
	store.Subscribe(m.Enqueue)
}

// Enqueue queues a change without blocking the caller.
func (m *Mirror) Enqueue(c tasks.Change) {
	select {
	case m.queue <- c:
	default:
		m.logger.Warn("calendar queue full, change dropped", map[string]interface{}{
			"task_id": c.Task.ID,
			"kind":    c.Kind.String(),
		})
	}
}

// Run applies queued changes until ctx is canceled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-m.queue:
			if err := m.Apply(ctx, c); err != nil {
				m.logger.Warn("calendar sync failed", map[string]interface{}{
					"task_id": c.Task.ID,
					"error":   err.Error(),
				})
			}
		}
	}
}

// Apply mirrors one change synchronously.
func (m *Mirror) Apply(ctx context.Context, c tasks.Change) error {
	if c.Kind == tasks.ChangeDeleted || c.Task.Deadline == nil {
		return m.Remove(ctx, c.Task.ID)
	}
	_, err := m.Sync(ctx, c.Task)
	return err
}

// Sync creates the task's event or patches it when it drifted.
func (m *Mirror) Sync(ctx context.Context, t *tasks.Task) (*gcal.Event, error) {
	target := m.eventFor(t)
	key := strconv.FormatInt(t.ID, 10)

	existing, err := m.events.find(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("error searching for event: %w", err)
	}
	if existing == nil {
		return m.events.insert(ctx, target)
	}
	patch, err := eventPatch(existing, target)
	if err != nil {
		return nil, err
	}
	if patch == nil {
		return existing, nil
	}
	return m.events.patch(ctx, existing.Id, patch)
}

// Remove deletes the task's event if there is one.
func (m *Mirror) Remove(ctx context.Context, taskID int64) error {
	existing, err := m.events.find(ctx, strconv.FormatInt(taskID, 10))
	if err != nil {
		return fmt.Errorf("error searching for event: %w", err)
	}
	if existing == nil {
		return nil
	}
	return m.events.delete(ctx, existing.Id)
}

func (m *Mirror) eventFor(t *tasks.Task) *gcal.Event {
	end := t.Deadline.In(m.loc)
	start := end.Add(-EventDuration)

	summary := fmt.Sprintf("#%d %s", t.ID, t.Title)
	switch {
	case t.Status == tasks.StatusCompleted:
		summary = "✓ " + summary
	case t.Status == tasks.StatusRejected:
		summary = "✗ " + summary
	case t.Deadline.Before(m.now()):
		summary = "! " + summary
	}

	description := "Category: " + t.Category.Label()
	if c, ok := t.Claimant(); ok {
		description += "\nResponsible: " + c.DisplayName()
	} else if t.MentionedHandle != "" {
		description += "\nAssigned: @" + t.MentionedHandle
	}

	return &gcal.Event{
		Summary:     summary,
		Description: description,
		ColorId:     colorFor(t.Category),
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339)},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{TaskIDProperty: strconv.FormatInt(t.ID, 10)},
		},
	}
}

// colorFor maps categories onto the Calendar API's fixed event palette.
func colorFor(c tasks.Category) string {
	switch c {
	case tasks.CategoryUrgent:
		return "11"
	case tasks.CategoryOptional:
		return "8"
	default:
		return "9"
	}
}

// eventPatch returns the fields of target that differ from existing, or
// nil when the event is up to date.
func eventPatch(existing, target *gcal.Event) (*gcal.Event, error) {
	patch := &gcal.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		needsUpdate = true
	}
	if existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}

	same, err := sameTimes(existing, target)
	if err != nil {
		return nil, err
	}
	if !same {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if needsUpdate {
		return patch, nil
	}
	return nil, nil
}

func sameTimes(a, b *gcal.Event) (bool, error) {
	if a.Start == nil || a.End == nil {
		return false, nil
	}
	pairs := [][2]string{
		{a.Start.DateTime, b.Start.DateTime},
		{a.End.DateTime, b.End.DateTime},
	}
	for _, p := range pairs {
		x, err := time.Parse(time.RFC3339, p[0])
		if err != nil {
			return false, err
		}
		y, err := time.Parse(time.RFC3339, p[1])
		if err != nil {
			return false, err
		}
		if !x.Equal(y) {
			return false, nil
		}
	}
	return true, nil
}
