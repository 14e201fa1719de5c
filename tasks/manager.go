package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
	"github.com/vinayprograms/taskbot/identity"
	"github.com/vinayprograms/taskbot/logging"
)

// Manager runs the task state machine. Each action validates, mutates
// the store atomically, persists, and then notifies the people involved.
// Notification failures are logged and never undo a committed mutation.
type Manager struct {
	store    *Store
	notifier Notifier
	registry identity.Registry
	logger   *logging.Logger

	now           func() time.Time
	loc           *time.Location
	defaultHour   int
	defaultMinute int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLocation sets the zone deadlines are read and shown in.
func WithLocation(loc *time.Location) ManagerOption {
	return func(m *Manager) {
		m.loc = loc
	}
}

// WithDefaultDeadline sets the local time used when no deadline is given.
func WithDefaultDeadline(hour, minute int) ManagerOption {
	return func(m *Manager) {
		m.defaultHour = hour
		m.defaultMinute = minute
	}
}

// WithRegistry lets the manager reach mentioned handles privately.
func WithRegistry(r identity.Registry) ManagerOption {
	return func(m *Manager) {
		m.registry = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager over store.
func NewManager(store *Store, notifier Notifier, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		notifier:    notifier,
		logger:      logging.New(),
		now:         time.Now,
		loc:         time.Local,
		defaultHour: 18,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("tasks")
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() *Store {
	return m.store
}

// Location returns the zone deadlines are shown in.
func (m *Manager) Location() *time.Location {
	return m.loc
}

// CreateRequest carries everything needed to open a task.
type CreateRequest struct {
	Author          Actor
	Title           string
	Category        Category
	Deadline        string // empty means the default same-day deadline
	MentionedHandle string
	Conversation    *chat.Address // nil for tasks created in a private chat
	Private         bool
}

// Create opens a new task.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, errors.InvalidInput("task title is empty")
	}
	if req.Category == "" {
		req.Category = CategoryNormal
	}

	now := m.now()
	deadline := DefaultDeadline(now, m.loc, m.defaultHour, m.defaultMinute)
	if strings.TrimSpace(req.Deadline) != "" {
		d, err := ParseDeadline(req.Deadline, now, m.loc)
		if err != nil {
			return nil, err
		}
		deadline = d
	}

	conv := req.Conversation
	if conv != nil && !conv.IsGroup() {
		conv = nil
	}

	t, err := m.store.Insert(func(id int64) (*Task, error) {
		return &Task{
			ID:                 id,
			Title:              title,
			Category:           req.Category,
			Priority:           req.Category.Priority(),
			Status:             StatusNew,
			AuthorID:           req.Author.ID,
			AuthorName:         req.Author.Name,
			AuthorHandle:       identity.Normalize(req.Author.Handle),
			MentionedHandle:    identity.Normalize(req.MentionedHandle),
			OriginConversation: conv,
			IsPrivate:          req.Private || conv == nil,
			CreatedAt:          now,
			Deadline:           &deadline,
			Reminders:          Reminders{UseDefault: true},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.TaskTransition(t.ID, "", string(t.Status), int64(req.Author.ID))

	m.announce(ctx, t)
	return t, nil
}

// announce tells the conversation (or the author of a private task) about
// a new task and hands it to the mentioned handle if they are registered.
func (m *Manager) announce(ctx context.Context, t *Task) {
	mentionedAddr, mentionedReachable := m.resolve(t.MentionedHandle)

	text := Describe(t, m.loc)
	if t.MentionedHandle != "" && !mentionedReachable {
		text += "\n⚠️ @" + t.MentionedHandle + " has not started a private chat with the bot yet."
	}
	msg := chat.Message{
		Text:    "🆕 New task\n" + text,
		Actions: append(lifecycleActions(t.ID), reminderModeActions(t.ID)...),
	}
	m.send(ctx, t, t.Sink(), msg)

	// The announcement above already reached the sink, so a failed
	// assignment DM is not repeated there.
	if mentionedReachable && mentionedAddr != t.AuthorID {
		m.sendDirect(ctx, t, mentionedAddr, chat.Message{
			Text:    "📌 You were named responsible\n" + text,
			Actions: lifecycleActions(t.ID),
		})
	}
}

// Claim makes actor the claimant. A later claim replaces an earlier one.
func (m *Manager) Claim(ctx context.Context, id int64, actor Actor) (*Task, error) {
	var from Status
	t, err := m.store.Update(id, func(t *Task) error {
		if t.Status.IsTerminal() {
			return errors.AlreadyTerminal(t.ID, string(t.Status))
		}
		from = t.Status
		addr := actor.ID
		t.Status = StatusClaimed
		t.ClaimantID = &addr
		t.ClaimantName = actor.Name
		t.ClaimantHandle = identity.Normalize(actor.Handle)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.TaskTransition(id, string(from), string(t.Status), int64(actor.ID))

	if !t.IsAuthor(actor.ID) {
		m.send(ctx, t, t.AuthorID, chat.Message{
			Text:    "🛠 " + actor.DisplayName() + " took task #" + itoa(t.ID) + " \"" + t.Title + "\"",
			Actions: []chat.Action{action(ActChangeDeadline, t.ID, "Change deadline")},
		})
	}
	return t, nil
}

// Complete closes the task as done. Anyone may complete it.
func (m *Manager) Complete(ctx context.Context, id int64, actor Actor) (*Task, error) {
	var from Status
	t, err := m.store.Update(id, func(t *Task) error {
		if t.Status.IsTerminal() {
			return errors.AlreadyTerminal(t.ID, string(t.Status))
		}
		from = t.Status
		now := m.now()
		t.Status = StatusCompleted
		t.CompletedAt = &now
		t.PendingChange = nil
		t.PendingInput = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.TaskTransition(id, string(from), string(t.Status), int64(actor.ID))

	if !t.IsAuthor(actor.ID) {
		m.send(ctx, t, t.AuthorID, chat.Text("🏁 "+actor.DisplayName()+" completed task #"+itoa(t.ID)+" \""+t.Title+"\""))
	}
	return t, nil
}

// Reject closes the task as declined.
func (m *Manager) Reject(ctx context.Context, id int64, actor Actor) (*Task, error) {
	var from Status
	t, err := m.store.Update(id, func(t *Task) error {
		if t.Status.IsTerminal() {
			return errors.AlreadyTerminal(t.ID, string(t.Status))
		}
		from = t.Status
		now := m.now()
		t.Status = StatusRejected
		t.RejectedAt = &now
		t.PendingChange = nil
		t.PendingInput = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.TaskTransition(id, string(from), string(t.Status), int64(actor.ID))

	if !t.IsAuthor(actor.ID) {
		m.send(ctx, t, t.AuthorID, chat.Text("🚫 "+actor.DisplayName()+" rejected task #"+itoa(t.ID)+" \""+t.Title+"\""))
	}
	return t, nil
}

// Delete removes the task. Only the author may delete.
func (m *Manager) Delete(ctx context.Context, id int64, actor Actor) (*Task, error) {
	t, err := m.store.Remove(id, func(t *Task) error {
		if !t.IsAuthor(actor.ID) {
			return errors.NotAuthor(t.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.TaskTransition(id, string(t.Status), "deleted", int64(actor.ID))

	if c, ok := t.Claimant(); ok && c.ID != actor.ID {
		m.send(ctx, t, c.ID, chat.Text("🗑 Task #"+itoa(t.ID)+" \""+t.Title+"\" was deleted by its author"))
	}
	return t, nil
}

// Get returns a copy of task id.
func (m *Manager) Get(id int64) (*Task, error) {
	return m.store.Get(id)
}

// List returns tasks matching f ordered by id.
func (m *Manager) List(f Filter) []*Task {
	return m.store.List(f)
}

// SubmitText routes free text to the prompt actor has open and returns
// the task and the kind of prompt it answered.
func (m *Manager) SubmitText(ctx context.Context, actor Actor, text string) (*Task, InputKind, error) {
	open, ok := m.store.AwaitingInput(actor.ID)
	if !ok {
		return nil, InputNone, errors.New(errors.ErrCodeNotFound, "no task is waiting for your reply")
	}

	kind := open.PendingInput.Kind
	var (
		t   *Task
		err error
	)
	switch kind {
	case InputCustomSchedule:
		t, err = m.SupplyCustomSchedule(ctx, open.ID, actor, text)
	case InputNewDeadline:
		t, err = m.ChangeDeadline(ctx, open.ID, actor, text)
	case InputReason:
		t, err = m.SupplyReason(ctx, open.ID, actor, text)
	default:
		err = errors.Newf(errors.ErrCodeInternal, "unknown prompt kind %q", kind)
	}
	return t, kind, err
}

// openInput records a prompt for actor on t, refusing to overwrite
// someone else's open prompt.
func openInput(t *Task, kind InputKind, actor chat.Address, now time.Time) error {
	if t.PendingInput != nil && t.PendingInput.Actor != actor {
		return errors.New(errors.ErrCodeInputPending,
			"task #"+itoa(t.ID)+" is waiting for someone else's reply",
			errors.WithTaskID(t.ID))
	}
	t.PendingInput = &InputRequest{Kind: kind, Actor: actor, RequestedAt: now}
	return nil
}

// closeInput clears t's prompt if it belongs to actor and has kind.
func closeInput(t *Task, kind InputKind, actor chat.Address) {
	if t.PendingInput != nil && t.PendingInput.Kind == kind && t.PendingInput.Actor == actor {
		t.PendingInput = nil
	}
}

// dropOtherPrompts keeps free-text routing unambiguous: an actor answers
// at most one prompt, the most recently opened one.
func (m *Manager) dropOtherPrompts(actor chat.Address, keep int64) {
	m.store.Sweep(func(t *Task) bool {
		if t.ID != keep && t.AwaitingInputFrom(actor) {
			if t.PendingInput.Kind == InputReason && t.PendingChange != nil && !t.PendingChange.Ready() {
				t.PendingChange = nil
			}
			t.PendingInput = nil
			return true
		}
		return false
	})
}

func (m *Manager) resolve(handle string) (chat.Address, bool) {
	if handle == "" || m.registry == nil {
		return 0, false
	}
	return m.registry.Resolve(handle)
}

// send delivers msg to one address and, when that fails, once more to
// the task's sink.
func (m *Manager) send(ctx context.Context, t *Task, to chat.Address, msg chat.Message) {
	if m.sendDirect(ctx, t, to, msg) {
		return
	}
	sink := t.Sink()
	if sink == to || ctx.Err() != nil {
		return
	}
	if err := m.notifier.Send(ctx, sink, msg); err != nil {
		m.logger.DeliveryFailed(t.ID, "fallback", int64(sink), err)
	}
}

// sendDirect delivers msg to one address only. It reports false when a
// notifier is set and the send failed.
func (m *Manager) sendDirect(ctx context.Context, t *Task, to chat.Address, msg chat.Message) bool {
	if m.notifier == nil {
		return true
	}
	if err := m.notifier.Send(ctx, to, msg); err != nil {
		m.logger.DeliveryFailed(t.ID, "direct", int64(to), err)
		return false
	}
	return true
}
