package tasks

import (
	"context"
	"strings"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
)

// ReminderMode selects between the category thresholds and a custom list.
type ReminderMode string

const (
	ModeDefault ReminderMode = "default"
	ModeCustom  ReminderMode = "custom"
)

// ParseReminderMode reads a mode name.
func ParseReminderMode(s string) (ReminderMode, error) {
	switch ReminderMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDefault:
		return ModeDefault, nil
	case ModeCustom:
		return ModeCustom, nil
	}
	return "", errors.InvalidInput("reminder mode must be default or custom")
}

// ChooseReminderMode switches to default thresholds right away, or opens
// a prompt for a custom schedule.
func (m *Manager) ChooseReminderMode(ctx context.Context, id int64, actor Actor, mode ReminderMode) (*Task, error) {
	t, err := m.store.Update(id, func(t *Task) error {
		if !t.IsAuthor(actor.ID) {
			return errors.NotAuthor(t.ID)
		}
		if t.Status.IsTerminal() {
			return errors.AlreadyTerminal(t.ID, string(t.Status))
		}
		switch mode {
		case ModeDefault:
			t.Reminders.UseDefault = true
			t.Reminders.CustomInstants = nil
			t.Reminders.FiredCustom = nil
			closeInput(t, InputCustomSchedule, actor.ID)
			return nil
		case ModeCustom:
			return openInput(t, InputCustomSchedule, actor.ID, m.now())
		default:
			return errors.InvalidInput("reminder mode must be default or custom")
		}
	})
	if err != nil {
		return nil, err
	}

	if mode == ModeDefault {
		m.send(ctx, t, actor.ID, chat.Text("🔔 Task #"+itoa(t.ID)+" uses the default "+t.Category.Label()+" reminders"))
		return t, nil
	}
	m.dropOtherPrompts(actor.ID, id)
	m.send(ctx, t, actor.ID, chat.Text("⏰ Send reminder times for task #"+itoa(t.ID)+", "+ScheduleHint))
	return t, nil
}

// SupplyCustomSchedule replaces the default thresholds with the parsed
// instants. A schedule with no usable entry changes nothing.
func (m *Manager) SupplyCustomSchedule(ctx context.Context, id int64, actor Actor, text string) (*Task, error) {
	current, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !current.IsAuthor(actor.ID) {
		return nil, errors.NotAuthor(id)
	}
	instants, err := ParseSchedule(text, m.now(), current.Deadline, m.loc)
	if err != nil {
		return nil, err
	}

	t, err := m.store.Update(id, func(t *Task) error {
		if t.Status.IsTerminal() {
			return errors.AlreadyTerminal(t.ID, string(t.Status))
		}
		t.Reminders.UseDefault = false
		t.Reminders.CustomInstants = instants
		t.Reminders.FiredCustom = nil
		closeInput(t, InputCustomSchedule, actor.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	shown := make([]string, 0, len(instants))
	for _, at := range instants {
		shown = append(shown, FormatDeadline(at, m.loc))
	}
	m.send(ctx, t, actor.ID, chat.Text("🔔 Task #"+itoa(t.ID)+" will remind at "+strings.Join(shown, ", ")))
	return t, nil
}
