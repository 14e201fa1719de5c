package tasks

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
)

// ActionKind names an inline button. Button data is "<kind>:<task id>".
type ActionKind string

const (
	ActClaim           ActionKind = "claim"
	ActComplete        ActionKind = "complete"
	ActReject          ActionKind = "reject"
	ActDelete          ActionKind = "delete"
	ActRemindDefault   ActionKind = "remind_default"
	ActRemindCustom    ActionKind = "remind_custom"
	ActChangeDeadline  ActionKind = "deadline_change"
	ActConfirmDeadline ActionKind = "deadline_confirm"
	ActRejectDeadline  ActionKind = "deadline_reject"
)

func action(kind ActionKind, id int64, label string) chat.Action {
	return chat.Action{Label: label, Data: string(kind) + ":" + itoa(id)}
}

func lifecycleActions(id int64) []chat.Action {
	return []chat.Action{
		action(ActClaim, id, "Claim"),
		action(ActComplete, id, "Done"),
		action(ActReject, id, "Reject"),
	}
}

func reminderModeActions(id int64) []chat.Action {
	return []chat.Action{
		action(ActRemindDefault, id, "Default reminders"),
		action(ActRemindCustom, id, "Custom reminders"),
	}
}

// ReminderActions are attached to reminders sent to the claimant or the
// mentioned handle.
func ReminderActions(id int64, claimed bool) []chat.Action {
	if claimed {
		return []chat.Action{action(ActComplete, id, "Done")}
	}
	return []chat.Action{action(ActClaim, id, "Claim"), action(ActComplete, id, "Done")}
}

// ParseAction splits button data into its kind and task id.
func ParseAction(data string) (ActionKind, int64, error) {
	kind, rawID, ok := strings.Cut(data, ":")
	if !ok {
		return "", 0, errors.InvalidInput("malformed action " + strconv.Quote(data))
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, errors.InvalidInput("malformed task id in action " + strconv.Quote(data))
	}
	switch k := ActionKind(kind); k {
	case ActClaim, ActComplete, ActReject, ActDelete, ActRemindDefault, ActRemindCustom,
		ActChangeDeadline, ActConfirmDeadline, ActRejectDeadline:
		return k, id, nil
	}
	return "", 0, errors.InvalidInput("unknown action " + strconv.Quote(kind))
}

// Press handles an inline button pressed by actor.
func (m *Manager) Press(ctx context.Context, actor Actor, data string) (*Task, error) {
	kind, id, err := ParseAction(data)
	if err != nil {
		return nil, err
	}
	switch kind {
	case ActClaim:
		return m.Claim(ctx, id, actor)
	case ActComplete:
		return m.Complete(ctx, id, actor)
	case ActReject:
		return m.Reject(ctx, id, actor)
	case ActDelete:
		return m.Delete(ctx, id, actor)
	case ActRemindDefault:
		return m.ChooseReminderMode(ctx, id, actor, ModeDefault)
	case ActRemindCustom:
		return m.ChooseReminderMode(ctx, id, actor, ModeCustom)
	case ActChangeDeadline:
		return m.BeginDeadlineChange(ctx, id, actor)
	case ActConfirmDeadline:
		return m.ConfirmDeadlineChange(ctx, id, actor)
	default:
		return m.RejectDeadlineChange(ctx, id, actor)
	}
}

// Describe renders the task card used in announcements and reminders.
func Describe(t *Task, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("#" + itoa(t.ID) + " [" + t.Category.Label() + "] " + t.Title)
	if t.Deadline != nil {
		b.WriteString("\nDeadline: " + FormatDeadline(*t.Deadline, loc))
	}
	b.WriteString("\nAuthor: " + t.Author().DisplayName())
	if t.MentionedHandle != "" {
		b.WriteString("\nResponsible: @" + t.MentionedHandle)
	}
	return b.String()
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
