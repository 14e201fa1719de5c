package reminders

import (
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/delivery"
	"github.com/vinayprograms/taskbot/tasks"
)

// FormatLeft renders the time to the deadline: minutes under an hour,
// otherwise whole hours rounded up.
func FormatLeft(left time.Duration) string {
	if left < time.Hour {
		m := int(left.Minutes())
		if m < 1 {
			m = 1
		}
		return strconv.Itoa(m) + " min"
	}
	return strconv.Itoa(int((left+time.Hour-1)/time.Hour)) + " h"
}

func header(t *tasks.Task) string {
	return "Task #" + strconv.FormatInt(t.ID, 10) + " \"" + t.Title + "\""
}

func reminderMessage(t *tasks.Task, target delivery.Target, left time.Duration, loc *time.Location) chat.Message {
	var b strings.Builder
	claimed := t.ClaimantID != nil
	switch target.Kind {
	case delivery.TargetClaimant, delivery.TargetMentioned:
		b.WriteString("⏰ Reminder! " + header(t))
		b.WriteString("\nDeadline in " + FormatLeft(left) + " (" + tasks.FormatDeadline(*t.Deadline, loc) + ")")
		if !claimed {
			b.WriteString("\n\n⚠️ Don't forget to claim the task!")
		}
		return chat.Message{Text: b.String(), Actions: tasks.ReminderActions(t.ID, claimed)}
	default:
		b.WriteString("⏰ " + header(t))
		b.WriteString("\nDeadline in " + FormatLeft(left) + " (" + tasks.FormatDeadline(*t.Deadline, loc) + ")")
		if c, ok := t.Claimant(); ok {
			b.WriteString("\nResponsible: " + c.DisplayName())
		} else if t.MentionedHandle != "" {
			b.WriteString("\n⚠️ @" + t.MentionedHandle + " has not claimed it yet!")
		} else {
			b.WriteString("\n⚠️ Nobody has claimed it yet!")
		}
		return chat.Message{Text: b.String(), Actions: tasks.ReminderActions(t.ID, claimed)}
	}
}

func escalationMessage(t *tasks.Task) chat.Message {
	assigned := "not assigned"
	if t.MentionedHandle != "" {
		assigned = "@" + t.MentionedHandle
	}
	return chat.Message{
		Text:    "⚠️ " + header(t) + " has not been claimed yet!\nAssigned: " + assigned,
		Actions: tasks.ReminderActions(t.ID, false),
	}
}

func summaryMessage(t *tasks.Task, res delivery.Result) chat.Message {
	if res.Delivered == nil {
		return chat.Text("📭 A reminder for " + header(t) + " could not be delivered to anyone")
	}
	to := string(res.Delivered.Kind)
	switch res.Delivered.Kind {
	case delivery.TargetClaimant:
		if c, ok := t.Claimant(); ok {
			to = c.DisplayName()
		}
	case delivery.TargetMentioned:
		to = "@" + t.MentionedHandle
	case delivery.TargetConversation:
		to = "the group chat"
	}
	return chat.Text("📨 Reminder for " + header(t) + " sent to " + to)
}
