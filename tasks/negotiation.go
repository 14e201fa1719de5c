package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
)

// BeginDeadlineChange opens a prompt asking the author for a new deadline.
func (m *Manager) BeginDeadlineChange(ctx context.Context, id int64, actor Actor) (*Task, error) {
	t, err := m.store.Update(id, func(t *Task) error {
		if !t.IsAuthor(actor.ID) {
			return errors.NotAuthor(t.ID)
		}
		if t.Status.IsTerminal() {
			return errors.AlreadyTerminal(t.ID, string(t.Status))
		}
		return openInput(t, InputNewDeadline, actor.ID, m.now())
	})
	if err != nil {
		return nil, err
	}
	m.dropOtherPrompts(actor.ID, id)

	m.send(ctx, t, actor.ID, chat.Text("📅 Send the new deadline for task #"+itoa(t.ID)+" ("+DeadlineHint+")"))
	return t, nil
}

// ChangeDeadline applies a new deadline directly. Only the author may do
// this; everyone else proposes.
func (m *Manager) ChangeDeadline(ctx context.Context, id int64, actor Actor, text string) (*Task, error) {
	deadline, err := ParseDeadline(text, m.now(), m.loc)
	if err != nil {
		return nil, err
	}

	var dropped *DeadlineProposal
	t, err := m.store.Update(id, func(t *Task) error {
		if !t.IsAuthor(actor.ID) {
			return errors.NotAuthor(t.ID)
		}
		if t.Status.IsTerminal() {
			return errors.AlreadyTerminal(t.ID, string(t.Status))
		}
		dropped = t.PendingChange
		applyDeadline(t, deadline)
		closeInput(t, InputNewDeadline, actor.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	shown := FormatDeadline(deadline, m.loc)
	m.send(ctx, t, actor.ID, chat.Text("✅ Deadline of task #"+itoa(t.ID)+" set to "+shown))
	if c, ok := t.Claimant(); ok && c.ID != actor.ID {
		m.send(ctx, t, c.ID, chat.Text("📅 The deadline of task #"+itoa(t.ID)+" \""+t.Title+"\" is now "+shown))
	}
	if dropped != nil && dropped.ProposedBy != actor.ID {
		m.send(ctx, t, dropped.ProposedBy, chat.Text("ℹ️ The author set the deadline of task #"+itoa(t.ID)+" to "+shown+"; your proposal was withdrawn"))
	}
	return t, nil
}

// ProposeDeadlineChange records a deadline change requested by someone
// other than the author. Without a reason the proposer is asked for one
// before the author sees it. An author proposal is applied directly.
func (m *Manager) ProposeDeadlineChange(ctx context.Context, id int64, actor Actor, text, reason string) (*Task, error) {
	current, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if current.IsAuthor(actor.ID) {
		return m.ChangeDeadline(ctx, id, actor, text)
	}

	now := m.now()
	deadline, err := ParseDeadline(text, now, m.loc)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	t, err := m.store.Update(id, func(t *Task) error {
		if t.Status.IsTerminal() {
			return errors.AlreadyTerminal(t.ID, string(t.Status))
		}
		if p := t.PendingChange; p != nil && p.ProposedBy != actor.ID {
			if !p.Ready() {
				return errors.New(errors.ErrCodeInputPending,
					"another deadline change for task #"+itoa(t.ID)+" is still being explained",
					errors.WithTaskID(t.ID))
			}
			return errors.New(errors.ErrCodeProposalPending,
				"task #"+itoa(t.ID)+" already has a deadline change waiting for the author",
				errors.WithTaskID(t.ID))
		}

		p := &DeadlineProposal{
			Deadline:       deadline,
			ProposedBy:     actor.ID,
			ProposedByName: actor.DisplayName(),
			ProposedAt:     now,
		}
		if reason == "" {
			if err := openInput(t, InputReason, actor.ID, now); err != nil {
				return err
			}
		} else {
			p.Reason = &reason
			closeInput(t, InputReason, actor.ID)
		}
		t.PendingChange = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reason == "" {
		m.dropOtherPrompts(actor.ID, id)
		m.send(ctx, t, actor.ID, chat.Text("✏️ Why should task #"+itoa(t.ID)+" move to "+FormatDeadline(deadline, m.loc)+"? Reply with a short reason."))
		return t, nil
	}
	m.askAuthor(ctx, t)
	return t, nil
}

// SupplyReason completes the proposer's open proposal and forwards it to
// the author.
func (m *Manager) SupplyReason(ctx context.Context, id int64, actor Actor, text string) (*Task, error) {
	reason := strings.TrimSpace(text)
	if reason == "" {
		return nil, errors.InvalidInput("reason is empty")
	}

	t, err := m.store.Update(id, func(t *Task) error {
		p := t.PendingChange
		if p == nil {
			return errors.FromCode(errors.ErrCodeNoPendingProposal, errors.WithTaskID(t.ID))
		}
		if p.ProposedBy != actor.ID {
			return errors.FromCode(errors.ErrCodeNotProposer, errors.WithTaskID(t.ID))
		}
		if !t.AwaitingInputFrom(actor.ID) || t.PendingInput.Kind != InputReason {
			return errors.FromCode(errors.ErrCodeNoPendingProposal, errors.WithTaskID(t.ID))
		}
		p.Reason = &reason
		t.PendingInput = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.send(ctx, t, actor.ID, chat.Text("📨 Your proposal for task #"+itoa(t.ID)+" was sent to the author"))
	m.askAuthor(ctx, t)
	return t, nil
}

func (m *Manager) askAuthor(ctx context.Context, t *Task) {
	p := t.PendingChange
	text := "🕒 " + p.ProposedByName + " asks to move the deadline of task #" + itoa(t.ID) + " \"" + t.Title + "\""
	if t.Deadline != nil {
		text += "\nfrom " + FormatDeadline(*t.Deadline, m.loc)
	}
	text += "\nto " + FormatDeadline(p.Deadline, m.loc) + "\nReason: " + *p.Reason
	m.send(ctx, t, t.AuthorID, chat.Message{
		Text: text,
		Actions: []chat.Action{
			action(ActConfirmDeadline, t.ID, "Approve"),
			action(ActRejectDeadline, t.ID, "Decline"),
		},
	})
}

// ConfirmDeadlineChange applies the pending proposal.
func (m *Manager) ConfirmDeadlineChange(ctx context.Context, id int64, actor Actor) (*Task, error) {
	var p DeadlineProposal
	t, err := m.store.Update(id, func(t *Task) error {
		if !t.IsAuthor(actor.ID) {
			return errors.NotAuthor(t.ID)
		}
		if !t.PendingChange.Ready() {
			return errors.FromCode(errors.ErrCodeNoPendingProposal, errors.WithTaskID(t.ID))
		}
		p = *t.PendingChange
		applyDeadline(t, p.Deadline)
		return nil
	})
	if err != nil {
		return nil, err
	}

	shown := FormatDeadline(p.Deadline, m.loc)
	m.send(ctx, t, p.ProposedBy, chat.Text("✅ The author approved the new deadline of task #"+itoa(t.ID)+": "+shown))
	if c, ok := t.Claimant(); ok && c.ID != p.ProposedBy && c.ID != actor.ID {
		m.send(ctx, t, c.ID, chat.Text("📅 The deadline of task #"+itoa(t.ID)+" \""+t.Title+"\" is now "+shown))
	}
	return t, nil
}

// RejectDeadlineChange discards the pending proposal.
func (m *Manager) RejectDeadlineChange(ctx context.Context, id int64, actor Actor) (*Task, error) {
	var p DeadlineProposal
	t, err := m.store.Update(id, func(t *Task) error {
		if !t.IsAuthor(actor.ID) {
			return errors.NotAuthor(t.ID)
		}
		if !t.PendingChange.Ready() {
			return errors.FromCode(errors.ErrCodeNoPendingProposal, errors.WithTaskID(t.ID))
		}
		p = *t.PendingChange
		t.PendingChange = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.send(ctx, t, p.ProposedBy, chat.Text("❌ The author declined moving task #"+itoa(t.ID)+" to "+FormatDeadline(p.Deadline, m.loc)))
	return t, nil
}

// applyDeadline sets a new deadline and restarts the reminder campaign.
// A proposal still waiting for its reason is dropped together with the
// proposer's reason prompt.
func applyDeadline(t *Task, deadline time.Time) {
	if p := t.PendingChange; p != nil && !p.Ready() {
		closeInput(t, InputReason, p.ProposedBy)
	}
	t.Deadline = &deadline
	t.PendingChange = nil
	t.Reminders.ResetFired()
}
