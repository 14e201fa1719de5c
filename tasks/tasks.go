package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/taskbot/chat"
)

// Category is the urgency class chosen by the author.
type Category string

const (
	CategoryUrgent   Category = "urgent"
	CategoryNormal   Category = "normal"
	CategoryOptional Category = "optional"
)

// ParseCategory accepts a category name or its command prefix:
// $ for urgent, # for normal and ! for optional.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urgent", "$":
		return CategoryUrgent, nil
	case "normal", "#", "":
		return CategoryNormal, nil
	case "optional", "!":
		return CategoryOptional, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Priority derives from Category one to one.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priority returns the priority implied by the category.
func (c Category) Priority() Priority {
	switch c {
	case CategoryUrgent:
		return PriorityHigh
	case CategoryOptional:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Label is the human name shown in messages.
func (c Category) Label() string {
	switch c {
	case CategoryUrgent:
		return "Urgent"
	case CategoryOptional:
		return "Optional"
	default:
		return "Normal"
	}
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusNew       Status = "new"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Actor is whoever triggered an action.
type Actor struct {
	ID     chat.Address `json:"id"`
	Handle string       `json:"handle,omitempty"`
	Name   string       `json:"name,omitempty"`
}

// DisplayName prefers the @handle, then the name, then the numeric id.
func (a Actor) DisplayName() string {
	switch {
	case a.Handle != "":
		return "@" + strings.TrimPrefix(a.Handle, "@")
	case a.Name != "":
		return a.Name
	default:
		return a.ID.String()
	}
}

// Reminders is the per-task bookkeeping that keeps reminders from firing
// twice, including across restarts.
type Reminders struct {
	FiredDefault   []string    `json:"fired_default,omitempty"`
	CustomInstants []time.Time `json:"custom_instants,omitempty"`
	FiredCustom    []string    `json:"fired_custom,omitempty"`
	UseDefault     bool        `json:"use_default"`
	NotTakenSent   bool        `json:"not_taken_sent"`
}

// HasFiredDefault reports whether the default threshold key was consumed.
func (r *Reminders) HasFiredDefault(key string) bool {
	return contains(r.FiredDefault, key)
}

// HasFiredCustom reports whether the custom instant key was consumed.
func (r *Reminders) HasFiredCustom(key string) bool {
	return contains(r.FiredCustom, key)
}

// MarkDefault consumes a default threshold key.
func (r *Reminders) MarkDefault(key string) {
	if !contains(r.FiredDefault, key) {
		r.FiredDefault = append(r.FiredDefault, key)
	}
}

// MarkCustom consumes a custom instant key.
func (r *Reminders) MarkCustom(key string) {
	if !contains(r.FiredCustom, key) {
		r.FiredCustom = append(r.FiredCustom, key)
	}
}

// ResetFired forgets every consumed key so a new deadline gets a full
// campaign. The reminder mode and custom instants are kept.
func (r *Reminders) ResetFired() {
	r.FiredDefault = nil
	r.FiredCustom = nil
}

// CustomKey is the bookkeeping key of a custom instant.
func CustomKey(at time.Time) string {
	return at.UTC().Format(time.RFC3339)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DeadlineProposal is a change requested by someone other than the author.
// It becomes actionable once Reason is set.
type DeadlineProposal struct {
	Deadline       time.Time    `json:"proposed_deadline"`
	ProposedBy     chat.Address `json:"proposed_by"`
	ProposedByName string       `json:"proposed_by_name,omitempty"`
	Reason         *string      `json:"reason,omitempty"`
	ProposedAt     time.Time    `json:"proposed_at"`
}

// Ready reports whether the author can decide on the proposal.
func (p *DeadlineProposal) Ready() bool {
	return p != nil && p.Reason != nil
}

// InputKind names the free-text reply a task is waiting for.
type InputKind string

const (
	InputNone           InputKind = ""
	InputCustomSchedule InputKind = "custom_schedule"
	InputNewDeadline    InputKind = "new_deadline"
	InputReason         InputKind = "reason"
)

// InputRequest is an open prompt: the next free text from Actor answers
// it. A task holds at most one.
type InputRequest struct {
	Kind        InputKind    `json:"kind"`
	Actor       chat.Address `json:"actor"`
	RequestedAt time.Time    `json:"requested_at"`
}

// Task is one tracked work item.
type Task struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Category Category `json:"category"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	AuthorID     chat.Address `json:"author_id"`
	AuthorName   string       `json:"author_name,omitempty"`
	AuthorHandle string       `json:"author_handle,omitempty"`

	// Claimant fields stay populated after completion for history.
	ClaimantID     *chat.Address `json:"claimant_id,omitempty"`
	ClaimantName   string        `json:"claimant_name,omitempty"`
	ClaimantHandle string        `json:"claimant_handle,omitempty"`

	MentionedHandle    string        `json:"mentioned_handle,omitempty"`
	OriginConversation *chat.Address `json:"origin_conversation,omitempty"`
	IsPrivate          bool          `json:"is_private"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`

	Reminders     Reminders         `json:"reminders"`
	PendingChange *DeadlineProposal `json:"pending_change,omitempty"`
	PendingInput  *InputRequest     `json:"pending_input,omitempty"`
}

// Author returns the author as an Actor.
func (t *Task) Author() Actor {
	return Actor{ID: t.AuthorID, Handle: t.AuthorHandle, Name: t.AuthorName}
}

// Claimant returns the claimant, if any.
func (t *Task) Claimant() (Actor, bool) {
	if t.ClaimantID == nil {
		return Actor{}, false
	}
	return Actor{ID: *t.ClaimantID, Handle: t.ClaimantHandle, Name: t.ClaimantName}, true
}

// IsAuthor reports whether id authored the task.
func (t *Task) IsAuthor(id chat.Address) bool {
	return t.AuthorID == id
}

// Sink is the last-resort address for notifications about t: the origin
// conversation for group tasks, the author otherwise.
func (t *Task) Sink() chat.Address {
	if !t.IsPrivate && t.OriginConversation != nil {
		return *t.OriginConversation
	}
	return t.AuthorID
}

// AwaitingInputFrom reports whether the task has an open prompt for id.
func (t *Task) AwaitingInputFrom(id chat.Address) bool {
	return t.PendingInput != nil && t.PendingInput.Actor == id
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.ClaimantID = cloneAddr(t.ClaimantID)
	c.OriginConversation = cloneAddr(t.OriginConversation)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.RejectedAt = cloneTime(t.RejectedAt)
	c.Deadline = cloneTime(t.Deadline)
	c.Reminders.FiredDefault = append([]string(nil), t.Reminders.FiredDefault...)
	c.Reminders.FiredCustom = append([]string(nil), t.Reminders.FiredCustom...)
	c.Reminders.CustomInstants = append([]time.Time(nil), t.Reminders.CustomInstants...)
	if t.PendingChange != nil {
		p := *t.PendingChange
		if p.Reason != nil {
			r := *p.Reason
			p.Reason = &r
		}
		c.PendingChange = &p
	}
	if t.PendingInput != nil {
		in := *t.PendingInput
		c.PendingInput = &in
	}
	return &c
}

func cloneAddr(a *chat.Address) *chat.Address {
	if a == nil {
		return nil
	}
	v := *a
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Filter selects tasks in List. Zero values match everything.
type Filter struct {
	Conversation *chat.Address
	Author       *chat.Address
	Statuses     []Status
	ActiveOnly   bool
}

// Match reports whether t passes the filter.
func (f Filter) Match(t *Task) bool {
	if f.Conversation != nil && (t.OriginConversation == nil || *t.OriginConversation != *f.Conversation) {
		return false
	}
	if f.Author != nil && t.AuthorID != *f.Author {
		return false
	}
	if f.ActiveOnly && t.Status.IsTerminal() {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if t.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

// Notifier delivers the direct messages produced by task actions.
type Notifier interface {
	Send(ctx context.Context, to chat.Address, msg chat.Message) error
}
