// Package digest builds the end-of-day summary of every conversation's
// tasks and delivers it once per day.
package digest

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/identity"
	"github.com/vinayprograms/taskbot/tasks"
)

// Group is the set of tasks summarized together: one group conversation,
// or one author's private tasks.
type Group struct {
	Conversation *chat.Address
	Author       chat.Address
	Tasks        []*tasks.Task

	CompletedToday []*tasks.Task
	RejectedToday  []*tasks.Task
	InProgress     []*tasks.Task
	Unclaimed      []*tasks.Task
}

// Private reports whether the group collects an author's private tasks.
func (g *Group) Private() bool {
	return g.Conversation == nil
}

// Empty reports whether there is nothing to report.
func (g *Group) Empty() bool {
	return len(g.CompletedToday)+len(g.RejectedToday)+len(g.InProgress)+len(g.Unclaimed) == 0
}

// Scope names the group in logs.
func (g *Group) Scope() string {
	if g.Private() {
		return "author:" + g.Author.String()
	}
	return "conversation:" + g.Conversation.String()
}

// BuildGroups splits list into groups and fills the sections relative to
// the calendar day of now in loc. Groups with nothing to report are
// dropped. Order follows the lowest task id of each group.
func BuildGroups(list []*tasks.Task, now time.Time, loc *time.Location) []*Group {
	byKey := make(map[string]*Group)
	var order []string

	for _, t := range list {
		var key string
		g := &Group{Author: t.AuthorID}
		if !t.IsPrivate && t.OriginConversation != nil {
			conv := *t.OriginConversation
			g.Conversation = &conv
			key = "c" + conv.String()
		} else {
			key = "a" + t.AuthorID.String()
		}
		if existing, ok := byKey[key]; ok {
			g = existing
		} else {
			byKey[key] = g
			order = append(order, key)
		}

		g.Tasks = append(g.Tasks, t)
		switch t.Status {
		case tasks.StatusCompleted:
			if sameDay(t.CompletedAt, now, loc) {
				g.CompletedToday = append(g.CompletedToday, t)
			}
		case tasks.StatusRejected:
			if sameDay(t.RejectedAt, now, loc) {
				g.RejectedToday = append(g.RejectedToday, t)
			}
		case tasks.StatusClaimed:
			g.InProgress = append(g.InProgress, t)
		case tasks.StatusNew:
			g.Unclaimed = append(g.Unclaimed, t)
		}
	}

	var out []*Group
	for _, key := range order {
		if g := byKey[key]; !g.Empty() {
			out = append(out, g)
		}
	}
	return out
}

func sameDay(at *time.Time, now time.Time, loc *time.Location) bool {
	if at == nil {
		return false
	}
	y1, m1, d1 := at.In(loc).Date()
	y2, m2, d2 := now.In(loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Participants returns the handles referenced by the group's tasks:
// authors, claimants and mentioned handles. A task whose author or
// claimant has no handle contributes an empty string, which never
// resolves.
func (g *Group) Participants() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(h string) {
		h = identity.Normalize(h)
		if seen[h] {
			return
		}
		seen[h] = true
		out = append(out, h)
	}
	for _, t := range g.Tasks {
		add(t.AuthorHandle)
		if t.ClaimantID != nil {
			add(t.ClaimantHandle)
		}
		if t.MentionedHandle != "" {
			add(t.MentionedHandle)
		}
	}
	sort.Strings(out)
	return out
}

// Recipients decides where the group's digest goes. Private groups go to
// their author. A group conversation's digest goes to every participant
// privately when all of them are registered, otherwise to the
// conversation itself.
func Recipients(g *Group, reg identity.Registry) []chat.Address {
	if g.Private() {
		return []chat.Address{g.Author}
	}
	if reg == nil {
		return []chat.Address{*g.Conversation}
	}

	seen := make(map[chat.Address]bool)
	var out []chat.Address
	for _, h := range g.Participants() {
		addr, ok := reg.Resolve(h)
		if h == "" || !ok {
			return []chat.Address{*g.Conversation}
		}
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

// Render formats the digest text.
func Render(g *Group, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("📊 Daily digest\n")

	section := func(title string, list []*tasks.Task, line func(*tasks.Task) string) {
		b.WriteString("\n" + title + "\n")
		if len(list) == 0 {
			b.WriteString("none\n")
			return
		}
		for _, t := range list {
			b.WriteString(line(t) + "\n")
		}
	}

	section("✅ Completed today:", g.CompletedToday, func(t *tasks.Task) string {
		return ref(t) + " (" + responsible(t) + ")"
	})
	section("❌ Rejected today:", g.RejectedToday, func(t *tasks.Task) string {
		return ref(t)
	})
	section("🛠 In progress:", g.InProgress, func(t *tasks.Task) string {
		return ref(t) + "\n   Responsible: " + responsible(t) + "\n   Deadline: " + deadline(t, loc)
	})
	section("📌 Not claimed yet:", g.Unclaimed, func(t *tasks.Task) string {
		return ref(t) + "\n   Responsible: " + responsible(t) + "\n   Deadline: " + deadline(t, loc)
	})
	return strings.TrimRight(b.String(), "\n")
}

func ref(t *tasks.Task) string {
	return "#" + strconv.FormatInt(t.ID, 10) + " - " + t.Title
}

func responsible(t *tasks.Task) string {
	if c, ok := t.Claimant(); ok {
		return c.DisplayName()
	}
	if t.MentionedHandle != "" {
		return "@" + t.MentionedHandle
	}
	return "not assigned"
}

func deadline(t *tasks.Task, loc *time.Location) string {
	if t.Deadline == nil {
		return "not set"
	}
	return tasks.FormatDeadline(*t.Deadline, loc)
}
