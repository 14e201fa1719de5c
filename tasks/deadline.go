package tasks

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/taskbot/errors"
)

// DeadlineHint is shown to users who typed a deadline that did not parse.
const DeadlineHint = "use DD.MM HH:mm, for example 25.12 18:00"

// ScheduleHint is shown to users whose custom schedule did not parse.
const ScheduleHint = "one entry per line: DD.MM HH:mm, HH:mm, or hours before the deadline such as 2h, 90m or 1.5"

var deadlineLayouts = []string{
	"02.01.2006 15:04",
	"2006-01-02 15:04",
	time.RFC3339,
}

// ParseDeadline reads a deadline in loc. The short form DD.MM HH:mm uses
// the current year of now.
func ParseDeadline(text string, now time.Time, loc *time.Location) (time.Time, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return time.Time{}, invalidDeadline(text)
	}
	if date, clock, ok := strings.Cut(text, " "); ok && strings.Count(date, ".") == 1 {
		text = date + "." + strconv.Itoa(now.In(loc).Year()) + " " + clock
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalidDeadline(text)
}

func invalidDeadline(text string) error {
	return errors.New(errors.ErrCodeInvalidDeadline,
		"cannot read deadline "+strconv.Quote(text),
		errors.WithHint(DeadlineHint))
}

// DefaultDeadline is the same calendar day as now at hour:minute in loc.
func DefaultDeadline(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
}

// FormatDeadline renders t the way users type it.
func FormatDeadline(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02.01 15:04")
}

// ParseSchedule reads a custom reminder schedule. Entries are separated by
// newlines, commas or semicolons and may be absolute (DD.MM HH:mm, HH:mm)
// or relative to the deadline (2h, 90m, 1h30m, or a bare number of hours).
// Entries that do not parse, lie in the past or fall after the deadline
// are skipped. The result is sorted and free of duplicates; an empty
// result is an UNPARSABLE_SCHEDULE error.
func ParseSchedule(text string, now time.Time, deadline *time.Time, loc *time.Location) ([]time.Time, error) {
	entries := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	})

	seen := make(map[int64]bool)
	var out []time.Time
	for _, entry := range entries {
		at, ok := parseScheduleEntry(strings.TrimSpace(entry), now, deadline, loc)
		if !ok || !at.After(now) {
			continue
		}
		if deadline != nil && at.After(*deadline) {
			continue
		}
		if seen[at.Unix()] {
			continue
		}
		seen[at.Unix()] = true
		out = append(out, at)
	}

	if len(out) == 0 {
		return nil, errors.New(errors.ErrCodeUnparsableSched,
			"no usable reminder times found",
			errors.WithHint(ScheduleHint))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func parseScheduleEntry(entry string, now time.Time, deadline *time.Time, loc *time.Location) (time.Time, bool) {
	if entry == "" {
		return time.Time{}, false
	}
	if at, err := ParseDeadline(entry, now, loc); err == nil {
		return at, true
	}
	if clock, err := time.ParseInLocation("15:04", entry, loc); err == nil {
		local := now.In(loc)
		at := time.Date(local.Year(), local.Month(), local.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, true
	}
	if deadline == nil {
		return time.Time{}, false
	}
	if d, ok := parseBefore(entry); ok {
		return deadline.Add(-d), true
	}
	return time.Time{}, false
}

// parseBefore reads a positive offset: a Go duration or a bare number of
// hours.
func parseBefore(entry string) (time.Duration, bool) {
	if d, err := time.ParseDuration(entry); err == nil && d > 0 {
		return d, true
	}
	h, err := strconv.ParseFloat(entry, 64)
	if err != nil || h <= 0 {
		return 0, false
	}
	return time.Duration(h * float64(time.Hour)), true
}
