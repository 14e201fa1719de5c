package reminders

import (
	"math"
	"time"

	"github.com/vinayprograms/taskbot/tasks"
)

// window is a default reminder threshold. It matches when the whole hours
// left lie in (lower, upper].
type window struct {
	key   string
	lower int
	upper int
}

var defaultWindows = map[tasks.Category][]window{
	tasks.CategoryUrgent: {
		{"1h", 0, 1},
		{"2h", 1, 2},
		{"6h", 2, 6},
		{"12h", 6, 12},
		{"24h", 12, 24},
		{"72h", 24, 72},
		{"96h", 72, 96},
	},
	tasks.CategoryNormal: {
		{"2h", 0, 2},
		{"6h", 2, 6},
		{"12h", 6, 12},
		{"24h", 12, 24},
		{"48h", 24, 48},
	},
	tasks.CategoryOptional: {
		{"4-5h", 3, 5},
		{"24h", 5, 24},
	},
}

var escalationWaits = map[tasks.Category]time.Duration{
	tasks.CategoryUrgent:   2 * time.Hour,
	tasks.CategoryNormal:   3 * time.Hour,
	tasks.CategoryOptional: 4 * time.Hour,
}

// HoursLeft is the ceiling of whole minutes left divided by 60, so 59
// minutes is one hour and 61 minutes is two.
func HoursLeft(deadline, now time.Time) int {
	minutes := math.Floor(deadline.Sub(now).Minutes())
	return int(math.Ceil(minutes / 60))
}

// DueThreshold returns the default threshold key whose window contains
// hours. Windows are tightest first and never overlap.
func DueThreshold(cat tasks.Category, hours int) (string, bool) {
	windows, ok := defaultWindows[cat]
	if !ok {
		windows = defaultWindows[tasks.CategoryNormal]
	}
	for _, w := range windows {
		if hours > w.lower && hours <= w.upper {
			return w.key, true
		}
	}
	return "", false
}

// EscalationWait is how long an unclaimed task waits before its author
// is warned.
func EscalationWait(cat tasks.Category) time.Duration {
	if d, ok := escalationWaits[cat]; ok {
		return d
	}
	return escalationWaits[tasks.CategoryNormal]
}
