package trips

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDayStart is used when the first order has no readable time
const DefaultDayStart = 9 * 60

var clockLayouts = []string{"15:04", "3:04 PM", "3:04PM", "15:04:05", "3PM", "3 PM"}

// ParseClock reads an appointment time as minutes after midnight. Time
// windows such as "08:00 - 10:00" use their start.
func ParseClock(raw string) (int, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexAny(s, "-–"); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.NewReplacer("A.M.", "AM", "P.M.", "PM").Replace(s)
	if s == "" {
		return 0, false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), true
		}
	}
	return 0, false
}

// FormatClock renders minutes after midnight as HH:MM, wrapping past midnight
func FormatClock(minutes int) string {
	minutes = ((minutes % (24 * 60)) + 24*60) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// FormatDuration renders minutes as "Xh Ym"
func FormatDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
