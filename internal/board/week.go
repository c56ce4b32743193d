package board

import (
	"strings"
	"time"
)

// DateLayout is the ISO calendar date format used for week and day keys.
const DateLayout = "2006-01-02"

const weekIDPrefix = "week-"

// Week dates are civil dates: the caller's clock and timezone only pick "today",
// every later step is AddDate on UTC midnights so DST never shifts a day.

// ParseDate parses an ISO date as a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

// ParseWeekStart validates a weekStartISO value: a real date that falls on a Monday.
func ParseWeekStart(s string) (time.Time, error) {
	d, err := ParseDate(s)
	if err != nil {
		return time.Time{}, Invalid("weekStartISO", "must be a date in YYYY-MM-DD format")
	}
	if d.Weekday() != time.Monday {
		return time.Time{}, Invalid("weekStartISO", "must be a Monday")
	}
	return d, nil
}

// MondayOf returns the Monday (UTC midnight) of the civil week containing t,
// reading t's calendar date in t's own location.
func MondayOf(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// CurrentWeekStart returns the Monday of the week containing now as seen in loc.
func CurrentWeekStart(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return MondayOf(now.In(loc)).Format(DateLayout)
}

// WeekDates returns the seven consecutive dates starting at weekStartISO.
// It returns nil when weekStartISO is not a date.
func WeekDates(weekStartISO string) []string {
	start, err := ParseDate(weekStartISO)
	if err != nil {
		return nil
	}
	dates := make([]string, DaysPerWeek)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i).Format(DateLayout)
	}
	return dates
}

// ContainsDate reports whether date is one of the week's seven dates.
func ContainsDate(weekStartISO, date string) bool {
	for _, d := range WeekDates(weekStartISO) {
		if d == date {
			return true
		}
	}
	return false
}

// WeekID returns the board id for a week.
func WeekID(weekStartISO string) string {
	return weekIDPrefix + weekStartISO
}

func weekStartFromID(id string) string {
	if !strings.HasPrefix(id, weekIDPrefix) {
		return ""
	}
	return strings.TrimPrefix(id, weekIDPrefix)
}

// ValidSlot reports whether slot is one of the four meal slots.
func ValidSlot(slot string) bool {
	for _, s := range Slots {
		if s == slot {
			return true
		}
	}
	return false
}
