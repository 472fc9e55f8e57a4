// Package when resolves natural-language date/time phrases ("tomorrow at
// 3pm") to absolute instants against a reference time and timezone.
package when

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var (
	clockRe = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	inRe    = regexp.MustCompile(`\bin\s+(\d+)\s+(minute|hour|day|week)s?\b`)
)

// Resolve parses phrase against the reference instant ref in location loc
// and returns the absolute instant it denotes. ok is false when the phrase
// could not be understood; callers treat that as "field still missing",
// never as an error.
func Resolve(phrase string, ref time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.ToLower(strings.TrimSpace(phrase))
	if s == "" {
		return time.Time{}, false
	}
	ref = ref.In(loc)

	// Absolute formats first.
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(phrase), loc); err == nil {
			return t, true
		}
	}

	// "in N minutes/hours/days/weeks"
	if m := inRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "minute":
			return ref.Add(time.Duration(n) * time.Minute), true
		case "hour":
			return ref.Add(time.Duration(n) * time.Hour), true
		case "day":
			return ref.AddDate(0, 0, n), true
		case "week":
			return ref.AddDate(0, 0, 7*n), true
		}
	}

	day, haveDay := resolveDay(s, ref)

	hour, minute, haveClock := resolveClock(s)
	if !haveDay && !haveClock {
		return time.Time{}, false
	}

	if !haveDay {
		day = ref
	}
	if !haveClock {
		// Date-only phrases default to 9am local.
		hour, minute = 9, 0
	}

	t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)

	// A bare clock time that already passed today means the next occurrence.
	if !haveDay && !t.After(ref) {
		t = t.AddDate(0, 0, 1)
	}
	return t, true
}

func resolveDay(s string, ref time.Time) (time.Time, bool) {
	switch {
	case strings.Contains(s, "day after tomorrow"):
		return ref.AddDate(0, 0, 2), true
	case strings.Contains(s, "tomorrow"):
		return ref.AddDate(0, 0, 1), true
	case strings.Contains(s, "today"), strings.Contains(s, "tonight"):
		return ref, true
	}

	for name, wd := range weekdays {
		if !strings.Contains(s, name) {
			continue
		}
		// Next occurrence, never today.
		delta := (int(wd) - int(ref.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return ref.AddDate(0, 0, delta), true
	}
	return time.Time{}, false
}

func resolveClock(s string) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "":
		// A bare small number without am/pm or minutes is too ambiguous
		// ("buy 3 apples"); require either minutes or a meridiem.
		if m[2] == "" {
			return 0, 0, false
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
