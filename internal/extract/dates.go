package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// defaultDueHour is the due time applied when the expression carries no
// time of day: end of the business day.
const defaultDueHour = 18

var weekdayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

const monthAlt = `january|february|march|april|may|june|july|august|september|october|november|december`

var (
	isoDateRe    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	monthDayRe   = regexp.MustCompile(`\b(` + monthAlt + `)\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s*(\d{4}))?\b`)
	dayMonthRe   = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthAlt + `)\b`)
	weekdayRe    = regexp.MustCompile(`\b(?:next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	clockRe      = regexp.MustCompile(`\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	endOfWeekRe  = regexp.MustCompile(`\bend of (?:the |this )?week\b`)
	nextWeekRe   = regexp.MustCompile(`\bnext week\b`)
	monthNumbers = buildMonthNumbers()
)

func buildMonthNumbers() map[string]time.Month {
	names := strings.Split(monthAlt, "|")
	out := make(map[string]time.Month, len(names))
	for i, n := range names {
		out[n] = time.Month(i + 1)
	}
	return out
}

// resolveDueDate extracts a due-date expression from text and resolves
// it to an absolute timestamp. Absolute dates resolve directly; relative
// expressions anchor at `anchor` (the message's received time). When no
// expression parses confidently the result is nil; the engine never
// guesses.
func resolveDueDate(text string, anchor time.Time) *time.Time {
	lower := strings.ToLower(text)
	hour, minute := timeOfDay(lower)

	if d, ok := absoluteDate(lower, anchor); ok {
		return at(d, hour, minute)
	}

	if strings.Contains(lower, "tomorrow") {
		return at(anchor.AddDate(0, 0, 1), hour, minute)
	}
	if strings.Contains(lower, "today") || strings.Contains(lower, "tonight") {
		return at(anchor, hour, minute)
	}
	if endOfWeekRe.MatchString(lower) {
		return at(upcomingWeekday(anchor, time.Friday, true), hour, minute)
	}
	if m := weekdayRe.FindStringSubmatch(lower); m != nil {
		wd := weekdayNames[m[1]]
		return at(upcomingWeekday(anchor, wd, false), hour, minute)
	}
	if nextWeekRe.MatchString(lower) {
		return at(anchor.AddDate(0, 0, 7), hour, minute)
	}

	return nil
}

// absoluteDate parses explicit calendar dates. A date without a year
// takes the anchor's year, rolling forward when that day already passed.
func absoluteDate(lower string, anchor time.Time) (time.Time, bool) {
	if m := isoDateRe.FindStringSubmatch(lower); m != nil {
		return calendarDate(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), anchor.Location())
	}

	if m := slashDateRe.FindStringSubmatch(lower); m != nil {
		// month/day/year, swapping when the first number cannot be a
		// month
		month, day := atoi(m[1]), atoi(m[2])
		if month > 12 {
			month, day = day, month
		}
		return calendarDate(atoi(m[3]), time.Month(month), day, anchor.Location())
	}

	if m := monthDayRe.FindStringSubmatch(lower); m != nil {
		year := anchor.Year()
		explicit := m[3] != ""
		if explicit {
			year = atoi(m[3])
		}
		d, ok := calendarDate(year, monthNumbers[m[1]], atoi(m[2]), anchor.Location())
		if ok && !explicit && d.Before(anchor.AddDate(0, 0, -1)) {
			d = d.AddDate(1, 0, 0)
		}
		return d, ok
	}

	if m := dayMonthRe.FindStringSubmatch(lower); m != nil {
		d, ok := calendarDate(anchor.Year(), monthNumbers[m[2]], atoi(m[1]), anchor.Location())
		if ok && d.Before(anchor.AddDate(0, 0, -1)) {
			d = d.AddDate(1, 0, 0)
		}
		return d, ok
	}

	return time.Time{}, false
}

// calendarDate builds a date and rejects impossible combinations like
// February 31, which time.Date would silently normalize.
func calendarDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

// upcomingWeekday returns the next occurrence of wd after anchor.
// With allowSame, an anchor already on wd resolves to the anchor day.
func upcomingWeekday(anchor time.Time, wd time.Weekday, allowSame bool) time.Time {
	delta := (int(wd) - int(anchor.Weekday()) + 7) % 7
	if delta == 0 && !allowSame {
		delta = 7
	}
	return anchor.AddDate(0, 0, delta)
}

// timeOfDay scans for an explicit or named time, defaulting to the end
// of the business day.
func timeOfDay(lower string) (int, int) {
	if m := clockRe.FindStringSubmatch(lower); m != nil {
		h := atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute = atoi(m[2])
		}
		switch m[3] {
		case "pm":
			if h < 12 {
				h += 12
			}
		case "am":
			if h == 12 {
				h = 0
			}
		}
		if h >= 0 && h <= 23 && minute >= 0 && minute <= 59 {
			return h, minute
		}
	}

	switch {
	case strings.Contains(lower, "morning"):
		return 9, 0
	case strings.Contains(lower, "noon"):
		return 12, 0
	case strings.Contains(lower, "afternoon"):
		return 15, 0
	case strings.Contains(lower, "tonight"), strings.Contains(lower, "evening"):
		return 19, 0
	}
	return defaultDueHour, 0
}

func at(day time.Time, hour, minute int) *time.Time {
	t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
	return &t
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
