// Package dates normalizes heterogeneous due-date strings into calendar
// dates and derives day distances from them. Parsing either succeeds with a
// valid calendar date or fails with ErrUnparseable; it never yields a
// silently wrong date.
package dates

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable is returned when no supported representation matches.
// Callers must branch on it explicitly; an unparseable due date excludes a
// document from scheduling but never from listings.
var ErrUnparseable = errors.New("unparseable date")

// Date is a calendar date with no time-of-day or zone component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ISO formats the date as YYYY-MM-DD.
func (d Date) ISO() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Time returns midnight of the date in the given location.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// IsZero reports whether the date is the zero value.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// isoLayouts are tried first, in order. A bare calendar date is the common
// case; the timestamp layouts cover values that were serialized from a
// datetime upstream.
var isoLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var monthsByName = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// Parse interprets a due-date string of unknown format. The fallback chain
// is ordered: ISO / timestamp layouts, then human-readable forms built from
// the month-name table, then numeric month/day/year. First success wins.
func Parse(raw string) (Date, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Date{}, ErrUnparseable
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return fromTime(t), nil
		}
	}

	if d, ok := parseHuman(s); ok {
		return d, nil
	}

	if d, ok := parseNumeric(s); ok {
		return d, nil
	}

	return Date{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
}

// parseHuman handles "January 2, 2026", "2 January 2026" and their
// abbreviated variants.
func parseHuman(s string) (Date, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.'
	})
	if len(fields) != 3 {
		return Date{}, false
	}

	// Month-first: "January 2 2026". Day-first: "2 January 2026".
	if month, ok := monthsByName[strings.ToLower(fields[0])]; ok {
		return buildDate(fields[2], month, fields[1])
	}
	if month, ok := monthsByName[strings.ToLower(fields[1])]; ok {
		return buildDate(fields[2], month, fields[0])
	}
	return Date{}, false
}

// parseNumeric handles MM/DD/YYYY and YYYY/MM/DD.
func parseNumeric(s string) (Date, bool) {
	fields := strings.Split(s, "/")
	if len(fields) != 3 {
		fields = strings.Split(s, "-")
		if len(fields) != 3 {
			return Date{}, false
		}
	}

	if len(fields[0]) == 4 {
		month, err := strconv.Atoi(fields[1])
		if err != nil || month < 1 || month > 12 {
			return Date{}, false
		}
		return buildDate(fields[0], time.Month(month), fields[2])
	}

	month, err := strconv.Atoi(fields[0])
	if err != nil || month < 1 || month > 12 {
		return Date{}, false
	}
	return buildDate(fields[2], time.Month(month), fields[1])
}

// buildDate validates day and year ranges and rejects dates that do not
// survive normalization (e.g. February 30th).
func buildDate(yearField string, month time.Month, dayField string) (Date, bool) {
	year, err := strconv.Atoi(yearField)
	if err != nil || year < 1000 || year > 9999 {
		return Date{}, false
	}
	day, err := strconv.Atoi(dayField)
	if err != nil || day < 1 || day > 31 {
		return Date{}, false
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return Date{}, false
	}
	return Date{Year: year, Month: month, Day: day}, true
}

func fromTime(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Today returns the calendar date of now in its own location.
func Today(now time.Time) Date {
	return fromTime(now)
}

// DaysUntil returns the signed calendar-day distance from now to the date,
// measured midnight-to-midnight in now's location. The result depends only
// on the calendar dates involved, not on the wall-clock time of day.
func DaysUntil(d Date, now time.Time) int {
	loc := now.Location()
	target := d.Time(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	// Round absorbs DST transitions, which make some civil days 23h or 25h.
	return int(target.Sub(today).Round(24*time.Hour) / (24 * time.Hour))
}
