// Package datetime holds the UTC-anchored date primitives shared by
// expansion, classification and layout. Nothing here reads the process-local
// timezone: every instant is built from explicit numeric components.
package datetime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the date-only key format.
	DateLayout = "2006-01-02"
	// LocalInputLayout is the wall-clock format of a datetime-local input.
	LocalInputLayout = "2006-01-02T15:04"
	// ISOLayout is the wire format for emitted instants.
	ISOLayout = "2006-01-02T15:04:05.000Z"

	Day = 24 * time.Hour
)

var ErrEmpty = errors.New("datetime: empty value")

// midnightSpellings are the zero-offset midnight suffixes treated as
// "no time of day" by all-day inference.
var midnightSpellings = []string{
	"T00:00:00",
	"T00:00:00Z",
	"T00:00:00.000Z",
	"T00:00:00+00:00",
	"T00:00:00.000+00:00",
	"T00:00:00.000000",
	"T00:00:00.000000+00:00",
}

// parseLayouts are tried in order by Parse. Layouts without a zone parse
// as UTC.
var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

// DateOnlyKey returns the YYYY-MM-DD key of t in UTC.
func DateOnlyKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// FormatISO formats t as a UTC instant with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// FormatLocalInput renders t as the YYYY-MM-DDTHH:MM wall clock, in UTC.
func FormatLocalInput(t time.Time) string {
	return t.UTC().Format(LocalInputLayout)
}

// ParseLocalInput reads a YYYY-MM-DDTHH:MM wall clock and builds the instant
// from its numeric components.
func ParseLocalInput(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmpty
	}
	if len(s) != len(LocalInputLayout) || s[4] != '-' || s[7] != '-' || s[10] != 'T' || s[13] != ':' {
		return time.Time{}, fmt.Errorf("datetime: %q is not YYYY-MM-DDTHH:MM", s)
	}
	year, month, day, err := dateComponents(s[:10])
	if err != nil {
		return time.Time{}, err
	}
	hour, err1 := strconv.Atoi(s[11:13])
	minute, err2 := strconv.Atoi(s[14:16])
	if err1 != nil || err2 != nil || hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("datetime: invalid time of day in %q", s)
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC), nil
}

// DateOnlyToInstant maps YYYY-MM-DD to 00:00:00.000 UTC, or to
// 23:59:59.999 UTC when endOfDay is set.
func DateOnlyToInstant(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmpty
	}
	year, month, day, err := dateComponents(s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return time.Date(year, time.Month(month), day, 23, 59, 59, int(999*time.Millisecond), time.UTC), nil
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

func dateComponents(s string) (year, month, day int, err error) {
	if len(s) != len(DateLayout) || s[4] != '-' || s[7] != '-' {
		return 0, 0, 0, fmt.Errorf("datetime: %q is not YYYY-MM-DD", s)
	}
	year, err1 := strconv.Atoi(s[:4])
	month, err2 := strconv.Atoi(s[5:7])
	day, err3 := strconv.Atoi(s[8:10])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, fmt.Errorf("datetime: %q is not YYYY-MM-DD", s)
	}
	if month < 1 || month > 12 || day < 1 || day > DaysIn(year, time.Month(month)) {
		return 0, 0, 0, fmt.Errorf("datetime: %q is not a calendar date", s)
	}
	return year, month, day, nil
}

// Parse accepts every date spelling the planner API emits: bare dates,
// minute or second precision wall clocks and RFC 3339 instants. Values
// without an offset are UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmpty
	}
	if !HasTimeComponent(s) {
		return DateOnlyToInstant(s, false)
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("datetime: unrecognized value %q", s)
}

// HasTimeComponent reports whether raw carries a time of day.
func HasTimeComponent(raw string) bool {
	raw = strings.TrimSpace(raw)
	return len(raw) > len(DateLayout) && (raw[len(DateLayout)] == 'T' || raw[len(DateLayout)] == ' ')
}

// IsMidnightUTCSpelling reports whether raw ends in one of the zero-offset
// midnight spellings.
func IsMidnightUTCSpelling(raw string) bool {
	raw = strings.TrimSpace(raw)
	for _, suffix := range midnightSpellings {
		if strings.HasSuffix(raw, suffix) {
			return true
		}
	}
	return false
}

// StartOfDayUTC truncates t to 00:00 UTC of its UTC date.
func StartOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// CeilDayUTC returns t if it is a UTC midnight, else the next UTC midnight.
func CeilDayUTC(t time.Time) time.Time {
	start := StartOfDayUTC(t)
	if start.Equal(t) {
		return start
	}
	return start.AddDate(0, 0, 1)
}

// AddMonthsClamped adds n calendar months keeping the day of month, clamped
// to the last day of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MondayIndex returns the UTC weekday of t with 0=Monday .. 6=Sunday.
func MondayIndex(t time.Time) int {
	return (int(t.UTC().Weekday()) + 6) % 7
}
