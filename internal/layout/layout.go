// Package layout maps classified occurrences onto calendar geometry: view
// windows, time-grid slots, Gantt bars and the current-time line.
package layout

import (
	"fmt"
	"strings"
	"time"

	"plancal/internal/classify"
	"plancal/internal/datetime"
)

type View string

const (
	ViewDay    View = "day"
	ViewWeek   View = "week"
	ViewMonth  View = "month"
	ViewAgenda View = "agenda"

	DefaultAgendaDays = 30
)

func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case ViewDay, ViewWeek, ViewMonth, ViewAgenda:
		return v, nil
	case "":
		return ViewWeek, nil
	default:
		return "", fmt.Errorf("layout: unknown view %q", s)
	}
}

// Window returns the closed interval shown by view around anchor, in loc.
// The end is the last millisecond of the last visible day.
func Window(view View, anchor time.Time, loc *time.Location, weekStart time.Weekday, agendaDays int) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	if agendaDays <= 0 {
		agendaDays = DefaultAgendaDays
	}
	a := anchor.In(loc)
	today := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, loc)

	var lastDay time.Time
	switch view {
	case ViewDay:
		start, lastDay = today, today
	case ViewMonth:
		start = time.Date(a.Year(), a.Month(), 1, 0, 0, 0, 0, loc)
		lastDay = start.AddDate(0, 1, -1)
	case ViewAgenda:
		start, lastDay = today, today.AddDate(0, 0, agendaDays)
	default:
		offset := (int(a.Weekday()) - int(weekStart) + 7) % 7
		start = today.AddDate(0, 0, -offset)
		lastDay = start.AddDate(0, 0, 6)
	}
	return start, endOfDay(lastDay)
}

func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Millisecond)
}

// Slot positions a timed block inside one day column, as fractions of the
// day.
type Slot struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// TimeSlot clips [start, end) to the day containing day (in loc). ok is
// false when the range does not touch that day.
func TimeSlot(start, end, day time.Time, loc *time.Location) (Slot, bool) {
	d0, d1 := dayBounds(day, loc)
	if start.Before(d0) {
		start = d0
	}
	if end.After(d1) {
		end = d1
	}
	if !end.After(start) {
		return Slot{}, false
	}
	span := float64(d1.Sub(d0))
	return Slot{
		Top:    float64(start.Sub(d0)) / span,
		Height: float64(end.Sub(start)) / span,
	}, true
}

// NowLine is the position of the current-time indicator as a fraction of
// today in loc.
func NowLine(clock datetime.Clock, loc *time.Location) float64 {
	now := clock.Now()
	d0, d1 := dayBounds(now, loc)
	return float64(now.Sub(d0)) / float64(d1.Sub(d0))
}

// dayBounds uses calendar arithmetic so DST days span 23 or 25 hours.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	d0 := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
	return d0, d0.AddDate(0, 0, 1)
}

// Month returns the first day of the month of t in loc and its length.
func Month(t time.Time, loc *time.Location) (time.Time, int) {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	first := time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, loc)
	return first, datetime.DaysIn(l.Year(), l.Month())
}

// Bar positions a Gantt bar in day units from the first day of the month.
type Bar struct {
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

// GanttBar clamps the bar to the month; every bar is at least one day wide.
func GanttBar(start, end, monthStart time.Time, days int) Bar {
	startDiff := float64(start.Sub(monthStart)) / float64(datetime.Day)
	if startDiff < 0 {
		startDiff = 0
	}
	endDiff := float64(end.Sub(monthStart))/float64(datetime.Day) + 1
	if endDiff > float64(days) {
		endDiff = float64(days)
	}
	width := endDiff - startDiff
	if width < 1 {
		width = 1
	}
	return Bar{Left: startDiff, Width: width}
}

// RowItem is one bar on a Gantt row.
type RowItem struct {
	OccurrenceID      string
	RecurringInstance bool
	Start             time.Time
	End               time.Time
	AllDay            bool
	Bar               Bar
}

// Row groups every bar belonging to one original record.
type Row struct {
	OriginalID string
	Title      string
	Kind       string
	ParentID   string
	Items      []RowItem
}

// GanttRows lays out results for the month starting at monthStart. Results
// that do not overlap the month are dropped; rows keep first-seen order.
// All-day ends are exclusive, so their bars end on the previous day.
func GanttRows(results []classify.Result, monthStart time.Time, days int) []Row {
	monthEnd := monthStart.AddDate(0, 0, days)
	index := make(map[string]int)
	rows := make([]Row, 0)

	for _, r := range results {
		if !r.Start.Before(monthEnd) || !r.End.After(monthStart) {
			continue
		}
		occ := r.Occurrence
		key := occ.ID.OriginalID
		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, Row{
				OriginalID: key,
				Title:      occ.Source.Title,
				Kind:       string(occ.Source.Kind),
				ParentID:   occ.Source.ParentID,
			})
		}
		rows[i].Items = append(rows[i].Items, RowItem{
			OccurrenceID:      occ.ID.String(),
			RecurringInstance: occ.RecurringInstance,
			Start:             r.Start,
			End:               r.End,
			AllDay:            r.AllDay,
			Bar:               GanttBar(r.Start, barEnd(r), monthStart, days),
		})
	}
	return rows
}

func barEnd(r classify.Result) time.Time {
	if r.AllDay && r.End.After(r.Start) {
		return r.End.AddDate(0, 0, -1)
	}
	return r.End
}
