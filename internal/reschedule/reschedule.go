// Package reschedule turns a drag or resize of an occurrence into the payload
// the planner API expects. Editing one instance of a series detaches it into
// a standalone record; the series itself is never rewritten.
package reschedule

import (
	"errors"
	"fmt"
	"time"

	"plancal/internal/datetime"
	"plancal/internal/model"
)

var ErrInvalidRange = errors.New("end must be after start")

// RescheduledSuffix is appended to the title of a detached instance.
const RescheduledSuffix = " (Rescheduled)"

type Op int

const (
	// OpUpdate patches the existing record TargetID.
	OpUpdate Op = iota
	// OpCreate creates Record as a new, non-recurring record.
	OpCreate
)

func (o Op) String() string {
	if o == OpCreate {
		return "create"
	}
	return "update"
}

// Change is the range reported by the calendar after a drop or resize.
type Change struct {
	Start  time.Time
	End    time.Time
	AllDay bool
}

// Fields is the update body. all_day is always sent so later
// classification does not have to guess.
type Fields struct {
	StartDate string `json:"start_date"`
	DueDate   string `json:"due_date"`
	AllDay    bool   `json:"all_day"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// Payload is what has to be sent to the planner API.
type Payload struct {
	Op       Op
	TargetID string
	Fields   Fields
	// Record is set for OpCreate.
	Record *model.Objective
	// Start/End are the normalized instants behind Fields.
	Start time.Time
	End   time.Time
}

// Materialize validates ch and builds the payload for occ.
func Materialize(occ model.Occurrence, ch Change) (Payload, error) {
	start, end, err := Normalize(ch)
	if err != nil {
		return Payload{}, fmt.Errorf("reschedule %s: %w", occ.ID, err)
	}

	src := occ.Source
	fields := Fields{
		StartDate: datetime.FormatISO(start),
		DueDate:   datetime.FormatISO(end),
		AllDay:    ch.AllDay,
	}
	if src.Kind == model.KindTask {
		fields.StartTime = fields.StartDate
		fields.EndTime = fields.DueDate
	}

	p := Payload{Fields: fields, Start: start, End: end}
	if !occ.RecurringInstance {
		p.Op = OpUpdate
		p.TargetID = occ.ID.OriginalID
		return p, nil
	}

	rec := src.Objective()
	rec.ID = ""
	rec.Recurring = nil
	rec.Title = src.Title + RescheduledSuffix
	rec.ParentID = src.ParentID
	rec.StartDate = fields.StartDate
	rec.DueDate = fields.DueDate
	rec.StartTime = fields.StartTime
	rec.EndTime = fields.EndTime
	allDay := ch.AllDay
	rec.AllDay = &allDay

	p.Op = OpCreate
	p.Record = &rec
	return p, nil
}

// Normalize applies the calendar conventions to a reported range:
//
//   - All-day ranges keep the calendar dates of start/end as seen in their
//     own location and pin them to UTC midnight. A missing or equal end
//     becomes the next day.
//   - A timed range with a missing end lasts one hour.
//
// The result must satisfy end > start, otherwise ErrInvalidRange.
func Normalize(ch Change) (start, end time.Time, err error) {
	if ch.Start.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: missing start", ErrInvalidRange)
	}
	start, end = ch.Start, ch.End

	if ch.AllDay {
		start = utcMidnightOf(start)
		if end.IsZero() {
			end = start
		} else {
			end = utcMidnightOf(end)
		}
		if end.Equal(start) {
			end = start.AddDate(0, 0, 1)
		}
	} else {
		start = start.UTC()
		if end.IsZero() {
			end = start.Add(time.Hour)
		}
		end = end.UTC()
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s..%s", ErrInvalidRange, datetime.FormatISO(start), datetime.FormatISO(end))
	}
	return start, end, nil
}

// utcMidnightOf keeps the calendar date of t in t's own location.
func utcMidnightOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DragKind is how a Gantt bar was dragged.
type DragKind int

const (
	Move DragKind = iota
	ResizeStart
	ResizeEnd
)

// Drag computes the range after dropping a bar on drop. Moves keep the
// duration; resizes keep the opposite edge.
func Drag(kind DragKind, cur Change, drop time.Time) (Change, error) {
	out := cur
	switch kind {
	case Move:
		out.Start = drop
		out.End = drop.Add(cur.End.Sub(cur.Start))
	case ResizeStart:
		out.Start = drop
	case ResizeEnd:
		out.End = drop
	default:
		return Change{}, fmt.Errorf("reschedule: unknown drag kind %d", kind)
	}
	if !out.End.After(out.Start) {
		return Change{}, fmt.Errorf("%w: %s..%s", ErrInvalidRange, datetime.FormatISO(out.Start), datetime.FormatISO(out.End))
	}
	return out, nil
}
