package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"plancal/internal/datetime"
)

// ErrInvalidRecord marks a record rejected at the JSON boundary.
var ErrInvalidRecord = errors.New("invalid record")

// Recurring is the wire shape of a recurrence rule.
type Recurring struct {
	Frequency  string `json:"frequency"`
	Interval   int    `json:"interval,omitempty"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
}

// Objective is the wire shape of an objective or task as exchanged with the
// planner API.
type Objective struct {
	ID            string     `json:"id,omitempty"`
	Title         string     `json:"title,omitempty"`
	ObjectiveType string     `json:"objective_type"`
	ParentID      string     `json:"parent_id,omitempty"`
	Status        string     `json:"status,omitempty"`
	StartTime     string     `json:"start_time,omitempty"`
	EndTime       string     `json:"end_time,omitempty"`
	StartDate     string     `json:"start_date,omitempty"`
	DueDate       string     `json:"due_date,omitempty"`
	AllDay        *bool      `json:"all_day,omitempty"`
	Recurring     *Recurring `json:"recurring,omitempty"`
}

// Record validates o and converts it into a DomainRecord.
func (o Objective) Record() (DomainRecord, error) {
	rec := DomainRecord{
		ID:       strings.TrimSpace(o.ID),
		Title:    o.Title,
		Kind:     Kind(o.ObjectiveType),
		ParentID: o.ParentID,
		Status:   o.Status,
	}
	if rec.ID == "" {
		return rec, fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if !rec.Kind.Valid() {
		return rec, fmt.Errorf("%w: %s: unknown objective_type %q", ErrInvalidRecord, rec.ID, o.ObjectiveType)
	}

	var err error
	fields := []struct {
		name string
		raw  string
		dst  **DateValue
	}{
		{"start_time", o.StartTime, &rec.StartInstant},
		{"end_time", o.EndTime, &rec.EndInstant},
		{"start_date", o.StartDate, &rec.StartDate},
		{"due_date", o.DueDate, &rec.DueDate},
	}
	for _, f := range fields {
		if *f.dst, err = parseDateValue(f.raw); err != nil {
			return rec, fmt.Errorf("%w: %s: %s: %v", ErrInvalidRecord, rec.ID, f.name, err)
		}
	}

	if o.AllDay != nil {
		v := *o.AllDay
		rec.AllDay = &v
	}

	if o.Recurring != nil {
		if rec.Recurrence, err = o.Recurring.rule(); err != nil {
			return rec, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, rec.ID, err)
		}
	}
	return rec, nil
}

func (r Recurring) rule() (*Recurrence, error) {
	out := &Recurrence{
		Frequency: Frequency(strings.ToLower(strings.TrimSpace(r.Frequency))),
		Interval:  r.Interval,
	}
	if !out.Frequency.Valid() {
		return nil, fmt.Errorf("unknown frequency %q", r.Frequency)
	}
	switch {
	case out.Interval < 0:
		return nil, fmt.Errorf("interval %d is negative", r.Interval)
	case out.Interval == 0:
		out.Interval = 1
	}

	seen := make(map[Weekday]bool, len(r.DaysOfWeek))
	for _, d := range r.DaysOfWeek {
		if d < int(Monday) || d > int(Sunday) {
			return nil, fmt.Errorf("day of week %d out of range 0..6", d)
		}
		if !seen[Weekday(d)] {
			seen[Weekday(d)] = true
			out.DaysOfWeek = append(out.DaysOfWeek, Weekday(d))
		}
	}
	sort.Slice(out.DaysOfWeek, func(i, j int) bool { return out.DaysOfWeek[i] < out.DaysOfWeek[j] })

	if raw := strings.TrimSpace(r.EndDate); raw != "" {
		var end time.Time
		var err error
		if datetime.HasTimeComponent(raw) {
			end, err = datetime.Parse(raw)
		} else {
			// Inclusive through the end of the day; the planner UI cut at 00:00 UTC.
			end, err = datetime.DateOnlyToInstant(raw, true)
		}
		if err != nil {
			return nil, fmt.Errorf("end_date: %v", err)
		}
		out.EndDate = &end
	}
	return out, nil
}

func parseDateValue(raw string) (*DateValue, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := datetime.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &DateValue{At: t, Raw: raw}, nil
}

// ParseObjectives converts a batch, skipping invalid entries. The returned
// errors describe every skipped entry.
func ParseObjectives(in []Objective) ([]DomainRecord, []error) {
	out := make([]DomainRecord, 0, len(in))
	var errs []error
	for _, o := range in {
		rec, err := o.Record()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rec)
	}
	return out, errs
}

// Objective converts r back into its wire shape.
func (r DomainRecord) Objective() Objective {
	o := Objective{
		ID:            r.ID,
		Title:         r.Title,
		ObjectiveType: string(r.Kind),
		ParentID:      r.ParentID,
		Status:        r.Status,
		StartTime:     rawOf(r.StartInstant),
		EndTime:       rawOf(r.EndInstant),
		StartDate:     rawOf(r.StartDate),
		DueDate:       rawOf(r.DueDate),
	}
	if r.AllDay != nil {
		v := *r.AllDay
		o.AllDay = &v
	}
	if r.Recurrence != nil {
		rc := &Recurring{
			Frequency: string(r.Recurrence.Frequency),
			Interval:  r.Recurrence.Interval,
		}
		for _, d := range r.Recurrence.DaysOfWeek {
			rc.DaysOfWeek = append(rc.DaysOfWeek, int(d))
		}
		if r.Recurrence.EndDate != nil {
			rc.EndDate = datetime.FormatISO(*r.Recurrence.EndDate)
		}
		o.Recurring = rc
	}
	return o
}

func rawOf(d *DateValue) string {
	if d == nil {
		return ""
	}
	if d.Raw != "" {
		return d.Raw
	}
	return datetime.FormatISO(d.At)
}
