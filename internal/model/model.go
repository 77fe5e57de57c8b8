package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the objective_type of a record.
type Kind string

const (
	KindMainGoal Kind = "main_objective"
	KindSubGoal  Kind = "sub_objective"
	KindTask     Kind = "task"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMainGoal, KindSubGoal, KindTask:
		return true
	}
	return false
}

// Frequency is the recurrence step unit.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Weekday counts from Monday: 0=Monday .. 6=Sunday.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// DateValue is a parsed date or datetime together with the spelling it
// arrived in. All-day inference looks at the spelling, not the instant.
type DateValue struct {
	At  time.Time
	Raw string
}

func (d *DateValue) IsSet() bool {
	return d != nil && !d.At.IsZero()
}

// Recurrence describes how a record repeats.
type Recurrence struct {
	Frequency Frequency
	// Interval is always >= 1 once a record passed validation.
	Interval int
	// DaysOfWeek is sorted and free of duplicates.
	DaysOfWeek []Weekday
	// EndDate is an inclusive bound; nil means open-ended.
	EndDate *time.Time
}

// HasDay reports whether d is one of the configured weekdays.
func (r *Recurrence) HasDay(d Weekday) bool {
	for _, w := range r.DaysOfWeek {
		if w == d {
			return true
		}
	}
	return false
}

// DomainRecord is a goal, sub-goal or task as received from the planner API.
type DomainRecord struct {
	ID       string
	Title    string
	Kind     Kind
	ParentID string
	Status   string

	StartInstant *DateValue
	EndInstant   *DateValue
	StartDate    *DateValue
	DueDate      *DateValue

	// AllDay is authoritative when non-nil.
	AllDay *bool

	Recurrence *Recurrence
}

// BaseRange resolves the start/end pair: explicit instants first, then
// start/due dates. ok is false when neither pair is complete.
func (r *DomainRecord) BaseRange() (start, end time.Time, ok bool) {
	if r.StartInstant.IsSet() && r.EndInstant.IsSet() {
		return r.StartInstant.At, r.EndInstant.At, true
	}
	if r.StartDate.IsSet() && r.DueDate.IsSet() {
		return r.StartDate.At, r.DueDate.At, true
	}
	return time.Time{}, time.Time{}, false
}

// DisplayRange is BaseRange extended with the due-date-only case used for
// goals that carry a deadline but no start.
func (r *DomainRecord) DisplayRange() (start, end time.Time, ok bool) {
	if start, end, ok = r.BaseRange(); ok {
		return start, end, true
	}
	if r.DueDate.IsSet() {
		return r.DueDate.At, r.DueDate.At, true
	}
	return time.Time{}, time.Time{}, false
}

// Clone returns a deep copy so derived views never alias the input.
func (r DomainRecord) Clone() DomainRecord {
	out := r
	out.StartInstant = cloneDate(r.StartInstant)
	out.EndInstant = cloneDate(r.EndInstant)
	out.StartDate = cloneDate(r.StartDate)
	out.DueDate = cloneDate(r.DueDate)
	if r.AllDay != nil {
		v := *r.AllDay
		out.AllDay = &v
	}
	if r.Recurrence != nil {
		rec := *r.Recurrence
		rec.DaysOfWeek = append([]Weekday(nil), r.Recurrence.DaysOfWeek...)
		if r.Recurrence.EndDate != nil {
			e := *r.Recurrence.EndDate
			rec.EndDate = &e
		}
		out.Recurrence = &rec
	}
	return out
}

func cloneDate(d *DateValue) *DateValue {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// OccurrenceID identifies an occurrence. Expanded instances format as
// "<originalID>_<seq>"; the original's own appearance formats as its ID.
type OccurrenceID struct {
	OriginalID string
	Seq        int
	Expanded   bool
}

func (id OccurrenceID) String() string {
	if !id.Expanded {
		return id.OriginalID
	}
	return id.OriginalID + "_" + strconv.Itoa(id.Seq)
}

// ParseOccurrenceID splits on the last underscore. Anything without a
// canonical decimal suffix ("0", "7", "12" but not "01" or "+1") is taken
// as an original record ID, so String always gives back the input.
func ParseOccurrenceID(s string) OccurrenceID {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return OccurrenceID{OriginalID: s}
	}
	suffix := s[i+1:]
	if !canonicalSeq(suffix) {
		return OccurrenceID{OriginalID: s}
	}
	seq, err := strconv.Atoi(suffix)
	if err != nil {
		return OccurrenceID{OriginalID: s}
	}
	return OccurrenceID{OriginalID: s[:i], Seq: seq, Expanded: true}
}

func canonicalSeq(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Occurrence is a concrete, dated projection of a DomainRecord. It is
// derived and never persisted.
type Occurrence struct {
	ID                OccurrenceID
	Source            DomainRecord
	RecurringInstance bool

	// Start/End are the resolved instants after projection.
	Start time.Time
	End   time.Time
}

// OriginalOccurrence wraps an unexpanded record. ok is false when the
// record has no resolvable dates; Start/End are then zero.
func OriginalOccurrence(rec DomainRecord) (Occurrence, bool) {
	occ := Occurrence{
		ID:     OccurrenceID{OriginalID: rec.ID},
		Source: rec.Clone(),
	}
	start, end, ok := rec.DisplayRange()
	if ok {
		occ.Start, occ.End = start, end
	}
	return occ, ok
}

// FindOriginal returns the persisted record behind occ.
func FindOriginal(occ Occurrence, records []DomainRecord) (DomainRecord, bool) {
	for _, r := range records {
		if r.ID == occ.ID.OriginalID {
			return r, true
		}
	}
	return DomainRecord{}, false
}

func (o Occurrence) String() string {
	return fmt.Sprintf("%s[%s..%s]", o.ID, o.Start.UTC().Format(time.RFC3339), o.End.UTC().Format(time.RFC3339))
}
