// Package classify decides how an occurrence renders: as an all-day block
// or as a timed block, and with which start/end instants.
package classify

import (
	"errors"
	"fmt"
	"time"

	"plancal/internal/datetime"
	appLog "plancal/internal/log"
	"plancal/internal/model"
)

// DefaultMinTimedDuration is the shortest timed block left as-is. Anything
// shorter is stretched to MinTimedExtension.
const (
	DefaultMinTimedDuration = 30 * time.Minute
	MinTimedExtension       = time.Hour
)

var ErrMissingDateData = errors.New("missing date data")

// Result is the render-ready view of one occurrence.
type Result struct {
	Occurrence model.Occurrence
	Start      time.Time
	End        time.Time
	AllDay     bool
	// Explicit is set when AllDay came from the record's own flag.
	Explicit bool
}

// StartKey is the YYYY-MM-DD key of Start.
func (r Result) StartKey() string { return datetime.DateOnlyKey(r.Start) }

// EndKey is the YYYY-MM-DD key of End (exclusive for all-day results).
func (r Result) EndKey() string { return datetime.DateOnlyKey(r.End) }

// Classifier holds the classification policy. The zero value is usable.
type Classifier struct {
	MinTimedDuration time.Duration
}

func (c Classifier) minTimed() time.Duration {
	if c.MinTimedDuration <= 0 {
		return DefaultMinTimedDuration
	}
	return c.MinTimedDuration
}

// Classify resolves occ into a Result. It never mutates occ.
func (c Classifier) Classify(occ model.Occurrence) (Result, error) {
	start, end := occ.Start, occ.End
	if start.IsZero() || end.IsZero() {
		var ok bool
		if start, end, ok = occ.Source.DisplayRange(); !ok {
			return Result{}, fmt.Errorf("classify %s: %w", occ.ID, ErrMissingDateData)
		}
	}
	start, end = start.UTC(), end.UTC()

	res := Result{Occurrence: occ}
	res.AllDay, res.Explicit = inferAllDay(occ.Source, end)

	if res.AllDay {
		start = datetime.StartOfDayUTC(start)
		end = datetime.CeilDayUTC(end)
		if !end.After(start) {
			end = start.Add(datetime.Day)
		}
	} else if end.Sub(start) < c.minTimed() {
		end = start.Add(MinTimedExtension)
	}

	res.Start, res.End = start, end
	return res, nil
}

// inferAllDay applies, in order: the explicit flag, the task-with-distinct-
// instants rule, then the spelling of the due date (or of the resolved end
// when there is no due date).
func inferAllDay(src model.DomainRecord, end time.Time) (allDay, explicit bool) {
	if src.AllDay != nil {
		return *src.AllDay, true
	}
	if src.Kind == model.KindTask && src.StartInstant.IsSet() && src.EndInstant.IsSet() &&
		!src.StartInstant.At.Equal(src.EndInstant.At) {
		return false, false
	}

	raw := ""
	if src.DueDate != nil {
		raw = src.DueDate.Raw
	}
	if raw == "" {
		raw = datetime.FormatISO(end)
	}
	return !datetime.HasTimeComponent(raw) || datetime.IsMidnightUTCSpelling(raw), false
}

// ClassifyAll classifies a batch. Occurrences without dates are skipped and
// logged; the rest of the batch is unaffected.
func (c Classifier) ClassifyAll(occs []model.Occurrence) ([]Result, []error) {
	out := make([]Result, 0, len(occs))
	var errs []error
	for _, occ := range occs {
		res, err := c.Classify(occ)
		if err != nil {
			appLog.Debug("classify: skipping occurrence", "id", occ.ID.String(), "err", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errs
}
