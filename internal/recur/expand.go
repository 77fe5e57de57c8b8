package recur

import (
	"errors"
	"time"

	"plancal/internal/datetime"
	appLog "plancal/internal/log"
	"plancal/internal/model"
)

const (
	defaultMaxOccurrences = 5000
)

// Options tunes expansion.
type Options struct {
	// MaxOccurrences caps the occurrences produced for a single record. If
	// zero, defaultMaxOccurrences is used.
	MaxOccurrences int
}

func (o Options) maxOccurrences() int {
	if o.MaxOccurrences <= 0 {
		return defaultMaxOccurrences
	}
	return o.MaxOccurrences
}

// Result is the expansion of one record.
type Result struct {
	Occurrences []model.Occurrence
	// Truncated is set when MaxOccurrences stopped the walk early.
	Truncated bool
	// Unexpanded is set when a recurring record had no resolvable
	// start/end pair and was passed through as-is.
	Unexpanded bool
}

// Expand enumerates the occurrences of rec inside [windowStart, windowEnd]
// with default options.
func Expand(rec model.DomainRecord, windowStart, windowEnd time.Time) []model.Occurrence {
	return ExpandWithOptions(rec, windowStart, windowEnd, Options{}).Occurrences
}

// ExpandWithOptions enumerates the occurrences of rec:
//
//   - A record without a recurrence rule comes back as its single original
//     occurrence, whatever the window.
//   - A recurring record without a resolvable start/end pair also comes back
//     unexpanded (fail-open).
//   - Otherwise candidates are walked from the anchor (the record's own
//     start) and every candidate inside the closed interval
//     [max(windowStart, anchor), min(windowEnd, endDate)] is emitted with the
//     anchor's duration. IDs are "<id>_<n>" with n counting emitted
//     occurrences.
//   - If nothing was emitted but the anchor itself is inside that interval,
//     the original record is emitted instead.
//
// The output is ordered by start and depends only on the arguments.
func ExpandWithOptions(rec model.DomainRecord, windowStart, windowEnd time.Time, opts Options) Result {
	if rec.Recurrence == nil {
		occ, _ := model.OriginalOccurrence(rec)
		return Result{Occurrences: []model.Occurrence{occ}}
	}

	baseStart, baseEnd, ok := rec.BaseRange()
	if !ok {
		occ, _ := model.OriginalOccurrence(rec)
		return Result{Occurrences: []model.Occurrence{occ}, Unexpanded: true}
	}
	baseStart, baseEnd = baseStart.UTC(), baseEnd.UTC()
	duration := baseEnd.Sub(baseStart)
	rule := rec.Recurrence

	iterStart := windowStart.UTC()
	if baseStart.After(iterStart) {
		iterStart = baseStart
	}
	iterEnd := windowEnd.UTC()
	if rule.EndDate != nil && rule.EndDate.Before(iterEnd) {
		iterEnd = rule.EndDate.UTC()
	}

	var (
		res   Result
		limit = opts.maxOccurrences()
		seq   = 0
	)

	current, step := fastForward(rule, baseStart, iterStart)
	for !current.After(iterEnd) {
		if !current.Before(iterStart) && matches(rule, current) {
			if len(res.Occurrences) >= limit {
				res.Truncated = true
				break
			}
			res.Occurrences = append(res.Occurrences, project(rec, current, duration, seq))
			seq++
		}
		step++
		current = next(rule, baseStart, current, step)
	}

	if len(res.Occurrences) == 0 && !baseStart.Before(iterStart) && !baseStart.After(iterEnd) {
		occ, _ := model.OriginalOccurrence(rec)
		res.Occurrences = append(res.Occurrences, occ)
	}
	return res
}

// matches applies the weekday filter of weekly rules with a day set.
func matches(rule *model.Recurrence, t time.Time) bool {
	if rule.Frequency == model.Weekly && len(rule.DaysOfWeek) > 0 {
		return rule.HasDay(model.Weekday(datetime.MondayIndex(t)))
	}
	return true
}

// next returns the candidate following current. step counts candidates from
// the anchor; monthly rules use it so the day of month never drifts.
func next(rule *model.Recurrence, anchor, current time.Time, step int) time.Time {
	switch rule.Frequency {
	case model.Daily:
		return current.AddDate(0, 0, rule.Interval)
	case model.Weekly:
		if len(rule.DaysOfWeek) == 0 {
			return current.AddDate(0, 0, 7*rule.Interval)
		}
		for i := 1; i <= 7; i++ {
			cand := current.AddDate(0, 0, i)
			if rule.HasDay(model.Weekday(datetime.MondayIndex(cand))) {
				return cand
			}
		}
		return current.AddDate(0, 0, 7*rule.Interval)
	case model.Monthly:
		return datetime.AddMonthsClamped(anchor, step*rule.Interval)
	default:
		// Validation rejects other frequencies; stop the walk.
		return time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	}
}

// fastForward skips whole periods that end before iterStart. The returned
// candidate is on the anchor's phase and never after iterStart, so the walk
// visits exactly the candidates it would have visited from the anchor.
func fastForward(rule *model.Recurrence, anchor, iterStart time.Time) (time.Time, int) {
	if !iterStart.After(anchor) {
		return anchor, 0
	}
	days := int(iterStart.Sub(anchor) / datetime.Day)

	switch rule.Frequency {
	case model.Daily:
		n := days / rule.Interval
		return anchor.AddDate(0, 0, n*rule.Interval), n
	case model.Weekly:
		period := 7 * rule.Interval
		if len(rule.DaysOfWeek) > 0 {
			// Day-set rules visit every matching day regardless of interval.
			period = 7
		}
		n := days / period
		return anchor.AddDate(0, 0, n*period), n
	case model.Monthly:
		ay, am, _ := anchor.Date()
		iy, im, _ := iterStart.Date()
		months := (iy-ay)*12 + int(im-am)
		n := months/rule.Interval - 1
		if n <= 0 {
			return anchor, 0
		}
		return datetime.AddMonthsClamped(anchor, n*rule.Interval), n
	}
	return anchor, 0
}

// project materializes the candidate at start as a recurring instance. The
// copied record's date fields carry the projected instants, and the time
// fields are only set when the source had them.
func project(rec model.DomainRecord, start time.Time, duration time.Duration, seq int) model.Occurrence {
	end := start.Add(duration)
	src := rec.Clone()

	startVal := &model.DateValue{At: start, Raw: datetime.FormatISO(start)}
	endVal := &model.DateValue{At: end, Raw: datetime.FormatISO(end)}
	if src.StartInstant != nil {
		v := *startVal
		src.StartInstant = &v
	}
	if src.EndInstant != nil {
		v := *endVal
		src.EndInstant = &v
	}
	src.StartDate = startVal
	src.DueDate = endVal

	return model.Occurrence{
		ID:                model.OccurrenceID{OriginalID: rec.ID, Seq: seq, Expanded: true},
		Source:            src,
		RecurringInstance: true,
		Start:             start,
		End:               end,
	}
}

// BatchResult is the expansion of many records.
type BatchResult struct {
	Occurrences []model.Occurrence
	// Truncated lists record IDs that hit the occurrence cap.
	Truncated []string
	// Unexpanded lists recurring record IDs passed through for lack of dates.
	Unexpanded []string
}

// ExpandAll expands every record over the same window. Records are
// independent: one record's problems never affect the others.
func ExpandAll(records []model.DomainRecord, windowStart, windowEnd time.Time, opts Options) BatchResult {
	var out BatchResult
	out.Occurrences = make([]model.Occurrence, 0, len(records))

	for _, rec := range records {
		res := ExpandWithOptions(rec, windowStart, windowEnd, opts)
		out.Occurrences = append(out.Occurrences, res.Occurrences...)

		if res.Truncated {
			out.Truncated = append(out.Truncated, rec.ID)
			appLog.Error("expand: truncated occurrences for record due to cap",
				errors.New("max occurrences reached"),
				"id", rec.ID,
				"cap", opts.maxOccurrences(),
			)
		}
		if res.Unexpanded {
			out.Unexpanded = append(out.Unexpanded, rec.ID)
			appLog.Debug("expand: recurring record has no start/end pair; passing through", "id", rec.ID)
		}
	}
	return out
}
