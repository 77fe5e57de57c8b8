// Package ics renders records and occurrences as an iCalendar feed.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"plancal/internal/classify"
	"plancal/internal/datetime"
	"plancal/internal/model"
)

const (
	productID   = "-//plancal//objectives//EN"
	uidDomain   = "plancal"
	kindProp    = ical.ComponentProperty("X-PLANCAL-KIND")
	statusProp  = ical.ComponentProperty("X-PLANCAL-STATUS")
	relatedProp = ical.ComponentProperty("RELATED-TO")
)

// Options configures a feed.
type Options struct {
	// Name becomes X-WR-CALNAME when set.
	Name string
	// Stamp is DTSTAMP for every event; zero means time.Now.
	Stamp      time.Time
	Classifier classify.Classifier
}

func (o Options) stamp() time.Time {
	if o.Stamp.IsZero() {
		return time.Now().UTC()
	}
	return o.Stamp.UTC()
}

func newCalendar(opts Options) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	return cal
}

// ExportSeries writes one VEVENT per record. Recurring records carry an
// RRULE so clients expand them on their own. Records that cannot be
// classified are skipped and reported.
func ExportSeries(records []model.DomainRecord, opts Options) (string, []error) {
	cal := newCalendar(opts)
	stamp := opts.stamp()
	var errs []error

	for _, rec := range records {
		occ, _ := model.OriginalOccurrence(rec)
		res, err := opts.Classifier.Classify(occ)
		if err != nil {
			errs = append(errs, fmt.Errorf("export %s: %w", rec.ID, err))
			continue
		}
		var rule string
		if rec.Recurrence != nil {
			if rule, err = RRuleFor(rec.Recurrence, res.Start, res.AllDay); err != nil {
				errs = append(errs, fmt.Errorf("export %s: %w", rec.ID, err))
				continue
			}
		}
		ev := addEvent(cal, rec.ID, rec, res, stamp)
		if rule == "" {
			continue
		}
		ev.AddRrule(rule)
		if anchorOffRule(rec.Recurrence, res.Start) {
			addAnchorExdate(ev, res)
		}
	}
	return cal.Serialize(), errs
}

// anchorOffRule reports whether a weekly day set skips the anchor's own
// weekday. DTSTART always counts as an instance, so such series need the
// anchor excluded.
func anchorOffRule(rule *model.Recurrence, anchor time.Time) bool {
	if rule.Frequency != model.Weekly || len(rule.DaysOfWeek) == 0 {
		return false
	}
	return !rule.HasDay(model.Weekday(datetime.MondayIndex(anchor)))
}

func addAnchorExdate(ev *ical.VEvent, res classify.Result) {
	if res.AllDay {
		ev.AddProperty(ical.ComponentPropertyExdate, res.Start.UTC().Format("20060102"), ical.WithValue(string(ical.ValueDataTypeDate)))
		return
	}
	ev.AddProperty(ical.ComponentPropertyExdate, res.Start.UTC().Format("20060102T150405Z"))
}

// ExportOccurrences writes one VEVENT per classified occurrence, with no
// recurrence rules.
func ExportOccurrences(results []classify.Result, opts Options) string {
	cal := newCalendar(opts)
	stamp := opts.stamp()
	for _, r := range results {
		addEvent(cal, r.Occurrence.ID.String(), r.Occurrence.Source, r, stamp)
	}
	return cal.Serialize()
}

func addEvent(cal *ical.Calendar, id string, rec model.DomainRecord, res classify.Result, stamp time.Time) *ical.VEvent {
	ev := cal.AddEvent(id + "@" + uidDomain)
	ev.SetDtStampTime(stamp)
	if res.AllDay {
		// DTEND is exclusive, which matches the snapped all-day end.
		ev.SetAllDayStartAt(res.Start)
		ev.SetAllDayEndAt(res.End)
	} else {
		ev.SetStartAt(res.Start.UTC())
		ev.SetEndAt(res.End.UTC())
	}
	if rec.Title != "" {
		ev.SetSummary(rec.Title)
	}
	ev.SetProperty(kindProp, string(rec.Kind))
	if rec.Status != "" {
		ev.SetProperty(statusProp, rec.Status)
	}
	if rec.ParentID != "" {
		ev.SetProperty(relatedProp, rec.ParentID+"@"+uidDomain)
	}
	return ev
}

var rruleWeekdays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// RRuleFor renders rule as RRULE text (without the "RRULE:" prefix)
// describing the same candidates the expander walks from anchor. A weekly
// anchor outside its own day set still needs an EXDATE next to the rule:
//
//   - Weekly rules with a day set visit every listed day, so no INTERVAL.
//   - Monthly rules anchored after the 28th clamp to the month's last day,
//     spelled as BYMONTHDAY=28..d with BYSETPOS=-1.
//   - An end date becomes UNTIL, as a DATE for all-day series.
func RRuleFor(rule *model.Recurrence, anchor time.Time, allDay bool) (string, error) {
	if rule == nil {
		return "", fmt.Errorf("no recurrence rule")
	}
	opt := rrule.ROption{Interval: rule.Interval}
	if opt.Interval <= 0 {
		opt.Interval = 1
	}

	switch rule.Frequency {
	case model.Daily:
		opt.Freq = rrule.DAILY
	case model.Weekly:
		opt.Freq = rrule.WEEKLY
		if len(rule.DaysOfWeek) > 0 {
			opt.Interval = 1
			for _, d := range rule.DaysOfWeek {
				opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
			}
		}
	case model.Monthly:
		opt.Freq = rrule.MONTHLY
		if day := anchor.UTC().Day(); day > 28 {
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	default:
		return "", fmt.Errorf("unsupported frequency %q", rule.Frequency)
	}

	if rule.EndDate != nil && !allDay {
		opt.Until = rule.EndDate.UTC()
	}
	s := opt.RRuleString()
	if rule.EndDate != nil && allDay {
		s += ";UNTIL=" + strings.ReplaceAll(datetime.DateOnlyKey(*rule.EndDate), "-", "")
	}
	return s, nil
}
