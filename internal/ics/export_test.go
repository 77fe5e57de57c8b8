package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"plancal/internal/classify"
	"plancal/internal/model"
	"plancal/internal/recur"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func val(raw string, at time.Time) *model.DateValue {
	return &model.DateValue{At: at, Raw: raw}
}

var stamp = utc(2024, 1, 1, 0, 0)

func gym() model.DomainRecord {
	return model.DomainRecord{
		ID:           "A",
		Title:        "Gym",
		Kind:         model.KindTask,
		ParentID:     "P",
		Status:       "in_progress",
		StartInstant: val("2024-01-01T09:00:00Z", utc(2024, 1, 1, 9, 0)),
		EndInstant:   val("2024-01-01T10:00:00Z", utc(2024, 1, 1, 10, 0)),
		Recurrence: &model.Recurrence{
			Frequency:  model.Weekly,
			Interval:   1,
			DaysOfWeek: []model.Weekday{model.Monday, model.Wednesday, model.Friday},
		},
	}
}

func parse(t *testing.T, feed string) []*ical.VEvent {
	t.Helper()
	cal, err := ical.ParseCalendar(strings.NewReader(feed))
	require.NoError(t, err)
	return cal.Events()
}

func prop(ev *ical.VEvent, p ical.ComponentProperty) string {
	if v := ev.GetProperty(p); v != nil {
		return v.Value
	}
	return ""
}

// expandRule replays an exported RRULE with rrule-go.
func expandRule(t *testing.T, rule string, anchor, from, to time.Time) []time.Time {
	t.Helper()
	opt, err := rrule.StrToROption(rule)
	require.NoError(t, err)
	opt.Dtstart = anchor
	r, err := rrule.NewRRule(*opt)
	require.NoError(t, err)
	return r.Between(from, to, true)
}

func starts(occs []model.Occurrence) []time.Time {
	out := make([]time.Time, len(occs))
	for i, o := range occs {
		out[i] = o.Start
	}
	return out
}

func TestExportSeriesTimed(t *testing.T) {
	feed, errs := ExportSeries([]model.DomainRecord{gym()}, Options{Name: "Planner", Stamp: stamp})
	require.Empty(t, errs)

	events := parse(t, feed)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "A@plancal", prop(ev, ical.ComponentPropertyUniqueId))
	assert.Equal(t, "Gym", prop(ev, ical.ComponentPropertySummary))
	assert.Equal(t, "20240101T090000Z", prop(ev, ical.ComponentPropertyDtStart))
	assert.Equal(t, "20240101T100000Z", prop(ev, ical.ComponentPropertyDtEnd))
	assert.Equal(t, "task", prop(ev, kindProp))
	assert.Equal(t, "P@plancal", prop(ev, relatedProp))

	rule := prop(ev, ical.ComponentPropertyRrule)
	assert.Contains(t, rule, "FREQ=WEEKLY")
	assert.Contains(t, rule, "BYDAY=MO,WE,FR")
}

func TestExportSeriesAllDay(t *testing.T) {
	allDay := true
	end := time.Date(2024, 1, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	rec := model.DomainRecord{
		ID:         "G",
		Title:      "Review",
		Kind:       model.KindSubGoal,
		StartDate:  val("2024-01-05", utc(2024, 1, 5, 0, 0)),
		DueDate:    val("2024-01-05", utc(2024, 1, 5, 0, 0)),
		AllDay:     &allDay,
		Recurrence: &model.Recurrence{Frequency: model.Daily, Interval: 2, EndDate: &end},
	}
	feed, errs := ExportSeries([]model.DomainRecord{rec}, Options{Stamp: stamp})
	require.Empty(t, errs)

	events := parse(t, feed)
	require.Len(t, events, 1)
	ev := events[0]
	start := ev.GetProperty(ical.ComponentPropertyDtStart)
	require.NotNil(t, start)
	assert.Equal(t, "20240105", start.Value)
	assert.Equal(t, []string{"DATE"}, start.ICalParameters["VALUE"])
	assert.Equal(t, "20240106", prop(ev, ical.ComponentPropertyDtEnd))

	rule := prop(ev, ical.ComponentPropertyRrule)
	assert.Contains(t, rule, "FREQ=DAILY")
	assert.Contains(t, rule, "INTERVAL=2")
	assert.Contains(t, rule, "UNTIL=20240131")
	assert.NotContains(t, rule, "UNTIL=20240131T")
}

func TestExportSeriesExcludesAnchorOutsideDaySet(t *testing.T) {
	rec := model.DomainRecord{
		ID: "S", Title: "Standup", Kind: model.KindTask,
		StartInstant: val("2024-01-07T09:00:00Z", utc(2024, 1, 7, 9, 0)),
		EndInstant:   val("2024-01-07T09:30:00Z", utc(2024, 1, 7, 9, 30)),
		Recurrence: &model.Recurrence{
			Frequency:  model.Weekly,
			Interval:   1,
			DaysOfWeek: []model.Weekday{model.Monday, model.Wednesday},
		},
	}
	allDay := true
	day := rec.Clone()
	day.ID = "D"
	day.StartInstant, day.EndInstant = nil, nil
	day.StartDate = val("2024-01-07", utc(2024, 1, 7, 0, 0))
	day.DueDate = val("2024-01-07", utc(2024, 1, 7, 0, 0))
	day.AllDay = &allDay

	feed, errs := ExportSeries([]model.DomainRecord{rec, day, gym()}, Options{Stamp: stamp})
	require.Empty(t, errs)
	events := parse(t, feed)
	require.Len(t, events, 3)

	assert.Equal(t, "20240107T090000Z", prop(events[0], ical.ComponentPropertyDtStart))
	assert.Equal(t, "20240107T090000Z", prop(events[0], ical.ComponentPropertyExdate))

	exdate := events[1].GetProperty(ical.ComponentPropertyExdate)
	require.NotNil(t, exdate)
	assert.Equal(t, "20240107", exdate.Value)
	assert.Equal(t, []string{"DATE"}, exdate.ICalParameters["VALUE"])

	// Monday anchor is part of its own day set.
	assert.Nil(t, events[2].GetProperty(ical.ComponentPropertyExdate))

	first := recur.Expand(rec, utc(2024, 1, 1, 0, 0), utc(2024, 1, 14, 0, 0))
	require.NotEmpty(t, first)
	assert.Equal(t, utc(2024, 1, 8, 9, 0), first[0].Start)
}

func TestExportSeriesSkipsUnclassifiable(t *testing.T) {
	recs := []model.DomainRecord{{ID: "empty", Kind: model.KindTask}, gym()}
	feed, errs := ExportSeries(recs, Options{Stamp: stamp})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], classify.ErrMissingDateData)
	assert.Len(t, parse(t, feed), 1)
}

func TestExportSeriesDropsRecordWithoutRule(t *testing.T) {
	odd := gym()
	odd.ID = "Y"
	odd.Recurrence = &model.Recurrence{Frequency: model.Frequency("yearly"), Interval: 1}

	feed, errs := ExportSeries([]model.DomainRecord{odd, gym()}, Options{Stamp: stamp})
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "unsupported frequency")

	events := parse(t, feed)
	require.Len(t, events, 1)
	assert.Equal(t, "A@plancal", prop(events[0], ical.ComponentPropertyUniqueId))
}

func TestRRuleMatchesExpansion(t *testing.T) {
	from, to := utc(2024, 1, 1, 0, 0), utc(2024, 12, 31, 23, 59)

	tests := []struct {
		name string
		rec  model.DomainRecord
	}{
		{"weekly day set", gym()},
		{"weekly every other week", model.DomainRecord{
			ID: "W", Kind: model.KindTask,
			StartInstant: val("2024-01-03T07:00:00Z", utc(2024, 1, 3, 7, 0)),
			EndInstant:   val("2024-01-03T08:00:00Z", utc(2024, 1, 3, 8, 0)),
			Recurrence:   &model.Recurrence{Frequency: model.Weekly, Interval: 2},
		}},
		{"monthly clamped to month end", model.DomainRecord{
			ID: "M", Kind: model.KindTask,
			StartInstant: val("2024-01-31T12:00:00Z", utc(2024, 1, 31, 12, 0)),
			EndInstant:   val("2024-01-31T13:00:00Z", utc(2024, 1, 31, 13, 0)),
			Recurrence:   &model.Recurrence{Frequency: model.Monthly, Interval: 1},
		}},
		{"monthly on the 30th every two months", model.DomainRecord{
			ID: "N", Kind: model.KindTask,
			StartInstant: val("2023-12-30T12:00:00Z", utc(2023, 12, 30, 12, 0)),
			EndInstant:   val("2023-12-30T13:00:00Z", utc(2023, 12, 30, 13, 0)),
			Recurrence:   &model.Recurrence{Frequency: model.Monthly, Interval: 2},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anchor := tt.rec.StartInstant.At
			rule, err := RRuleFor(tt.rec.Recurrence, anchor, false)
			require.NoError(t, err)

			want := starts(recur.Expand(tt.rec, from, to))
			got := expandRule(t, rule, anchor, from, to)
			require.NotEmpty(t, want)
			assert.Equal(t, want, got, rule)
		})
	}
}

func TestExportOccurrences(t *testing.T) {
	occs := recur.Expand(gym(), utc(2024, 1, 1, 0, 0), utc(2024, 1, 7, 0, 0))
	results, errs := classify.Classifier{}.ClassifyAll(occs)
	require.Empty(t, errs)

	events := parse(t, ExportOccurrences(results, Options{Stamp: stamp}))
	require.Len(t, events, 3)
	assert.Equal(t, "A_0@plancal", prop(events[0], ical.ComponentPropertyUniqueId))
	assert.Equal(t, "20240103T090000Z", prop(events[1], ical.ComponentPropertyDtStart))
	assert.Empty(t, prop(events[2], ical.ComponentPropertyRrule))
}
