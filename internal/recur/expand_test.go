package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"plancal/internal/model"
)

func day(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func dv(t time.Time) *model.DateValue {
	return &model.DateValue{At: t, Raw: t.Format(time.RFC3339)}
}

func timedTask(id string, start, end time.Time, rule *model.Recurrence) model.DomainRecord {
	return model.DomainRecord{
		ID:           id,
		Title:        id,
		Kind:         model.KindTask,
		ParentID:     "parent-" + id,
		StartInstant: dv(start),
		EndInstant:   dv(end),
		Recurrence:   rule,
	}
}

func starts(occs []model.Occurrence) []time.Time {
	out := make([]time.Time, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.Start)
	}
	return out
}

func TestExpandWeeklyMonWedFri(t *testing.T) {
	rec := timedTask("A", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), &model.Recurrence{
		Frequency:  model.Weekly,
		Interval:   1,
		DaysOfWeek: []model.Weekday{model.Monday, model.Wednesday, model.Friday},
	})

	occs := Expand(rec, day(2024, 1, 1, 0, 0), day(2024, 1, 14, 0, 0))
	require.Len(t, occs, 6)

	wantDays := []int{1, 3, 5, 8, 10, 12}
	wantIDs := []string{"A_0", "A_1", "A_2", "A_3", "A_4", "A_5"}
	for i, o := range occs {
		assert.Equal(t, day(2024, 1, wantDays[i], 9, 0), o.Start)
		assert.Equal(t, time.Hour, o.End.Sub(o.Start))
		assert.Equal(t, wantIDs[i], o.ID.String())
		assert.Equal(t, "A", o.ID.OriginalID)
		assert.True(t, o.RecurringInstance)
		assert.Equal(t, "parent-A", o.Source.ParentID)
	}
}

func TestExpandWeeklyDayFilterOverTwoWeeks(t *testing.T) {
	// Anchor on a Sunday so the filter, not the anchor, decides what shows up.
	rec := timedTask("W", day(2023, 12, 31, 7, 0), day(2023, 12, 31, 7, 30), &model.Recurrence{
		Frequency:  model.Weekly,
		Interval:   1,
		DaysOfWeek: []model.Weekday{model.Monday, model.Wednesday, model.Friday},
	})

	occs := Expand(rec, day(2024, 1, 1, 0, 0), day(2024, 1, 14, 23, 59))
	require.Len(t, occs, 6)
	for _, o := range occs {
		wd := o.Start.Weekday()
		assert.Contains(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, wd)
	}
}

func TestExpandWithoutRecurrenceReturnsOriginal(t *testing.T) {
	rec := timedTask("N", day(2030, 1, 1, 9, 0), day(2030, 1, 1, 10, 0), nil)

	occs := Expand(rec, day(2024, 1, 1, 0, 0), day(2024, 1, 7, 0, 0))
	require.Len(t, occs, 1)
	assert.Equal(t, "N", occs[0].ID.String())
	assert.False(t, occs[0].RecurringInstance)
	assert.Equal(t, day(2030, 1, 1, 9, 0), occs[0].Start)
}

func TestExpandMissingDatesFailsOpen(t *testing.T) {
	rec := model.DomainRecord{
		ID:         "M",
		Kind:       model.KindMainGoal,
		StartDate:  dv(day(2024, 1, 1, 0, 0)),
		Recurrence: &model.Recurrence{Frequency: model.Daily, Interval: 1},
	}
	res := ExpandWithOptions(rec, day(2024, 1, 1, 0, 0), day(2024, 1, 31, 0, 0), Options{})
	require.Len(t, res.Occurrences, 1)
	assert.True(t, res.Unexpanded)
	assert.Equal(t, "M", res.Occurrences[0].ID.String())
	assert.False(t, res.Occurrences[0].RecurringInstance)
}

func TestExpandIsIdempotent(t *testing.T) {
	rec := timedTask("I", day(2024, 1, 3, 14, 0), day(2024, 1, 3, 15, 30), &model.Recurrence{
		Frequency: model.Daily,
		Interval:  2,
	})
	w0, w1 := day(2024, 1, 1, 0, 0), day(2024, 2, 1, 0, 0)
	assert.Equal(t, Expand(rec, w0, w1), Expand(rec, w0, w1))
}

func TestExpandPreservesDurationAndWindow(t *testing.T) {
	end := day(2024, 3, 20, 23, 59)
	rules := map[string]*model.Recurrence{
		"daily":          {Frequency: model.Daily, Interval: 1},
		"daily-3":        {Frequency: model.Daily, Interval: 3},
		"weekly":         {Frequency: model.Weekly, Interval: 1},
		"weekly-2":       {Frequency: model.Weekly, Interval: 2},
		"weekly-days":    {Frequency: model.Weekly, Interval: 1, DaysOfWeek: []model.Weekday{model.Tuesday, model.Saturday}},
		"monthly":        {Frequency: model.Monthly, Interval: 1},
		"daily-end-date": {Frequency: model.Daily, Interval: 1, EndDate: &end},
	}
	baseStart, baseEnd := day(2024, 1, 5, 8, 15), day(2024, 1, 6, 9, 45)
	w0, w1 := day(2024, 2, 1, 0, 0), day(2024, 4, 30, 0, 0)

	for name, rule := range rules {
		t.Run(name, func(t *testing.T) {
			rec := timedTask("D", baseStart, baseEnd, rule)
			occs := Expand(rec, w0, w1)
			require.NotEmpty(t, occs)

			iterEnd := w1
			if rule.EndDate != nil && rule.EndDate.Before(iterEnd) {
				iterEnd = *rule.EndDate
			}
			for i, o := range occs {
				assert.Equal(t, baseEnd.Sub(baseStart), o.End.Sub(o.Start))
				assert.False(t, o.Start.Before(w0), "%s before window", o.Start)
				assert.False(t, o.Start.After(iterEnd), "%s after window", o.Start)
				assert.Equal(t, i, o.ID.Seq)
				if i > 0 {
					assert.True(t, o.Start.After(occs[i-1].Start))
				}
			}
		})
	}
}

func TestExpandMatchesRRuleForFixedSteps(t *testing.T) {
	anchor := day(2021, 6, 15, 6, 30)
	w0, w1 := day(2024, 2, 10, 0, 0), day(2024, 3, 10, 0, 0)

	tests := []struct {
		name string
		rule model.Recurrence
		opt  rrule.ROption
	}{
		{
			name: "daily every 3",
			rule: model.Recurrence{Frequency: model.Daily, Interval: 3},
			opt:  rrule.ROption{Freq: rrule.DAILY, Interval: 3},
		},
		{
			name: "weekly every 2",
			rule: model.Recurrence{Frequency: model.Weekly, Interval: 2},
			opt:  rrule.ROption{Freq: rrule.WEEKLY, Interval: 2},
		},
		{
			name: "weekly on days",
			rule: model.Recurrence{Frequency: model.Weekly, Interval: 1, DaysOfWeek: []model.Weekday{model.Tuesday, model.Thursday, model.Sunday}},
			opt:  rrule.ROption{Freq: rrule.WEEKLY, Interval: 1, Byweekday: []rrule.Weekday{rrule.TU, rrule.TH, rrule.SU}},
		},
		{
			name: "monthly on the 15th",
			rule: model.Recurrence{Frequency: model.Monthly, Interval: 1},
			opt:  rrule.ROption{Freq: rrule.MONTHLY, Interval: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			rec := timedTask("R", anchor, anchor.Add(45*time.Minute), &rule)

			tt.opt.Dtstart = anchor
			r, err := rrule.NewRRule(tt.opt)
			require.NoError(t, err)

			want := r.Between(w0, w1, true)
			require.NotEmpty(t, want)
			got := starts(Expand(rec, w0, w1))
			require.Len(t, got, len(want))
			for i := range want {
				assert.True(t, want[i].Equal(got[i]), "occurrence %d: got %v want %v", i, got[i], want[i])
			}
		})
	}
}

func TestExpandWeeklyAnchorsPhaseToOriginalStart(t *testing.T) {
	// Every other Wednesday from 2024-01-03; a window starting on the
	// "off" Wednesday must skip it.
	rec := timedTask("P", day(2024, 1, 3, 12, 0), day(2024, 1, 3, 13, 0), &model.Recurrence{
		Frequency: model.Weekly,
		Interval:  2,
	})
	got := starts(Expand(rec, day(2024, 1, 10, 0, 0), day(2024, 2, 1, 0, 0)))
	assert.Equal(t, []time.Time{day(2024, 1, 17, 12, 0), day(2024, 1, 31, 12, 0)}, got)
}

func TestExpandMonthlyClampsShortMonths(t *testing.T) {
	rec := timedTask("E", day(2024, 1, 31, 18, 0), day(2024, 1, 31, 19, 0), &model.Recurrence{
		Frequency: model.Monthly,
		Interval:  1,
	})
	got := starts(Expand(rec, day(2024, 1, 1, 0, 0), day(2024, 5, 31, 23, 0)))
	assert.Equal(t, []time.Time{
		day(2024, 1, 31, 18, 0),
		day(2024, 2, 29, 18, 0),
		day(2024, 3, 31, 18, 0),
		day(2024, 4, 30, 18, 0),
		day(2024, 5, 31, 18, 0),
	}, got)
}

func TestExpandMonthlyFarFromAnchor(t *testing.T) {
	rec := timedTask("F", day(2020, 1, 31, 8, 0), day(2020, 1, 31, 9, 0), &model.Recurrence{
		Frequency: model.Monthly,
		Interval:  1,
	})
	occs := Expand(rec, day(2024, 3, 1, 0, 0), day(2024, 5, 31, 23, 0))
	require.Len(t, occs, 3)
	assert.Equal(t, []time.Time{day(2024, 3, 31, 8, 0), day(2024, 4, 30, 8, 0), day(2024, 5, 31, 8, 0)}, starts(occs))
	assert.Equal(t, "F_0", occs[0].ID.String())
}

func TestExpandEndDateIsInclusive(t *testing.T) {
	endOfJan3 := time.Date(2024, 1, 3, 23, 59, 59, 999000000, time.UTC)
	rec := timedTask("U", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), &model.Recurrence{
		Frequency: model.Daily,
		Interval:  1,
		EndDate:   &endOfJan3,
	})
	got := starts(Expand(rec, day(2024, 1, 1, 0, 0), day(2024, 1, 31, 0, 0)))
	assert.Equal(t, []time.Time{day(2024, 1, 1, 9, 0), day(2024, 1, 2, 9, 0), day(2024, 1, 3, 9, 0)}, got)
}

func TestExpandIncludesCandidateAtWindowEnd(t *testing.T) {
	rec := timedTask("C", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), &model.Recurrence{
		Frequency: model.Daily,
		Interval:  1,
	})
	got := starts(Expand(rec, day(2024, 1, 2, 9, 0), day(2024, 1, 3, 9, 0)))
	assert.Equal(t, []time.Time{day(2024, 1, 2, 9, 0), day(2024, 1, 3, 9, 0)}, got)
}

func TestExpandFallsBackToAnchor(t *testing.T) {
	// Anchor on a Tuesday, rule only allows Mondays, window ends before
	// the next Monday.
	rec := timedTask("T", day(2024, 1, 2, 9, 0), day(2024, 1, 2, 10, 0), &model.Recurrence{
		Frequency:  model.Weekly,
		Interval:   1,
		DaysOfWeek: []model.Weekday{model.Monday},
	})
	occs := Expand(rec, day(2024, 1, 1, 0, 0), day(2024, 1, 7, 23, 0))
	require.Len(t, occs, 1)
	assert.Equal(t, "T", occs[0].ID.String())
	assert.False(t, occs[0].RecurringInstance)
	assert.Equal(t, day(2024, 1, 2, 9, 0), occs[0].Start)
}

func TestExpandEmptyWindows(t *testing.T) {
	rec := timedTask("Z", day(2024, 6, 1, 9, 0), day(2024, 6, 1, 10, 0), &model.Recurrence{
		Frequency: model.Daily,
		Interval:  1,
	})
	assert.Empty(t, Expand(rec, day(2024, 1, 1, 0, 0), day(2024, 2, 1, 0, 0)), "window before anchor")
	assert.Empty(t, Expand(rec, day(2024, 7, 2, 0, 0), day(2024, 7, 1, 0, 0)), "inverted window")
}

func TestExpandCapTruncates(t *testing.T) {
	rec := timedTask("X", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), &model.Recurrence{
		Frequency: model.Daily,
		Interval:  1,
	})
	res := ExpandWithOptions(rec, day(2024, 1, 1, 0, 0), day(2024, 1, 10, 0, 0), Options{MaxOccurrences: 3})
	assert.True(t, res.Truncated)
	assert.Len(t, res.Occurrences, 3)
}

func TestExpandProjectsDateFields(t *testing.T) {
	goal := model.DomainRecord{
		ID:         "G",
		Kind:       model.KindSubGoal,
		StartDate:  &model.DateValue{At: day(2024, 1, 1, 0, 0), Raw: "2024-01-01"},
		DueDate:    &model.DateValue{At: day(2024, 1, 1, 0, 0), Raw: "2024-01-01"},
		Recurrence: &model.Recurrence{Frequency: model.Daily, Interval: 1},
	}
	occs := Expand(goal, day(2024, 1, 2, 0, 0), day(2024, 1, 2, 0, 0))
	require.Len(t, occs, 1)
	src := occs[0].Source
	assert.Nil(t, src.StartInstant)
	assert.Nil(t, src.EndInstant)
	assert.Equal(t, "2024-01-02T00:00:00.000Z", src.StartDate.Raw)
	assert.Equal(t, "2024-01-02T00:00:00.000Z", src.DueDate.Raw)
	// The input record is untouched.
	assert.Equal(t, "2024-01-01", goal.DueDate.Raw)
}

func TestExpandAllIsolatesRecords(t *testing.T) {
	records := []model.DomainRecord{
		timedTask("ok", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), &model.Recurrence{Frequency: model.Daily, Interval: 1}),
		{ID: "nodates", Kind: model.KindTask, Recurrence: &model.Recurrence{Frequency: model.Daily, Interval: 1}},
		timedTask("single", day(2024, 1, 2, 9, 0), day(2024, 1, 2, 10, 0), nil),
	}
	res := ExpandAll(records, day(2024, 1, 1, 0, 0), day(2024, 1, 3, 0, 0), Options{MaxOccurrences: 1})

	ids := make([]string, 0, len(res.Occurrences))
	for _, o := range res.Occurrences {
		ids = append(ids, o.ID.String())
	}
	assert.Equal(t, []string{"ok_0", "nodates", "single"}, ids)
	assert.Equal(t, []string{"ok"}, res.Truncated)
	assert.Equal(t, []string{"nodates"}, res.Unexpanded)
}
