package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"plancal/internal/classify"
	"plancal/internal/datetime"
	"plancal/internal/ics"
	"plancal/internal/layout"
	appLog "plancal/internal/log"
	"plancal/internal/model"
	"plancal/internal/recur"
	"plancal/internal/refresh"
	"plancal/internal/reschedule"
)

// OccurrenceDTO is the JSON view of one classified occurrence.
type OccurrenceDTO struct {
	ID                string    `json:"id"`
	OriginalID        string    `json:"original_id"`
	RecurringInstance bool      `json:"recurring_instance"`
	Title             string    `json:"title"`
	ObjectiveType     string    `json:"objective_type"`
	Status            string    `json:"status,omitempty"`
	ParentID          string    `json:"parent_id,omitempty"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	AllDay            bool      `json:"all_day"`

	// Date keys are set for all-day items only; End is exclusive.
	StartDateKey string `json:"start_date_key,omitempty"`
	EndDateKey   string `json:"end_date_key,omitempty"`
}

func NewOccurrenceDTO(r classify.Result) OccurrenceDTO {
	src := r.Occurrence.Source
	dto := OccurrenceDTO{
		ID:                r.Occurrence.ID.String(),
		OriginalID:        r.Occurrence.ID.OriginalID,
		RecurringInstance: r.Occurrence.RecurringInstance,
		Title:             src.Title,
		ObjectiveType:     string(src.Kind),
		Status:            src.Status,
		ParentID:          src.ParentID,
		Start:             r.Start.UTC(),
		End:               r.End.UTC(),
		AllDay:            r.AllDay,
	}
	if r.AllDay {
		dto.StartDateKey = r.StartKey()
		dto.EndDateKey = r.EndKey()
	}
	return dto
}

// Classified expands and classifies records over [start, end] and keeps the
// results that overlap it, ordered by start then id.
func Classified(records []model.DomainRecord, start, end time.Time, c classify.Classifier, opts recur.Options) ([]classify.Result, recur.BatchResult, []error) {
	batch := recur.ExpandAll(records, start, end, opts)
	all, errs := c.ClassifyAll(batch.Occurrences)
	// Non-recurring records come back whatever the window.
	results := all[:0]
	for _, r := range all {
		if !r.Start.After(end) && r.End.After(start) {
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].Start.Equal(results[j].Start) {
			return results[i].Start.Before(results[j].Start)
		}
		return results[i].Occurrence.ID.String() < results[j].Occurrence.ID.String()
	})
	return results, batch, errs
}

func (s *Server) classified(snap refresh.Snapshot, start, end time.Time) ([]classify.Result, recur.BatchResult) {
	results, batch, errs := Classified(snap.Records, start, end, s.classifier, s.expandOpts)
	s.metrics.ObserveExpansion(len(batch.Occurrences), len(batch.Truncated), len(batch.Unexpanded))
	s.metrics.AddClassifyErrors(len(errs))
	return results, batch
}

type occurrencesResponse struct {
	View          string          `json:"view"`
	RangeStart    time.Time       `json:"range_start"`
	RangeEnd      time.Time       `json:"range_end"`
	Timezone      string          `json:"timezone"`
	WeekStart     string          `json:"week_start"`
	Version       uint64          `json:"version"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Occurrences   []OccurrenceDTO `json:"occurrences"`
	TruncatedIDs  []string        `json:"truncated_ids,omitempty"`
	UnexpandedIDs []string        `json:"unexpanded_ids,omitempty"`
}

// handleOccurrences returns classified occurrences for a calendar view.
//
// GET /api/occurrences?view=day|week|month|agenda&date=YYYY-MM-DD
//   - view: defaults to week
//   - date: anchor day in the configured timezone, defaults to today
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := layout.ParseView(q.Get("view"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loc := s.cfg.Location()
	anchor, err := s.parseDay(q.Get("date"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start, end := layout.Window(view, anchor, loc, s.cfg.FirstWeekday(), s.cfg.Calendar.AgendaDays)
	snap := s.store.Current()
	key := fmt.Sprintf("occ|%s|%d|%d|v%d", view, start.UnixMilli(), end.UnixMilli(), snap.Version)

	s.cached(w, key, func() ([]byte, string, error) {
		results, batch := s.classified(snap, start, end)
		dtos := make([]OccurrenceDTO, 0, len(results))
		for _, res := range results {
			dtos = append(dtos, NewOccurrenceDTO(res))
		}
		return marshalJSON(occurrencesResponse{
			View:          string(view),
			RangeStart:    start,
			RangeEnd:      end,
			Timezone:      loc.String(),
			WeekStart:     s.cfg.WeekStart,
			Version:       snap.Version,
			UpdatedAt:     snap.UpdatedAt,
			Occurrences:   dtos,
			TruncatedIDs:  batch.Truncated,
			UnexpandedIDs: batch.Unexpanded,
		})
	})
}

type ganttItemDTO struct {
	ID                string     `json:"id"`
	RecurringInstance bool       `json:"recurring_instance"`
	Start             time.Time  `json:"start"`
	End               time.Time  `json:"end"`
	AllDay            bool       `json:"all_day"`
	Bar               layout.Bar `json:"bar"`
}

type ganttRowDTO struct {
	OriginalID    string         `json:"original_id"`
	Title         string         `json:"title"`
	ObjectiveType string         `json:"objective_type"`
	ParentID      string         `json:"parent_id,omitempty"`
	Items         []ganttItemDTO `json:"items"`
}

type ganttResponse struct {
	Month      string        `json:"month"`
	MonthStart time.Time     `json:"month_start"`
	Days       int           `json:"days"`
	Version    uint64        `json:"version"`
	Rows       []ganttRowDTO `json:"rows"`
}

// handleGantt returns one row per original record with a bar per
// occurrence, positioned in day units from the first of the month.
//
// GET /api/gantt?month=YYYY-MM
func (s *Server) handleGantt(w http.ResponseWriter, r *http.Request) {
	loc := s.cfg.Location()
	anchor := s.clock.Now().In(loc)
	if m := strings.TrimSpace(r.URL.Query().Get("month")); m != "" {
		t, err := time.ParseInLocation("2006-01", m, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		anchor = t
	}

	monthStart, days := layout.Month(anchor, loc)
	end := monthStart.AddDate(0, 0, days).Add(-time.Millisecond)
	snap := s.store.Current()
	key := fmt.Sprintf("gantt|%d|%s|v%d", monthStart.UnixMilli(), loc, snap.Version)

	s.cached(w, key, func() ([]byte, string, error) {
		results, _ := s.classified(snap, monthStart, end)
		rows := layout.GanttRows(results, monthStart, days)
		out := ganttResponse{
			Month:      monthStart.Format("2006-01"),
			MonthStart: monthStart,
			Days:       days,
			Version:    snap.Version,
			Rows:       make([]ganttRowDTO, 0, len(rows)),
		}
		for _, row := range rows {
			dto := ganttRowDTO{
				OriginalID:    row.OriginalID,
				Title:         row.Title,
				ObjectiveType: row.Kind,
				ParentID:      row.ParentID,
				Items:         make([]ganttItemDTO, 0, len(row.Items)),
			}
			for _, it := range row.Items {
				dto.Items = append(dto.Items, ganttItemDTO{
					ID:                it.OccurrenceID,
					RecurringInstance: it.RecurringInstance,
					Start:             it.Start.UTC(),
					End:               it.End.UTC(),
					AllDay:            it.AllDay,
					Bar:               it.Bar,
				})
			}
			out.Rows = append(out.Rows, dto)
		}
		return marshalJSON(out)
	})
}

type rescheduleRequest struct {
	OccurrenceID string `json:"occurrence_id"`
	Start        string `json:"start"`
	End          string `json:"end,omitempty"`
	AllDay       bool   `json:"all_day"`
}

type rescheduleResponse struct {
	Op       string            `json:"op"`
	TargetID string            `json:"target_id,omitempty"`
	Fields   reschedule.Fields `json:"fields"`
	Result   *model.Objective  `json:"result,omitempty"`
}

// handleReschedule applies a drop or resize reported by the calendar.
// Editing an instance of a series creates a detached record; everything
// else updates the original in place.
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		writeError(w, http.StatusServiceUnavailable, "reschedule is not configured")
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := s.materialize(req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	res, err := s.writer.Apply(r.Context(), p)
	s.metrics.ObserveReschedule(p.Op.String(), err)
	if err != nil {
		appLog.Error("reschedule upstream write failed", err, "occurrence_id", req.OccurrenceID, "op", p.Op.String())
		writeError(w, statusFor(err), "upstream write failed")
		return
	}
	appLog.Info("rescheduled", "occurrence_id", req.OccurrenceID, "op", p.Op.String(), "start", datetime.FormatISO(p.Start), "end", datetime.FormatISO(p.End))

	s.cache.Purge()
	if s.refresher != nil {
		if _, err := s.refresher.Refresh(r.Context()); err != nil {
			appLog.Warn("refresh after reschedule failed", "err", err.Error())
		}
	}

	writeJSON(w, http.StatusOK, rescheduleResponse{
		Op:       p.Op.String(),
		TargetID: p.TargetID,
		Fields:   p.Fields,
		Result:   &res,
	})
}

func (s *Server) materialize(req rescheduleRequest) (reschedule.Payload, error) {
	if strings.TrimSpace(req.OccurrenceID) == "" {
		return reschedule.Payload{}, badRequest("occurrence_id is required")
	}
	occ, err := resolveOccurrence(req.OccurrenceID, s.store.Current().Records)
	if err != nil {
		return reschedule.Payload{}, err
	}

	var ch reschedule.Change
	ch.AllDay = req.AllDay
	if req.Start != "" {
		if ch.Start, err = parseChangeTime(req.Start); err != nil {
			return reschedule.Payload{}, badRequest("invalid start: " + err.Error())
		}
	}
	if req.End != "" {
		if ch.End, err = parseChangeTime(req.End); err != nil {
			return reschedule.Payload{}, badRequest("invalid end: " + err.Error())
		}
	}
	return reschedule.Materialize(occ, ch)
}

// parseChangeTime keeps the sender's offset so all-day drops land on the
// calendar date the user saw.
func parseChangeTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v)); err == nil {
		return t, nil
	}
	return datetime.Parse(v)
}

// resolveOccurrence maps an occurrence id back onto the snapshot. An exact
// record id wins over an "<id>_<n>" reading, so ids that contain
// underscores still resolve.
func resolveOccurrence(id string, records []model.DomainRecord) (model.Occurrence, error) {
	for _, rec := range records {
		if rec.ID == id {
			occ, _ := model.OriginalOccurrence(rec)
			return occ, nil
		}
	}

	oid := model.ParseOccurrenceID(id)
	rec, ok := model.FindOriginal(model.Occurrence{ID: oid}, records)
	if !ok {
		return model.Occurrence{}, fmt.Errorf("occurrence %q: %w", id, errNotFound)
	}
	if !oid.Expanded || rec.Recurrence == nil {
		occ, _ := model.OriginalOccurrence(rec)
		return occ, nil
	}
	return model.Occurrence{ID: oid, Source: rec.Clone(), RecurringInstance: true}, nil
}

// handleRefresh pulls records from the API now.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh is not configured")
		return
	}
	snap, err := s.refresher.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    snap.Version,
		"records":    len(snap.Records),
		"updated_at": snap.UpdatedAt,
		"from_cache": snap.FromCache,
	})
}

// handleICS serves the records as iCalendar. With from/to (YYYY-MM-DD) it
// lists expanded occurrences; without, one event per record with RRULE.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	snap := s.store.Current()
	opts := ics.Options{Name: "plancal", Stamp: snap.UpdatedAt, Classifier: s.classifier}
	const ct = "text/calendar; charset=utf-8"

	if from == "" && to == "" {
		key := fmt.Sprintf("ics|series|v%d", snap.Version)
		s.cached(w, key, func() ([]byte, string, error) {
			feed, errs := ics.ExportSeries(snap.Records, opts)
			for _, err := range errs {
				appLog.Debug("ics export skipped record", "err", err.Error())
			}
			return []byte(feed), ct, nil
		})
		return
	}

	start, err := datetime.DateOnlyToInstant(from, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	end, err := datetime.DateOnlyToInstant(to, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}
	key := fmt.Sprintf("ics|%d|%d|v%d", start.UnixMilli(), end.UnixMilli(), snap.Version)
	s.cached(w, key, func() ([]byte, string, error) {
		results, _ := s.classified(snap, start, end)
		return []byte(ics.ExportOccurrences(results, opts)), ct, nil
	})
}

// parseDay reads a YYYY-MM-DD anchor in loc; empty means today.
func (s *Server) parseDay(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return s.clock.Now().In(loc), nil
	}
	t, err := time.ParseInLocation(datetime.DateLayout, v, loc)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return t, nil
}

func marshalJSON(v any) ([]byte, string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return append(b, '\n'), "application/json; charset=utf-8", nil
}
