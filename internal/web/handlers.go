package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"calcore/internal/ics"
	appLog "calcore/internal/log"
	"calcore/internal/model"
	"calcore/internal/storage"
	"calcore/internal/view"
)

const (
	maxBodyBytes       = 1 << 20
	defaultSlotMinutes = 60
)

// eventDTO is the JSON view of an event. Timestamps use the same zone-less
// ISO-8601 form as the data file.
type eventDTO struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	Location        string   `json:"location"`
	Attendees       []string `json:"attendees"`
	ReminderMinutes int      `json:"reminder_minutes"`
	IsAllDay        bool     `json:"is_all_day"`
	Recurrence      string   `json:"recurrence"`
	CreatedAt       string   `json:"created_at"`
}

func toDTO(ev model.Event) eventDTO {
	attendees := ev.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	return eventDTO{
		ID:              ev.ID,
		Title:           ev.Title,
		Description:     ev.Description,
		StartTime:       storage.FormatTimestamp(ev.Start),
		EndTime:         storage.FormatTimestamp(ev.End),
		Location:        ev.Location,
		Attendees:       attendees,
		ReminderMinutes: ev.ReminderMinutes,
		IsAllDay:        ev.AllDay,
		Recurrence:      string(ev.Recurrence),
		CreatedAt:       storage.FormatTimestamp(ev.CreatedAt),
	}
}

func toDTOs(evs []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toDTO(ev))
	}
	return out
}

// eventRequest is the create body; pointer fields distinguish "absent"
// from zero values so the same shape serves PATCH.
type eventRequest struct {
	Title           *string   `json:"title"`
	Description     *string   `json:"description"`
	StartTime       *string   `json:"start_time"`
	EndTime         *string   `json:"end_time"`
	Location        *string   `json:"location"`
	Attendees       *[]string `json:"attendees"`
	ReminderMinutes *int      `json:"reminder_minutes"`
	IsAllDay        *bool     `json:"is_all_day"`
	Recurrence      *string   `json:"recurrence"`
}

type eventsResponse struct {
	Events []eventDTO `json:"events"`
	Count  int        `json:"count"`
}

type mutationResponse struct {
	ID        string     `json:"id"`
	Conflicts []eventDTO `json:"conflicts"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		list []model.Event
		err  error
	)
	switch {
	case q.Has("date"):
		var d time.Time
		d, err = s.parseDate(q.Get("date"))
		if err == nil {
			list = s.deps.Engine.EventsOn(d)
		}
	case q.Has("week"):
		var start time.Time
		if v := q.Get("week"); v != "" && v != "current" {
			start, err = s.parseDate(v)
		}
		if err == nil {
			list = s.deps.Engine.EventsInWeek(start)
		}
	case q.Has("month") || q.Has("year"):
		var year, month int
		if year, month, err = parseYearMonth(q); err == nil {
			list, err = s.deps.Engine.EventsInMonth(year, time.Month(month))
		}
	case q.Has("q"):
		list = s.deps.Engine.Search(q.Get("q"))
	default:
		days := parseIntDefault(q.Get("days"), s.cfg.UpcomingDays)
		list = s.deps.Engine.Upcoming(s.deps.Engine.Now(), days)
	}
	if err != nil {
		writeFailure(w, r, err, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, eventsResponse{Events: toDTOs(list), Count: len(list)})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fields, err := s.toFields(req)
	if err != nil {
		writeFailure(w, r, err, "invalid event")
		return
	}

	id, err := s.deps.Repo.Create(fields)
	if err != nil {
		writeFailure(w, r, err, "failed to create event")
		return
	}
	s.writeMutation(w, r, http.StatusCreated, id)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.deps.Repo.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(ev))
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req eventRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	patch, err := s.toPatch(req)
	if err != nil {
		writeFailure(w, r, err, "invalid event")
		return
	}

	ok, err := s.deps.Repo.Update(id, patch)
	if err != nil {
		writeFailure(w, r, err, "failed to update event")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	s.writeMutation(w, r, http.StatusOK, id)
}

// writeMutation reports the stored event's id along with whatever it now
// overlaps. The event may have been deleted concurrently.
func (s *Server) writeMutation(w http.ResponseWriter, r *http.Request, status int, id string) {
	ev, ok := s.deps.Repo.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	conflicts, err := s.deps.Analyzer.Conflicts(ev.Start, ev.End, id)
	if err != nil {
		writeFailure(w, r, err, "failed to check conflicts")
		return
	}
	writeJSON(w, status, mutationResponse{ID: id, Conflicts: toDTOs(conflicts)})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ok, err := s.deps.Repo.Delete(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err, "failed to delete event")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), s.cfg.UpcomingDays)
	writeJSON(w, http.StatusOK, s.deps.Engine.Summary(s.deps.Engine.Now(), days))
}

type cellDTO struct {
	Day            int        `json:"day"`
	Date           string     `json:"date"`
	IsCurrentMonth bool       `json:"is_current_month"`
	IsToday        bool       `json:"is_today"`
	HasEvents      bool       `json:"has_events"`
	Events         []eventDTO `json:"events"`
}

type matrixResponse struct {
	Year                int         `json:"year"`
	Month               int         `json:"month"`
	MonthName           string      `json:"month_name"`
	CalendarMatrix      [][]cellDTO `json:"calendar_matrix"`
	EventsCount         int         `json:"events_count"`
	TotalDaysWithEvents int         `json:"total_days_with_events"`
}

func (s *Server) handleMatrix(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, month, err := parseYearMonth(q)
	if err != nil {
		writeFailure(w, r, err, "failed to build calendar matrix")
		return
	}
	grid, err := s.deps.Grid.Month(year, time.Month(month))
	if err != nil {
		writeFailure(w, r, err, "failed to build calendar matrix")
		return
	}

	resp := matrixResponse{
		Year:                grid.Year,
		Month:               int(grid.Month),
		MonthName:           grid.MonthName,
		CalendarMatrix:      make([][]cellDTO, 0, view.GridWeeks),
		EventsCount:         grid.EventsCount,
		TotalDaysWithEvents: grid.DaysWithEvents,
	}
	for _, week := range grid.Weeks {
		row := make([]cellDTO, 0, view.GridDays)
		for _, c := range week {
			row = append(row, cellDTO{
				Day:            c.Day,
				Date:           c.Date.Format(time.DateOnly),
				IsCurrentMonth: c.InCurrentMonth,
				IsToday:        c.IsToday,
				HasEvents:      c.HasEvents(),
				Events:         toDTOs(c.Events),
			})
		}
		resp.CalendarMatrix = append(resp.CalendarMatrix, row)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := storage.ParseTimestamp(q.Get("start"), s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	end, err := storage.ParseTimestamp(q.Get("end"), s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}

	conflicts, err := s.deps.Analyzer.Conflicts(start, end, q.Get("exclude"))
	if err != nil {
		writeFailure(w, r, err, "failed to check conflicts")
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: toDTOs(conflicts), Count: len(conflicts)})
}

type slotDTO struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Minutes int    `json:"minutes"`
}

func (s *Server) handleFreeSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := s.parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date: "+err.Error())
		return
	}
	duration := parseIntDefault(q.Get("duration"), defaultSlotMinutes)
	workStart := parseIntDefault(q.Get("work_start"), s.cfg.WorkStartHour)
	workEnd := parseIntDefault(q.Get("work_end"), s.cfg.WorkEndHour)

	slots, err := s.deps.Analyzer.FreeSlotsWithin(date, duration, workStart, workEnd)
	if err != nil {
		writeFailure(w, r, err, "failed to find free slots")
		return
	}

	out := make([]slotDTO, 0, len(slots))
	for _, sl := range slots {
		out = append(out, slotDTO{
			Start:   storage.FormatTimestamp(sl.Start),
			End:     storage.FormatTimestamp(sl.End),
			Minutes: sl.Minutes(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date.Format(time.DateOnly), "slots": out})
}

func (s *Server) handleReminders(w http.ResponseWriter, _ *http.Request) {
	due := s.deps.Engine.DueReminders(s.deps.Engine.Now())
	writeJSON(w, http.StatusOK, eventsResponse{Events: toDTOs(due), Count: len(due)})
}

type statusResponse struct {
	TotalEvents    int    `json:"total_events"`
	TodayEvents    int    `json:"today_events"`
	UpcomingEvents int    `json:"upcoming_events"`
	NextEvent      string `json:"next_event"`
	DataFile       string `json:"data_file"`
	Recovered      bool   `json:"recovered"`
	LoadError      string `json:"load_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := s.deps.Engine.Now()
	st := s.deps.Repo.Status()
	upcoming := s.deps.Engine.Upcoming(now, s.cfg.UpcomingDays)

	resp := statusResponse{
		TotalEvents:    st.TotalEvents,
		TodayEvents:    len(s.deps.Engine.EventsOn(now.In(s.loc))),
		UpcomingEvents: len(upcoming),
		DataFile:       st.DataFile,
		Recovered:      st.Recovered,
		LoadError:      st.LoadError,
	}
	if len(upcoming) > 0 {
		resp.NextEvent = upcoming[0].Title
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := ics.Export(&buf, s.deps.Engine.All()); err != nil {
		writeFailure(w, r, err, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	res, err := ics.Import(body, s.loc, s.deps.Repo)
	if err != nil {
		var werr *storage.WriteError
		if errors.As(err, &werr) {
			writeFailure(w, r, err, "calendar import stopped early")
			return
		}
		appLog.Error("ics import failed", err)
		writeError(w, http.StatusBadRequest, "failed to import calendar: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, &model.ValidationError{Field: "date", Reason: "date is required"}
	}
	t, err := time.ParseInLocation(time.DateOnly, v, s.loc)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: "date", Reason: err.Error()}
	}
	return t, nil
}

func (s *Server) parseTime(field, v string) (time.Time, error) {
	t, err := storage.ParseTimestamp(v, s.loc)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: field, Reason: err.Error()}
	}
	return t, nil
}

func (s *Server) toFields(req eventRequest) (model.EventFields, error) {
	var f model.EventFields
	if req.StartTime == nil || req.EndTime == nil {
		return f, &model.ValidationError{Field: "start_time", Reason: "start_time and end_time are required"}
	}
	start, err := s.parseTime("start_time", *req.StartTime)
	if err != nil {
		return f, err
	}
	end, err := s.parseTime("end_time", *req.EndTime)
	if err != nil {
		return f, err
	}

	f.Start = start
	f.End = end
	f.Title = deref(req.Title)
	f.Description = deref(req.Description)
	f.Location = deref(req.Location)
	if req.Attendees != nil {
		f.Attendees = *req.Attendees
	}
	f.ReminderMinutes = req.ReminderMinutes
	if req.IsAllDay != nil {
		f.AllDay = *req.IsAllDay
	}
	if req.Recurrence != nil {
		f.Recurrence = model.Recurrence(strings.ToLower(*req.Recurrence))
	}
	return f, nil
}

func (s *Server) toPatch(req eventRequest) (model.EventPatch, error) {
	p := model.EventPatch{
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		Attendees:       req.Attendees,
		ReminderMinutes: req.ReminderMinutes,
		AllDay:          req.IsAllDay,
	}
	if req.StartTime != nil {
		t, err := s.parseTime("start_time", *req.StartTime)
		if err != nil {
			return p, err
		}
		p.Start = &t
	}
	if req.EndTime != nil {
		t, err := s.parseTime("end_time", *req.EndTime)
		if err != nil {
			return p, err
		}
		p.End = &t
	}
	if req.Recurrence != nil {
		rec := model.Recurrence(strings.ToLower(*req.Recurrence))
		p.Recurrence = &rec
	}
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
