package schedule

import (
	"time"

	"calcore/internal/model"
)

const (
	DefaultWorkStartHour = 9
	DefaultWorkEndHour   = 18
)

// Events is the read side the analyzer is built on.
type Events interface {
	All() []model.Event
	EventsOn(date time.Time) []model.Event
}

// Slot is a free span of time.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Minutes is the slot length in whole minutes.
func (s Slot) Minutes() int {
	return int(s.End.Sub(s.Start) / time.Minute)
}

// Analyzer answers conflict and availability questions.
type Analyzer struct {
	events    Events
	loc       *time.Location
	workStart int
	workEnd   int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWorkHours sets the default working window used by FreeSlots.
func WithWorkHours(start, end int) Option {
	return func(a *Analyzer) {
		a.workStart = start
		a.workEnd = end
	}
}

// WithLocation sets the frame working hours are expressed in. It should
// match the repository's location.
func WithLocation(loc *time.Location) Option {
	return func(a *Analyzer) { a.loc = loc }
}

func NewAnalyzer(events Events, opts ...Option) *Analyzer {
	a := &Analyzer{
		events:    events,
		loc:       time.Local,
		workStart: DefaultWorkStartHour,
		workEnd:   DefaultWorkEndHour,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.loc == nil {
		a.loc = time.Local
	}
	return a
}

// Conflicts returns events overlapping [start, end). Intervals that only
// touch at an endpoint do not conflict. An event with excludeID is
// skipped, so an update can be checked against all other events.
func (a *Analyzer) Conflicts(start, end time.Time, excludeID string) ([]model.Event, error) {
	if start.After(end) {
		return nil, &model.ValidationError{Field: "end", Reason: "end must not be before start"}
	}

	var out []model.Event
	for _, ev := range a.events.All() {
		if excludeID != "" && ev.ID == excludeID {
			continue
		}
		if ev.Start.Before(end) && ev.End.After(start) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// FreeSlots finds gaps of at least minMinutes on date within the default
// working hours.
func (a *Analyzer) FreeSlots(date time.Time, minMinutes int) ([]Slot, error) {
	return a.FreeSlotsWithin(date, minMinutes, a.workStart, a.workEnd)
}

// FreeSlotsWithin finds gaps of at least minMinutes on date between
// workStartHour and workEndHour. The cursor only ever moves forward, so
// overlapping events cannot produce overlapping or backwards slots.
func (a *Analyzer) FreeSlotsWithin(date time.Time, minMinutes, workStartHour, workEndHour int) ([]Slot, error) {
	if minMinutes < 0 {
		return nil, &model.ValidationError{Field: "min_duration_minutes", Reason: "must be non-negative"}
	}
	if workStartHour < 0 || workEndHour > 24 || workStartHour >= workEndHour {
		return nil, &model.ValidationError{Field: "work_hours", Reason: "need 0 <= start < end <= 24"}
	}

	y, m, d := date.Date()
	workStart := time.Date(y, m, d, workStartHour, 0, 0, 0, a.loc)
	workEnd := time.Date(y, m, d, workEndHour, 0, 0, 0, a.loc)
	minGap := time.Duration(minMinutes) * time.Minute

	slots := []Slot{}
	emit := func(from, to time.Time) {
		// Gaps are measured in whole minutes.
		if to.After(from) && to.Sub(from).Truncate(time.Minute) >= minGap {
			slots = append(slots, Slot{Start: from, End: to})
		}
	}

	cursor := workStart
	for _, ev := range a.events.EventsOn(date) {
		if !ev.Start.Before(workEnd) {
			break
		}
		emit(cursor, ev.Start)
		if ev.End.After(cursor) {
			cursor = ev.End
		}
	}
	emit(cursor, workEnd)

	return slots, nil
}
