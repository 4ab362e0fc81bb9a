package query

import (
	"slices"
	"strings"
	"time"

	"calcore/internal/model"
)

// DefaultUpcomingDays is the lookahead used when callers pass days <= 0.
const DefaultUpcomingDays = 7

// reminderWindow is the polling granularity of due-reminder detection.
const reminderWindow = time.Minute

// Source provides a consistent copy of the stored events.
type Source interface {
	Snapshot() []model.Event
}

// Engine answers read-only questions over the current snapshot. Every
// result is ordered by start time ascending.
type Engine struct {
	src   Source
	clock func() time.Time
	loc   *time.Location
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source used for "today"-relative defaults.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLocation sets the frame "today" is resolved in. It should match the
// repository's location.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// NewEngine returns an Engine reading from src.
func NewEngine(src Source, opts ...Option) *Engine {
	e := &Engine{src: src, clock: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(e)
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	return e
}

// Now returns the engine's current time in its location.
func (e *Engine) Now() time.Time {
	return e.clock().In(e.loc)
}

// All returns every stored event.
func (e *Engine) All() []model.Event {
	return e.filter(func(model.Event) bool { return true })
}

// EventsOn returns events whose start falls on date's calendar day.
func (e *Engine) EventsOn(date time.Time) []model.Event {
	return e.filter(func(ev model.Event) bool {
		return model.SameDate(ev.Start, date)
	})
}

// EventsInWeek returns events starting within [weekStart, weekStart+6 days]
// by calendar date. A zero weekStart means the Monday of the current week.
func (e *Engine) EventsInWeek(weekStart time.Time) []model.Event {
	if weekStart.IsZero() {
		weekStart = MondayOf(e.Now())
	}
	first := civil(weekStart)
	last := first.AddDate(0, 0, 6)
	return e.filter(func(ev model.Event) bool {
		d := civil(ev.Start)
		return !d.Before(first) && !d.After(last)
	})
}

// EventsInMonth returns events starting in the given calendar month. Zero
// year or month default to the current ones.
func (e *Engine) EventsInMonth(year int, month time.Month) ([]model.Event, error) {
	year, month, err := e.ResolveMonth(year, month)
	if err != nil {
		return nil, err
	}
	return e.filter(func(ev model.Event) bool {
		return ev.Start.Year() == year && ev.Start.Month() == month
	}), nil
}

// Upcoming returns events with now <= start <= now+days, both ends
// inclusive. days <= 0 uses DefaultUpcomingDays.
func (e *Engine) Upcoming(now time.Time, days int) []model.Event {
	if days <= 0 {
		days = DefaultUpcomingDays
	}
	until := now.AddDate(0, 0, days)
	return e.filter(func(ev model.Event) bool {
		return !ev.Start.Before(now) && !ev.Start.After(until)
	})
}

// DueReminders returns events whose reminder time falls within the
// one-minute window ending at now. A caller polling less than once per
// minute can miss reminders; polling more often can report one twice.
func (e *Engine) DueReminders(now time.Time) []model.Event {
	return e.filter(func(ev model.Event) bool {
		at := ev.ReminderAt()
		return !at.After(now) && !now.After(at.Add(reminderWindow))
	})
}

// Search returns events whose title, description or location contains
// query, case-insensitively.
func (e *Engine) Search(query string) []model.Event {
	q := strings.ToLower(query)
	return e.filter(func(ev model.Event) bool {
		return strings.Contains(strings.ToLower(ev.Title), q) ||
			strings.Contains(strings.ToLower(ev.Description), q) ||
			strings.Contains(strings.ToLower(ev.Location), q)
	})
}

func (e *Engine) filter(keep func(model.Event) bool) []model.Event {
	snapshot := e.src.Snapshot()
	out := make([]model.Event, 0, len(snapshot))
	for _, ev := range snapshot {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	SortByStart(out)
	return out
}

// ResolveMonth fills zero values from the clock and rejects months
// outside 1–12.
func (e *Engine) ResolveMonth(year int, month time.Month) (int, time.Month, error) {
	now := e.Now()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = now.Month()
	}
	if month < time.January || month > time.December {
		return 0, 0, &model.ValidationError{Field: "month", Reason: "month must be between 1 and 12"}
	}
	return year, month, nil
}

// SortByStart orders events by start time, keeping storage order for ties.
func SortByStart(events []model.Event) {
	slices.SortStableFunc(events, func(a, b model.Event) int {
		return a.Start.Compare(b.Start)
	})
}

// MondayOf returns midnight of the Monday on or before t.
func MondayOf(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return model.DateOf(t).AddDate(0, 0, -offset)
}

// civil maps t's calendar date onto a UTC midnight so date arithmetic is
// free of DST shifts.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
