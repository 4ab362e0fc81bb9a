package view

import (
	"time"

	"calcore/internal/model"
)

const (
	GridWeeks = 6
	GridDays  = 7
)

// MonthSource supplies the events of one calendar month.
type MonthSource interface {
	EventsInMonth(year int, month time.Month) ([]model.Event, error)
}

// Cell is one day of the month grid.
type Cell struct {
	Date           time.Time
	Day            int
	InCurrentMonth bool
	IsToday        bool
	Events         []model.Event
}

// HasEvents reports whether any event starts on the cell's date.
func (c Cell) HasEvents() bool {
	return len(c.Events) > 0
}

// MonthGrid is a fixed 6x7 projection of a month, Sunday first.
type MonthGrid struct {
	Year      int
	Month     time.Month
	MonthName string
	Weeks     [GridWeeks][GridDays]Cell

	// EventsCount is the number of events in the requested month.
	EventsCount int
	// DaysWithEvents counts distinct dates of the requested month with at
	// least one event.
	DaysWithEvents int
}

// Cells returns the 42 cells in display order.
func (g MonthGrid) Cells() []Cell {
	out := make([]Cell, 0, GridWeeks*GridDays)
	for _, week := range g.Weeks {
		out = append(out, week[:]...)
	}
	return out
}

// Builder projects months onto display grids.
type Builder struct {
	src   MonthSource
	clock func() time.Time
	loc   *time.Location
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock injects the time source used for "today" and month defaults.
func WithClock(clock func() time.Time) Option {
	return func(b *Builder) { b.clock = clock }
}

// WithLocation sets the frame grid dates are built in.
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) { b.loc = loc }
}

func NewBuilder(src MonthSource, opts ...Option) *Builder {
	b := &Builder{src: src, clock: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(b)
	}
	if b.loc == nil {
		b.loc = time.Local
	}
	return b
}

// Month builds the grid for (year, month). Zero values default to the
// current year/month; any other month outside 1–12 is a validation error.
//
// The grid starts on the Sunday on or before the 1st. Events are pulled
// from the requested month and, when the first row spills backwards, from
// the previous month too. Days spilling into the following month are shown
// without events.
func (b *Builder) Month(year int, month time.Month) (MonthGrid, error) {
	now := b.clock().In(b.loc)
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = now.Month()
	}
	if month < time.January || month > time.December {
		return MonthGrid{}, &model.ValidationError{Field: "month", Reason: "month must be between 1 and 12"}
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, b.loc)
	start := first.AddDate(0, 0, -int(first.Weekday()))

	current, err := b.src.EventsInMonth(year, month)
	if err != nil {
		return MonthGrid{}, err
	}
	all := current
	if start.Month() != month || start.Year() != year {
		prev, err := b.src.EventsInMonth(start.Year(), start.Month())
		if err != nil {
			return MonthGrid{}, err
		}
		all = append(append([]model.Event{}, current...), prev...)
	}

	byDate := make(map[dateKey][]model.Event)
	for _, ev := range all {
		k := keyOf(ev.Start)
		byDate[k] = append(byDate[k], ev)
	}

	grid := MonthGrid{
		Year:        year,
		Month:       month,
		MonthName:   month.String(),
		EventsCount: len(current),
	}
	for k := range byDate {
		if k.year == year && k.month == month {
			grid.DaysWithEvents++
		}
	}

	today := keyOf(now)
	day := start
	for w := 0; w < GridWeeks; w++ {
		for d := 0; d < GridDays; d++ {
			k := keyOf(day)
			grid.Weeks[w][d] = Cell{
				Date:           day,
				Day:            day.Day(),
				InCurrentMonth: k.year == year && k.month == month,
				IsToday:        k == today,
				Events:         byDate[k],
			}
			day = day.AddDate(0, 0, 1)
		}
	}
	return grid, nil
}

type dateKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dateKey {
	y, m, d := t.Date()
	return dateKey{year: y, month: m, day: d}
}
