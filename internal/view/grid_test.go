package view

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/model"
	"calcore/internal/query"
)

type sliceSource []model.Event

func (s sliceSource) Snapshot() []model.Event {
	return append([]model.Event(nil), s...)
}

func day(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func event(id string, start time.Time) model.Event {
	return model.Event{ID: id, Title: id, Start: start, End: start.Add(time.Hour), Recurrence: model.RecurrenceNone}
}

// today is Wednesday 2024-03-06.
var today = time.Date(2024, time.March, 6, 15, 0, 0, 0, time.UTC)

func newBuilder(events ...model.Event) *Builder {
	clock := func() time.Time { return today }
	engine := query.NewEngine(sliceSource(events), query.WithClock(clock), query.WithLocation(time.UTC))
	return NewBuilder(engine, WithClock(clock), WithLocation(time.UTC))
}

func TestMonthGridShape(t *testing.T) {
	t.Parallel()

	g, err := newBuilder().Month(2024, time.March)
	require.NoError(t, err)

	cells := g.Cells()
	require.Len(t, cells, 42)
	assert.Equal(t, "March", g.MonthName)

	// March 2024 starts on a Friday, so the grid opens on Sunday Feb 25.
	assert.Equal(t, day(time.February, 25), cells[0].Date)
	assert.Equal(t, time.Sunday, cells[0].Date.Weekday())
	assert.False(t, cells[0].InCurrentMonth)
	assert.Equal(t, day(time.March, 1), cells[5].Date)
	assert.True(t, cells[5].InCurrentMonth)
	assert.Equal(t, day(time.April, 6), cells[41].Date)

	for i := 1; i < len(cells); i++ {
		assert.Equal(t, cells[i-1].Date.AddDate(0, 0, 1), cells[i].Date)
	}

	var todays int
	for _, c := range cells {
		if c.IsToday {
			todays++
			assert.Equal(t, day(time.March, 6), c.Date)
		}
	}
	assert.Equal(t, 1, todays)
}

func TestMonthGridStartingOnSunday(t *testing.T) {
	t.Parallel()

	// September 2024 begins on a Sunday: no leading spill.
	g, err := newBuilder().Month(2024, time.September)
	require.NoError(t, err)
	assert.Equal(t, day(time.September, 1), g.Weeks[0][0].Date)
	assert.True(t, g.Weeks[0][0].InCurrentMonth)
}

func TestMonthGridEvents(t *testing.T) {
	t.Parallel()

	b := newBuilder(
		event("feb-spill", time.Date(2024, 2, 26, 10, 0, 0, 0, time.UTC)),
		event("feb-hidden", time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC)),
		event("mar-a", time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)),
		event("mar-b", time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC)),
		event("mar-c", time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)),
		event("apr-spill", time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)),
	)

	g, err := b.Month(2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, 3, g.EventsCount)
	assert.Equal(t, 2, g.DaysWithEvents)

	byDate := make(map[time.Time][]string)
	for _, c := range g.Cells() {
		assert.Equal(t, len(c.Events) > 0, c.HasEvents())
		for _, ev := range c.Events {
			assert.True(t, model.SameDate(ev.Start, c.Date), "event %s shown on %s", ev.ID, c.Date)
			byDate[c.Date] = append(byDate[c.Date], ev.ID)
		}
	}

	assert.Equal(t, []string{"feb-spill"}, byDate[day(time.February, 26)])
	assert.Equal(t, []string{"mar-b", "mar-a"}, byDate[day(time.March, 6)])
	assert.Equal(t, []string{"mar-c"}, byDate[day(time.March, 20)])
	assert.Empty(t, byDate[day(time.April, 2)])
}

func TestMonthGridYearBoundary(t *testing.T) {
	t.Parallel()

	// January 2025 starts on a Wednesday; the first row reaches back into
	// December 2024.
	b := newBuilder(event("nye", time.Date(2024, 12, 31, 20, 0, 0, 0, time.UTC)))
	g, err := b.Month(2025, time.January)
	require.NoError(t, err)

	first := g.Weeks[0]
	assert.Equal(t, time.Date(2024, 12, 29, 0, 0, 0, 0, time.UTC), first[0].Date)
	require.Len(t, first[2].Events, 1)
	assert.Equal(t, "nye", first[2].Events[0].ID)
	assert.Zero(t, g.EventsCount)
}

func TestMonthGridDefaultsAndValidation(t *testing.T) {
	t.Parallel()

	b := newBuilder()
	g, err := b.Month(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2024, g.Year)
	assert.Equal(t, time.March, g.Month)

	for _, m := range []time.Month{13, -1} {
		_, err := b.Month(2024, m)
		var verr *model.ValidationError
		require.True(t, errors.As(err, &verr), "month %d", m)
	}
}
