package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/model"
)

type sliceSource []model.Event

func (s sliceSource) Snapshot() []model.Event {
	out := make([]model.Event, len(s))
	copy(out, s)
	return out
}

func ts(month time.Month, day, hour, minute int) time.Time {
	return time.Date(2024, month, day, hour, minute, 0, 0, time.UTC)
}

func ev(id, title string, start time.Time, d time.Duration) model.Event {
	return model.Event{
		ID:              id,
		Title:           title,
		Start:           start,
		End:             start.Add(d),
		Attendees:       []string{},
		ReminderMinutes: 15,
		Recurrence:      model.RecurrenceNone,
	}
}

func ids(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

// Wednesday 2024-03-06 10:00.
var wednesday = ts(time.March, 6, 10, 0)

func newTestEngine(events ...model.Event) *Engine {
	return NewEngine(sliceSource(events), WithClock(func() time.Time { return wednesday }), WithLocation(time.UTC))
}

func TestEventsOnSortsByStart(t *testing.T) {
	t.Parallel()

	e := newTestEngine(
		ev("late", "Late", ts(time.March, 4, 16, 0), time.Hour),
		ev("early", "Early", ts(time.March, 4, 8, 0), time.Hour),
		ev("other", "Other day", ts(time.March, 5, 8, 0), time.Hour),
		ev("midnight", "Midnight", ts(time.March, 4, 0, 0), 0),
	)

	got := e.EventsOn(ts(time.March, 4, 13, 37))
	assert.Equal(t, []string{"midnight", "early", "late"}, ids(got))
	assert.Empty(t, e.EventsOn(ts(time.March, 10, 0, 0)))
}

func TestEventsOnKeepsInsertionOrderForTies(t *testing.T) {
	t.Parallel()

	e := newTestEngine(
		ev("b", "B", ts(time.March, 4, 9, 0), time.Hour),
		ev("a", "A", ts(time.March, 4, 9, 0), time.Hour),
	)
	assert.Equal(t, []string{"b", "a"}, ids(e.EventsOn(ts(time.March, 4, 0, 0))))
}

func TestEventsInWeek(t *testing.T) {
	t.Parallel()

	e := newTestEngine(
		ev("sun-before", "Sun", ts(time.March, 3, 23, 0), time.Hour),
		ev("mon", "Mon", ts(time.March, 4, 0, 0), time.Hour),
		ev("sun", "Sun", ts(time.March, 10, 23, 59), time.Minute),
		ev("next-mon", "Next", ts(time.March, 11, 0, 0), time.Hour),
	)

	assert.Equal(t, []string{"mon", "sun"}, ids(e.EventsInWeek(ts(time.March, 4, 0, 0))))
	// Zero start means the current week, which begins on Monday.
	assert.Equal(t, []string{"mon", "sun"}, ids(e.EventsInWeek(time.Time{})))
}

func TestMondayOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ts(time.March, 4, 0, 0), MondayOf(wednesday))
	assert.Equal(t, ts(time.March, 4, 0, 0), MondayOf(ts(time.March, 4, 8, 0)))
	assert.Equal(t, ts(time.March, 4, 0, 0), MondayOf(ts(time.March, 10, 23, 0)))
}

func TestEventsInMonth(t *testing.T) {
	t.Parallel()

	e := newTestEngine(
		ev("feb", "Feb", ts(time.February, 29, 10, 0), time.Hour),
		ev("mar", "Mar", ts(time.March, 31, 23, 0), 2*time.Hour),
		ev("apr", "Apr", ts(time.April, 1, 0, 0), time.Hour),
	)

	got, err := e.EventsInMonth(2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, []string{"mar"}, ids(got))

	got, err = e.EventsInMonth(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"mar"}, ids(got))

	got, err = e.EventsInMonth(2024, time.February)
	require.NoError(t, err)
	assert.Equal(t, []string{"feb"}, ids(got))

	_, err = e.EventsInMonth(2024, 13)
	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "month", verr.Field)
}

func TestDefaultsFollowEngineLocation(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*3600)
	monday := ev("mon", "Mon", time.Date(2024, 3, 4, 9, 0, 0, 0, tokyo), time.Hour)
	leap := ev("leap", "Leap", time.Date(2024, 2, 29, 12, 0, 0, 0, tokyo), time.Hour)
	march := ev("march", "March", time.Date(2024, 3, 1, 9, 0, 0, 0, tokyo), time.Hour)

	tests := []struct {
		name  string
		clock time.Time
		week  []string
		month []string
	}{
		{
			// Sunday 23:00 UTC is already Monday morning in Tokyo.
			name:  "week rolls over",
			clock: time.Date(2024, 3, 3, 23, 0, 0, 0, time.UTC),
			week:  []string{"mon"},
			month: []string{"march", "mon"},
		},
		{
			// Feb 29 20:00 UTC is March 1 in Tokyo.
			name:  "month rolls over",
			clock: time.Date(2024, 2, 29, 20, 0, 0, 0, time.UTC),
			week:  []string{"leap", "march"},
			month: []string{"march", "mon"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewEngine(sliceSource{monday, leap, march},
				WithClock(func() time.Time { return tt.clock }), WithLocation(tokyo))

			assert.Equal(t, tt.week, ids(e.EventsInWeek(time.Time{})))
			got, err := e.EventsInMonth(0, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.month, ids(got))
		})
	}
}

func TestUpcomingIsInclusive(t *testing.T) {
	t.Parallel()

	now := ts(time.March, 6, 10, 0)
	e := newTestEngine(
		ev("past", "Past", now.Add(-time.Minute), time.Hour),
		ev("now", "Now", now, time.Hour),
		ev("edge", "Edge", now.AddDate(0, 0, 7), time.Hour),
		ev("beyond", "Beyond", now.AddDate(0, 0, 7).Add(time.Second), time.Hour),
	)

	assert.Equal(t, []string{"now", "edge"}, ids(e.Upcoming(now, 7)))
	assert.Equal(t, []string{"now", "edge"}, ids(e.Upcoming(now, 0)))
	assert.Equal(t, []string{"now"}, ids(e.Upcoming(now, 1)))
}

func TestDueReminders(t *testing.T) {
	t.Parallel()

	standup := ev("standup", "Standup", ts(time.March, 4, 9, 0), 15*time.Minute)
	e := newTestEngine(standup)

	tests := []struct {
		name string
		now  time.Time
		due  bool
	}{
		{name: "before reminder", now: ts(time.March, 4, 8, 44), due: false},
		{name: "at reminder", now: ts(time.March, 4, 8, 45), due: true},
		{name: "within window", now: ts(time.March, 4, 8, 45).Add(30 * time.Second), due: true},
		{name: "window end", now: ts(time.March, 4, 8, 46), due: true},
		{name: "after window", now: ts(time.March, 4, 8, 46).Add(time.Second), due: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := e.DueReminders(tt.now)
			if tt.due {
				assert.Equal(t, []string{"standup"}, ids(got))
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	a := ev("a", "Quarterly Review", ts(time.March, 5, 9, 0), time.Hour)
	b := ev("b", "Lunch", ts(time.March, 4, 12, 0), time.Hour)
	b.Location = "Review Cafe"
	c := ev("c", "Gym", ts(time.March, 3, 7, 0), time.Hour)
	c.Description = "leg day"
	e := newTestEngine(a, b, c)

	assert.Equal(t, []string{"b", "a"}, ids(e.Search("REVIEW")))
	assert.Equal(t, []string{"c"}, ids(e.Search("Leg")))
	assert.Empty(t, e.Search("dentist"))
	assert.Len(t, e.Search(""), 3)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	now := ts(time.March, 6, 10, 0)
	first := ev("1", "Design sync", ts(time.March, 6, 14, 0), 30*time.Minute)
	first.Location = "Room 2"
	second := ev("2", "Retro", ts(time.March, 6, 16, 0), time.Hour)
	third := ev("3", "Planning", ts(time.March, 8, 9, 0), time.Hour)
	old := ev("0", "Old", ts(time.March, 1, 9, 0), time.Hour)
	e := newTestEngine(third, old, second, first)

	s := e.Summary(now, 7)
	assert.Equal(t, 4, s.TotalEvents)
	assert.Equal(t, 3, s.UpcomingEvents)
	assert.Equal(t, "Design sync", s.NextEvent)
	require.Len(t, s.EventsByDate["2024-03-06"], 2)
	assert.Equal(t, SummaryItem{ID: "1", Title: "Design sync", StartTime: "14:00", EndTime: "14:30", Location: "Room 2"}, s.EventsByDate["2024-03-06"][0])
	require.Len(t, s.EventsByDate["2024-03-08"], 1)

	empty := newTestEngine().Summary(now, 7)
	assert.Zero(t, empty.UpcomingEvents)
	assert.Empty(t, empty.NextEvent)
	assert.NotNil(t, empty.EventsByDate)
}
