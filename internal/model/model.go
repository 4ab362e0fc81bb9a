package model

import (
	"fmt"
	"strings"
	"time"
)

// DefaultReminderMinutes is used when a caller does not supply a reminder.
const DefaultReminderMinutes = 15

// Recurrence is stored metadata only; occurrences are never expanded.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
)

// Valid reports whether r is one of the known recurrence tags.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return true
	}
	return false
}

// Event is one scheduled occurrence. Start and End carry wall-clock values
// in the repository's single implicit frame; the location is not part of
// the event's identity.
type Event struct {
	ID          string
	Title       string
	Description string
	Location    string

	Start time.Time
	End   time.Time

	Attendees       []string
	ReminderMinutes int
	AllDay          bool
	Recurrence      Recurrence

	CreatedAt time.Time
}

// Clone returns a deep copy so callers never alias the attendee slice of a
// stored record.
func (e Event) Clone() Event {
	out := e
	out.Attendees = append(make([]string, 0, len(e.Attendees)), e.Attendees...)
	return out
}

// Duration is End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// ReminderAt is the instant the event's reminder becomes due.
func (e Event) ReminderAt() time.Time {
	return e.Start.Add(-time.Duration(e.ReminderMinutes) * time.Minute)
}

// Validate checks the record-level invariants.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if e.Start.After(e.End) {
		return &ValidationError{Field: "end_time", Reason: "end time must not be before start time"}
	}
	if e.ReminderMinutes < 0 {
		return &ValidationError{Field: "reminder_minutes", Reason: "reminder minutes must be non-negative"}
	}
	if !e.Recurrence.Valid() {
		return &ValidationError{Field: "recurrence", Reason: fmt.Sprintf("unknown recurrence %q", e.Recurrence)}
	}
	return nil
}

// EventFields is the caller-supplied input for creating an event.
// A nil ReminderMinutes means "use the default".
type EventFields struct {
	Title           string
	Description     string
	Location        string
	Start           time.Time
	End             time.Time
	Attendees       []string
	ReminderMinutes *int
	AllDay          bool
	Recurrence      Recurrence
}

// EventPatch carries the fields an update touches; nil means unchanged.
type EventPatch struct {
	Title           *string
	Description     *string
	Location        *string
	Start           *time.Time
	End             *time.Time
	Attendees       *[]string
	ReminderMinutes *int
	AllDay          *bool
	Recurrence      *Recurrence
}

// Empty reports whether the patch touches nothing.
func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Location == nil &&
		p.Start == nil && p.End == nil && p.Attendees == nil &&
		p.ReminderMinutes == nil && p.AllDay == nil && p.Recurrence == nil
}

// Apply returns a copy of e with the patch merged in. ID and CreatedAt are
// never touched.
func (p EventPatch) Apply(e Event) Event {
	out := e.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	if p.Start != nil {
		out.Start = *p.Start
	}
	if p.End != nil {
		out.End = *p.End
	}
	if p.Attendees != nil {
		out.Attendees = append(make([]string, 0, len(*p.Attendees)), (*p.Attendees)...)
	}
	if p.ReminderMinutes != nil {
		out.ReminderMinutes = *p.ReminderMinutes
	}
	if p.AllDay != nil {
		out.AllDay = *p.AllDay
	}
	if p.Recurrence != nil {
		out.Recurrence = *p.Recurrence
	}
	return out
}

// ValidationError reports malformed caller input. It is always returned,
// never corrected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation: " + e.Field + ": " + e.Reason
}

// Naive reinterprets t's wall clock in loc, discarding t's own zone.
// Events are compared in a single frame, so two timestamps with the same
// wall clock are the same instant regardless of how the caller built them.
func Naive(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// DateOf truncates t to midnight of its calendar date in t's location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
