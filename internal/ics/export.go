package ics

import (
	"io"
	"strconv"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "calcore/internal/log"
	"calcore/internal/model"
)

const productID = "-//calcore//Event Calendar//EN"

const (
	floatingLayout = "20060102T150405"
	dateLayout     = "20060102"
)

// Export writes events as an iCalendar document. Times are written as
// floating local values since events carry no zone of their own.
func Export(w io.Writer, events []model.Event) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		addVEvent(cal, ev)
	}

	_, err := io.WriteString(w, cal.Serialize())
	if err != nil {
		appLog.Error("ics export write failed", err)
		return err
	}
	appLog.Debug("ics export completed", "event_count", len(events))
	return nil
}

func addVEvent(cal *ical.Calendar, ev model.Event) {
	ve := cal.AddEvent(ev.ID)
	ve.SetDtStampTime(ev.CreatedAt)
	ve.SetProperty(ical.ComponentPropertyCreated, ev.CreatedAt.Format(floatingLayout))
	ve.SetSummary(ev.Title)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}

	if ev.AllDay {
		dateValue := &ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE"}}
		end := ev.End
		if !end.After(ev.Start) {
			end = ev.Start.AddDate(0, 0, 1)
		}
		ve.SetProperty(ical.ComponentPropertyDtStart, ev.Start.Format(dateLayout), dateValue)
		ve.SetProperty(ical.ComponentPropertyDtEnd, end.Format(dateLayout), dateValue)
	} else {
		ve.SetProperty(ical.ComponentPropertyDtStart, ev.Start.Format(floatingLayout))
		ve.SetProperty(ical.ComponentPropertyDtEnd, ev.End.Format(floatingLayout))
	}

	for _, a := range ev.Attendees {
		ve.AddAttendee(a)
	}

	if rule := RRuleFromRecurrence(ev.Recurrence); rule != "" {
		ve.AddRrule(rule)
	}

	alarm := ve.AddAlarm()
	alarm.SetAction(ical.ActionDisplay)
	alarm.SetTrigger("-PT" + strconv.Itoa(ev.ReminderMinutes) + "M")
}

var recurrenceFreq = map[model.Recurrence]rrule.Frequency{
	model.RecurrenceDaily:   rrule.DAILY,
	model.RecurrenceWeekly:  rrule.WEEKLY,
	model.RecurrenceMonthly: rrule.MONTHLY,
	model.RecurrenceYearly:  rrule.YEARLY,
}

// RRuleFromRecurrence renders the recurrence tag as an RRULE value, or ""
// for none. The rule carries only FREQ; occurrences are never expanded.
func RRuleFromRecurrence(r model.Recurrence) string {
	freq, ok := recurrenceFreq[r]
	if !ok {
		return ""
	}
	opt := rrule.ROption{Freq: freq}
	return opt.RRuleString()
}

// RecurrenceFromRRule maps an RRULE value back onto a recurrence tag.
// Frequencies without a tag (hourly and finer) and unparseable rules yield
// none.
func RecurrenceFromRRule(v string) model.Recurrence {
	opt, err := rrule.StrToROption(v)
	if err != nil {
		appLog.Error("ics: failed to parse RRULE", err, "rrule", v)
		return model.RecurrenceNone
	}
	for rec, freq := range recurrenceFreq {
		if opt.Freq == freq {
			return rec
		}
	}
	return model.RecurrenceNone
}
