package ics

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calcore/internal/log"
	"calcore/internal/model"
)

// Creator is the mutation path imported events go through.
type Creator interface {
	Create(fields model.EventFields) (string, error)
}

// ImportResult summarizes one import run.
type ImportResult struct {
	IDs     []string `json:"ids"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
}

// Import parses an iCalendar payload and creates one event per VEVENT.
// Ids are always freshly assigned; VEVENTs that cannot be mapped or that
// fail validation are logged and skipped.
func Import(r io.Reader, loc *time.Location, c Creator) (ImportResult, error) {
	var res ImportResult

	fields, skipped, err := Parse(r, loc)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped

	for _, f := range fields {
		id, err := c.Create(f)
		if err != nil {
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				appLog.Error("ics import: event rejected", err, "title", f.Title)
				res.Skipped++
				continue
			}
			// Persist failures abort the run; earlier creates stay.
			return res, err
		}
		res.IDs = append(res.IDs, id)
		res.Created++
	}

	appLog.Info("ics import completed", "created", res.Created, "skipped", res.Skipped)
	return res, nil
}

// Parse maps every VEVENT of an iCalendar payload onto EventFields in loc.
// It returns the number of VEVENTs it could not map.
func Parse(r io.Reader, loc *time.Location) ([]model.EventFields, int, error) {
	if loc == nil {
		loc = time.Local
	}
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, 0, err
	}

	out := make([]model.EventFields, 0)
	skipped := 0
	for _, ve := range cal.Events() {
		f, perr := parseVEvent(ve, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr)
			skipped++
			continue
		}
		out = append(out, f)
	}
	return out, skipped, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.EventFields, error) {
	var out model.EventFields

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := propTime(startProp, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.AllDay = allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		end, _, err := propTime(ve.GetProperty(ical.ComponentPropertyDtEnd), loc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	case allDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}

	for _, a := range ve.Attendees() {
		if email := a.Email(); email != "" {
			out.Attendees = append(out.Attendees, email)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.Recurrence = RecurrenceFromRRule(p.Value)
	}

	for _, alarm := range ve.Alarms() {
		trig := alarm.GetProperty(ical.ComponentPropertyTrigger)
		if trig == nil {
			continue
		}
		if minutes, ok := triggerMinutes(trig.Value); ok {
			out.ReminderMinutes = &minutes
			break
		}
	}

	return out, nil
}

// propTime reads a DTSTART/DTEND style property into loc's wall clock.
// Zoned values (TZID or UTC) are converted into loc first; floating values
// are taken as is.
func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	v := strings.TrimSpace(p.Value)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	src := loc
	if params := p.ICalParameters; params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				src = l
			}
		}
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, false, err
		}
		return model.Naive(t.In(loc), loc), false, nil
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102T150405", v, src)
		if err != nil {
			return time.Time{}, false, err
		}
		return model.Naive(t.In(loc), loc), false, nil
	}

	// Date-only (all-day), e.g., 20250101
	t, err := time.ParseInLocation("20060102", v, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// triggerMinutes converts a relative "before start" TRIGGER such as
// -PT15M, -PT1H30M or -P1D into minutes.
func triggerMinutes(v string) (int, bool) {
	v = strings.ToUpper(strings.TrimSpace(v))
	switch v {
	case "PT0S", "PT0M", "-PT0S", "-PT0M":
		return 0, true
	}
	// Only triggers before the start map onto reminder minutes.
	if !strings.HasPrefix(v, "-P") {
		return 0, false
	}
	v = strings.TrimPrefix(v, "-P")

	total := 0
	num := ""
	inTime := false
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			inTime = true
		default:
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, false
			}
			num = ""
			switch {
			case r == 'W':
				total += n * 7 * 24 * 60
			case r == 'D':
				total += n * 24 * 60
			case r == 'H' && inTime:
				total += n * 60
			case r == 'M' && inTime:
				total += n
			case r == 'S' && inTime:
				total += n / 60
			default:
				return 0, false
			}
		}
	}
	if num != "" {
		return 0, false
	}
	return total, true
}
