package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	apperr "spacecal/internal/errors"
	appLog "spacecal/internal/log"
	"spacecal/internal/model"
)

const (
	// PropertyAlarm carries an event's HH:MM alarm through export/import.
	PropertyAlarm ical.ComponentProperty = "X-SPACECAL-ALARM"

	propertyRecurrenceID ical.ComponentProperty = "RECURRENCE-ID"
)

var errEmptyBody = errors.New("empty ICS body")

// ParsedEvent is the normalized form of one VEVENT before expansion.
type ParsedEvent struct {
	Source Source

	UID     string
	Summary string

	Start  time.Time
	AllDay bool

	// Alarm is an explicit HH:MM alarm from PropertyAlarm, if any.
	Alarm     string
	Completed bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overridden instances
}

// IsOverride reports whether the VEVENT replaces one recurring instance.
func (ev ParsedEvent) IsOverride() bool {
	return ev.Recurrence != nil
}

// ParseICS parses an ICS payload. Malformed VEVENTs are logged and
// skipped; a payload that is not a calendar at all is an error.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apperr.NewImportError(apperr.CodeParseFailed, "parse "+src.ID, errEmptyBody)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, apperr.NewImportError(apperr.CodeParseFailed, "parse "+src.ID, err)
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "id", src.ID)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}
	if out.Summary == "" {
		return out, errors.New("missing SUMMARY")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	// VALUE=DATE or a value without a time part marks an all-day event.
	if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}
	if !strings.Contains(dtStart.Value, "T") {
		out.AllDay = true
	}

	if out.AllDay {
		start, err := time.ParseInLocation("20060102", strings.TrimSpace(dtStart.Value), time.UTC)
		if err != nil {
			return out, err
		}
		out.Start = start
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		out.Start = start
	}

	if p := ve.GetProperty(PropertyAlarm); p != nil {
		alarm, err := model.ParseAlarmTime(p.Value)
		if err == nil {
			out.Alarm = alarm
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Completed = strings.EqualFold(p.Value, string(ical.ObjectStatusCompleted))
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, out.Start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(propertyRecurrenceID); p != nil {
		if t, err := parseICSTime(p.Value, out.Start.Location()); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values.
// Floating values are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
