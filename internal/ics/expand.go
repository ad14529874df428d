package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "spacecal/internal/log"
	"spacecal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// Occurrence is one concrete instance of a ParsedEvent on a calendar day.
type Occurrence struct {
	UID       string
	Summary   string
	AllDay    bool
	Start     time.Time // in the display location; UTC midnight for all-day
	Alarm     string
	Completed bool
}

// Date returns the occurrence's calendar day key.
func (o Occurrence) Date() string {
	return model.DateOf(o.Start)
}

// AlarmTime is the explicit alarm, else the start minute of a timed
// occurrence. All-day occurrences without an explicit alarm have none.
func (o Occurrence) AlarmTime() string {
	if o.Alarm != "" {
		return o.Alarm
	}
	if o.AllDay {
		return ""
	}
	return model.MinuteOf(o.Start)
}

// NewEvent converts the occurrence into a store input owned by userID.
func (o Occurrence) NewEvent(userID string) model.NewEvent {
	return model.NewEvent{
		Text:      o.Summary,
		Date:      o.Date(),
		AlarmTime: o.AlarmTime(),
		Completed: o.Completed,
		UserID:    userID,
	}
}

// MonthRange is the half-open window [Start, End) of one calendar month.
type MonthRange struct {
	Start time.Time
	End   time.Time
}

// MonthOf returns the month containing t, in t's location.
func MonthOf(t time.Time) MonthRange {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return MonthRange{Start: start, End: start.AddDate(0, 1, 0)}
}

// contains compares calendar dates so all-day occurrences, which live at
// UTC midnight, are bucketed by their own date.
func (m MonthRange) contains(o Occurrence) bool {
	first := model.DateOf(m.Start)
	last := model.DateOf(m.End.AddDate(0, 0, -1))
	d := o.Date()
	return d >= first && d <= last
}

// ExpandMonth expands single and recurring events into the occurrences
// that fall inside month. EXDATEs are skipped and RECURRENCE-ID overrides
// replace the instance they name. Occurrences are sorted by date, then
// start time, then UID.
func ExpandMonth(events []ParsedEvent, month MonthRange) ([]Occurrence, error) {
	if !month.End.After(month.Start) {
		return nil, errors.New("expand: empty month range")
	}
	loc := month.Start.Location()

	bases := make([]ParsedEvent, 0, len(events))
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	out := make([]Occurrence, 0)
	for _, ev := range bases {
		var starts []time.Time
		if ev.RawRRule == "" {
			starts = []time.Time{ev.Start}
		} else {
			starts = recurrences(ev, month)
		}
		for _, start := range starts {
			inst := ev
			if o, ok := findOverride(overrides[ev.UID], start); ok {
				inst = o
				start = o.Start
			}
			occ := makeOccurrence(inst, start, loc)
			if month.contains(occ) {
				out = append(out, occ)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date() != out[j].Date() {
			return out[i].Date() < out[j].Date()
		}
		if out[i].AlarmTime() != out[j].AlarmTime() {
			return out[i].AlarmTime() < out[j].AlarmTime()
		}
		return out[i].UID < out[j].UID
	})
	return out, nil
}

// recurrences lists RRULE instance starts near month. The window is padded
// by a day on each side so zone shifts cannot drop boundary instances;
// ExpandMonth filters by date afterwards.
func recurrences(ev ParsedEvent, month MonthRange) []time.Time {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	from := month.Start.AddDate(0, 0, -1).In(ev.Start.Location())
	to := month.End.AddDate(0, 0, 1).In(ev.Start.Location())
	starts := set.Between(from, to, true)
	if len(starts) > defaultMaxOccurrencesPerEvent {
		appLog.Error("expand: truncated occurrences",
			errors.New("max occurrences reached"),
			"uid", ev.UID,
			"cap", defaultMaxOccurrencesPerEvent,
		)
		starts = starts[:defaultMaxOccurrencesPerEvent]
	}
	return starts
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start time.Time, loc *time.Location) Occurrence {
	if ev.AllDay {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		start = start.In(loc)
	}
	return Occurrence{
		UID:       ev.UID,
		Summary:   ev.Summary,
		AllDay:    ev.AllDay,
		Start:     start,
		Alarm:     ev.Alarm,
		Completed: ev.Completed,
	}
}
