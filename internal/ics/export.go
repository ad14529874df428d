package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"spacecal/internal/model"
)

const productID = "-//spacecal//Space Scheduler//EN"

// Export renders events as an all-day VCALENDAR. The alarm time and the
// completion state survive a round trip through ParseICS.
func Export(events []model.Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		day, err := time.ParseInLocation(model.DateLayout, ev.Date, time.UTC)
		if err != nil {
			continue
		}
		ve := cal.AddEvent(ev.ID + "@spacecal")
		ve.SetDtStampTime(now.UTC())
		ve.SetCreatedTime(ev.CreatedAt.UTC())
		ve.SetSummary(ev.Text)
		ve.SetAllDayStartAt(day)
		ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
		if ev.HasAlarm() {
			ve.SetProperty(PropertyAlarm, ev.AlarmTime)
		}
		if ev.Completed {
			ve.SetStatus(ical.ObjectStatusCompleted)
		} else {
			ve.SetStatus(ical.ObjectStatusNeedsAction)
		}
	}
	return cal.Serialize()
}
