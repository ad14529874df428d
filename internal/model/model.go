package model

import (
	"fmt"
	"strings"
	"time"

	apperr "spacecal/internal/errors"
)

const (
	// DateLayout is the calendar date key format (YYYY-MM-DD).
	DateLayout = "2006-01-02"
	// AlarmLayout is the 24-hour time-of-day format (HH:MM).
	AlarmLayout = "15:04"
)

// Event is a user-owned scheduled item with an optional alarm.
type Event struct {
	ID   string `json:"id"`
	Text string `json:"text"`

	// Date is the calendar day in YYYY-MM-DD form.
	Date string `json:"date"`
	// AlarmTime is HH:MM (24h). Empty means no alarm.
	AlarmTime string `json:"alarmTime,omitempty"`

	Completed bool `json:"completed"`
	// AlarmTriggered goes false -> true exactly once and is never reset.
	AlarmTriggered bool `json:"alarmTriggered"`

	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasAlarm reports whether an alarm time is set.
func (e Event) HasAlarm() bool {
	return e.AlarmTime != ""
}

// Armed reports whether the event has a set, not-yet-triggered alarm.
func (e Event) Armed() bool {
	return e.HasAlarm() && !e.AlarmTriggered
}

// NewEvent is an Event before the store assigns it an id.
type NewEvent struct {
	Text           string
	Date           string
	AlarmTime      string
	Completed      bool
	AlarmTriggered bool
	UserID         string
	CreatedAt      time.Time
}

// WithID materializes the stored form of ev.
func (ev NewEvent) WithID(id string) Event {
	return Event{
		ID:             id,
		Text:           ev.Text,
		Date:           ev.Date,
		AlarmTime:      ev.AlarmTime,
		Completed:      ev.Completed,
		AlarmTriggered: ev.AlarmTriggered,
		UserID:         ev.UserID,
		CreatedAt:      ev.CreatedAt,
	}
}

// EventPatch carries the partial fields of an update. Nil fields are left
// untouched.
type EventPatch struct {
	Completed      *bool `json:"completed,omitempty"`
	AlarmTriggered *bool `json:"alarmTriggered,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p EventPatch) Empty() bool {
	return p.Completed == nil && p.AlarmTriggered == nil
}

// Validate rejects patches that would re-arm a fired alarm.
func (p EventPatch) Validate() error {
	if p.AlarmTriggered != nil && !*p.AlarmTriggered {
		return apperr.NewValidationError(apperr.CodeAlarmReset, "alarmTriggered cannot be reset")
	}
	return nil
}

// Apply returns ev with the patch applied.
func (p EventPatch) Apply(ev Event) Event {
	if p.Completed != nil {
		ev.Completed = *p.Completed
	}
	if p.AlarmTriggered != nil {
		ev.AlarmTriggered = *p.AlarmTriggered
	}
	return ev
}

// SetCompleted builds a patch that sets completed to v.
func SetCompleted(v bool) EventPatch {
	return EventPatch{Completed: &v}
}

// MarkTriggered builds the alarm-firing patch.
func MarkTriggered() EventPatch {
	v := true
	return EventPatch{AlarmTriggered: &v}
}

// DateKey formats a calendar day with zero-padded month and day.
func DateKey(year int, month time.Month, day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, int(month), day)
}

// DateOf returns the date key of t in t's location.
func DateOf(t time.Time) string {
	return DateKey(t.Year(), t.Month(), t.Day())
}

// MinuteOf returns t truncated to HH:MM in t's location.
func MinuteOf(t time.Time) string {
	return t.Format(AlarmLayout)
}

// ParseDate validates a YYYY-MM-DD key and returns it normalized.
func ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", apperr.NewValidationError(apperr.CodeInvalidDate, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s))
	}
	return t.Format(DateLayout), nil
}

// ParseAlarmTime validates an optional HH:MM value. Empty input means no
// alarm and is not an error.
func ParseAlarmTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	t, err := time.Parse(AlarmLayout, s)
	if err != nil {
		return "", apperr.NewValidationError(apperr.CodeInvalidAlarmTime, fmt.Sprintf("invalid alarm time %q, want HH:MM", s))
	}
	return t.Format(AlarmLayout), nil
}
