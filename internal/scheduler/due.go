package scheduler

import (
	"fmt"
	"strings"
	"time"

	"spacecal/internal/model"
)

// DuePolicy decides whether an armed alarm fires at a given minute.
type DuePolicy string

const (
	// PolicyExact fires only during the alarm's own minute. A missed tick
	// skips the alarm for the day.
	PolicyExact DuePolicy = "exact"
	// PolicyCatchUp fires any alarm of today whose minute has passed.
	PolicyCatchUp DuePolicy = "catch_up"
)

// ParsePolicy accepts "exact" or "catch_up"; empty means catch_up.
func ParsePolicy(s string) (DuePolicy, error) {
	switch DuePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyCatchUp:
		return PolicyCatchUp, nil
	case PolicyExact:
		return PolicyExact, nil
	default:
		return "", fmt.Errorf("unknown alarm policy %q (want exact or catch_up)", s)
	}
}

// Due reports whether ev's alarm is due at now. now must already be in
// the scheduler's location. Pending state is checked by the caller.
func (p DuePolicy) Due(ev model.Event, now time.Time) bool {
	if !ev.Armed() || ev.Date != model.DateOf(now) {
		return false
	}
	minute := model.MinuteOf(now)
	if p == PolicyExact {
		return ev.AlarmTime == minute
	}
	// Zero-padded HH:MM compares correctly as a string.
	return ev.AlarmTime <= minute
}
