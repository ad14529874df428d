package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacecal/internal/model"
)

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyCatchUp, p)

	p, err = ParsePolicy(" EXACT ")
	require.NoError(t, err)
	assert.Equal(t, PolicyExact, p)

	_, err = ParsePolicy("whenever")
	assert.Error(t, err)
}

func TestDuePolicies(t *testing.T) {
	armed := model.Event{ID: "a", Date: "2024-03-05", AlarmTime: "09:30"}
	at := func(h, m int) time.Time { return time.Date(2024, time.March, 5, h, m, 42, 0, time.UTC) }

	tests := []struct {
		name    string
		ev      model.Event
		now     time.Time
		exact   bool
		catchUp bool
	}{
		{"same minute", armed, at(9, 30), true, true},
		{"before alarm", armed, at(9, 29), false, false},
		{"minute passed", armed, at(11, 0), false, true},
		{"already triggered", func() model.Event { e := armed; e.AlarmTriggered = true; return e }(), at(9, 30), false, false},
		{"no alarm", model.Event{ID: "b", Date: "2024-03-05"}, at(9, 30), false, false},
		{"other day", armed, time.Date(2024, time.March, 6, 9, 30, 0, 0, time.UTC), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.exact, PolicyExact.Due(tt.ev, tt.now))
			assert.Equal(t, tt.catchUp, PolicyCatchUp.Due(tt.ev, tt.now))
		})
	}
}

func TestPendingSetDeduplicates(t *testing.T) {
	p := newPendingSet()
	assert.True(t, p.add(model.Event{ID: "a"}))
	assert.False(t, p.add(model.Event{ID: "a"}))
	assert.True(t, p.add(model.Event{ID: "b"}))
	assert.Len(t, p.list(), 2)

	assert.True(t, p.remove("a"))
	assert.False(t, p.remove("a"))
	assert.False(t, p.has("a"))
	require.Len(t, p.list(), 1)
	assert.Equal(t, "b", p.list()[0].ID)
}

func TestPropertyDuePolicies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	at := func(minute int) time.Time {
		return time.Date(2024, time.March, 5, minute/60, minute%60, 0, 0, time.UTC)
	}
	armed := func(alarm int) model.Event {
		return model.Event{ID: "a", Date: "2024-03-05", AlarmTime: fmt.Sprintf("%02d:%02d", alarm/60, alarm%60)}
	}

	properties.Property("exact fires only in the alarm minute", prop.ForAll(
		func(alarm, now int) bool {
			return PolicyExact.Due(armed(alarm), at(now)) == (alarm == now)
		},
		gen.IntRange(0, 24*60-1),
		gen.IntRange(0, 24*60-1),
	))

	properties.Property("catch_up stays due for the rest of the day", prop.ForAll(
		func(alarm, now int) bool {
			return PolicyCatchUp.Due(armed(alarm), at(now)) == (alarm <= now)
		},
		gen.IntRange(0, 24*60-1),
		gen.IntRange(0, 24*60-1),
	))

	properties.Property("a triggered alarm is never due", prop.ForAll(
		func(alarm, now int) bool {
			ev := armed(alarm)
			ev.AlarmTriggered = true
			return !PolicyExact.Due(ev, at(now)) && !PolicyCatchUp.Due(ev, at(now))
		},
		gen.IntRange(0, 24*60-1),
		gen.IntRange(0, 24*60-1),
	))

	properties.TestingRun(t)
}
