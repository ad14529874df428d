package scheduler

import (
	"time"

	"spacecal/internal/model"
)

// MaxDots is the number of indicator dots a day cell shows.
const MaxDots = 3

// DotColor is the indicator color of one event in a day cell.
type DotColor string

const (
	DotGreen  DotColor = "green"  // completed
	DotYellow DotColor = "yellow" // not completed
)

// WeekdayLabel is one column header of the month grid.
type WeekdayLabel struct {
	Label   string       `json:"label"`
	Weekday time.Weekday `json:"weekday"`
}

var weekdayLabels = [7]string{"S", "M", "T", "W", "T", "F", "S"}

// DayCell is one day of the displayed month.
type DayCell struct {
	Day      int           `json:"day"`
	Date     string        `json:"date"`
	Weekday  time.Weekday  `json:"weekday"`
	IsToday  bool          `json:"isToday"`
	Events   []model.Event `json:"events"`
	Dots     []DotColor    `json:"dots"`
	Overflow bool          `json:"overflow"`
	// Hidden counts events past the shown dots.
	Hidden int `json:"hidden"`
}

// MonthGrid is the rendered calendar for one month.
type MonthGrid struct {
	Year     int            `json:"year"`
	Month    time.Month     `json:"month"`
	Today    string         `json:"today"`
	Header   []WeekdayLabel `json:"header"`
	Leading  int            `json:"leading"`
	Days     []DayCell      `json:"days"`
	Missions int            `json:"missions"`
}

// BuildMonthGrid buckets events into the days of now's month. now's
// location decides both the month and which cell is today.
func BuildMonthGrid(now time.Time, events []model.Event, weekStart time.Weekday) MonthGrid {
	year, month, today := now.Date()
	first := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
	n := daysIn(year, month)

	byDate := make(map[string][]model.Event)
	for _, ev := range events {
		byDate[ev.Date] = append(byDate[ev.Date], ev)
	}

	g := MonthGrid{
		Year:     year,
		Month:    month,
		Today:    model.DateKey(year, month, today),
		Header:   header(weekStart),
		Leading:  (int(first.Weekday()) - int(weekStart) + 7) % 7,
		Days:     make([]DayCell, 0, n),
		Missions: len(events),
	}
	for d := 1; d <= n; d++ {
		key := model.DateKey(year, month, d)
		dayEvents := byDate[key]
		if dayEvents == nil {
			dayEvents = []model.Event{}
		}
		cell := DayCell{
			Day:     d,
			Date:    key,
			Weekday: time.Weekday((int(first.Weekday()) + d - 1) % 7),
			IsToday: d == today,
			Events:  dayEvents,
			Dots:    dots(dayEvents),
		}
		if len(dayEvents) > MaxDots {
			cell.Overflow = true
			cell.Hidden = len(dayEvents) - MaxDots
		}
		g.Days = append(g.Days, cell)
	}
	return g
}

// Cell returns the cell for day, or false if day is outside the month.
func (g MonthGrid) Cell(day int) (DayCell, bool) {
	if day < 1 || day > len(g.Days) {
		return DayCell{}, false
	}
	return g.Days[day-1], true
}

// EventsOn returns the events dated date, in snapshot order.
func EventsOn(events []model.Event, date string) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range events {
		if ev.Date == date {
			out = append(out, ev)
		}
	}
	return out
}

func dots(events []model.Event) []DotColor {
	n := min(len(events), MaxDots)
	out := make([]DotColor, 0, n)
	for _, ev := range events[:n] {
		if ev.Completed {
			out = append(out, DotGreen)
		} else {
			out = append(out, DotYellow)
		}
	}
	return out
}

func header(weekStart time.Weekday) []WeekdayLabel {
	out := make([]WeekdayLabel, 7)
	for i := range out {
		wd := time.Weekday((int(weekStart) + i) % 7)
		out[i] = WeekdayLabel{Label: weekdayLabels[wd], Weekday: wd}
	}
	return out
}

// daysIn uses day 0 of the next month, which normalizes to the last day
// of this one.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
