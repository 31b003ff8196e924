package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ZoneName is the exchange's civil time zone (UTC+5:45).
const ZoneName = "Asia/Kathmandu"

// ClockTime is a time-of-day boundary within the exchange zone.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" into a ClockTime.
func ParseClock(s string) (ClockTime, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

// String renders the boundary as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Window is a weekday-scoped trading interval. Open is inclusive, Close is
// exclusive: at exactly Close the market reports closed.
type Window struct {
	Name  string
	Days  []time.Weekday
	Open  ClockTime
	Close ClockTime
}

func (w Window) contains(minuteOfDay int) bool {
	return minuteOfDay >= w.Open.minutes() && minuteOfDay < w.Close.minutes()
}

// Calendar answers whether the exchange is trading at a given moment.
// All comparisons happen in the exchange zone regardless of the caller's
// zone, since the trigger environment runs in UTC.
type Calendar struct {
	loc     *time.Location
	windows map[time.Weekday]Window
}

// DefaultWindows returns the canonical NEPSE sessions: Sunday-Thursday
// 11:00-15:00 and the short Friday session 11:00-13:00. Saturday has no
// window and is always closed.
func DefaultWindows() []Window {
	return []Window{
		{
			Name:  "standard",
			Days:  []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday},
			Open:  ClockTime{Hour: 11},
			Close: ClockTime{Hour: 15},
		},
		{
			Name:  "short",
			Days:  []time.Weekday{time.Friday},
			Open:  ClockTime{Hour: 11},
			Close: ClockTime{Hour: 13},
		},
	}
}

// NewCalendar builds a Calendar for the given zone and windows. Each weekday
// may be claimed by at most one window.
func NewCalendar(loc *time.Location, windows []Window) (*Calendar, error) {
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(ZoneName)
		if err != nil {
			return nil, fmt.Errorf("load exchange zone: %w", err)
		}
	}

	byDay := make(map[time.Weekday]Window, len(windows))
	for _, w := range windows {
		if w.Open.minutes() >= w.Close.minutes() {
			return nil, fmt.Errorf("window %q: open %s not before close %s", w.Name, w.Open, w.Close)
		}
		for _, day := range w.Days {
			if prev, ok := byDay[day]; ok {
				return nil, fmt.Errorf("weekday %s claimed by both %q and %q", day, prev.Name, w.Name)
			}
			byDay[day] = w
		}
	}

	return &Calendar{loc: loc, windows: byDay}, nil
}

// mustDefault builds the default NEPSE calendar and panics on a broken zone
// database, which is a deployment defect rather than a runtime condition.
func mustDefault() *Calendar {
	cal, err := NewCalendar(nil, DefaultWindows())
	if err != nil {
		panic(err)
	}
	return cal
}

// Location returns the exchange zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now returns the current instant converted to the exchange zone.
func (c *Calendar) Now() time.Time {
	return time.Now().In(c.loc)
}

// windowFor is the single source of truth for the weekday-to-window mapping.
// Both IsOpen and DescribeSchedule go through it so diagnostics can never
// disagree with the gating verdict.
func (c *Calendar) windowFor(day time.Weekday) (Window, bool) {
	w, ok := c.windows[day]
	return w, ok
}

// IsOpen reports whether the market is trading at t.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	w, ok := c.windowFor(local.Weekday())
	if !ok {
		return false
	}
	return w.contains(local.Hour()*60 + local.Minute())
}

// DescribeSchedule summarises the session applicable at t for operator
// logging. Purely descriptive; computed from the same window lookup as
// IsOpen.
func (c *Calendar) DescribeSchedule(t time.Time) string {
	local := t.In(c.loc)
	day := local.Weekday()

	w, ok := c.windowFor(day)
	if !ok {
		return fmt.Sprintf("%s: no trading session, market closed all day", day)
	}

	state := "market closed"
	if w.contains(local.Hour()*60 + local.Minute()) {
		state = "market open"
	}
	return fmt.Sprintf("%s session on %s, %s-%s NPT, %s", w.Name, day, w.Open, w.Close, state)
}
