package clock

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"

	// DefaultZone is used when the schedule does not name one.
	DefaultZone = "Asia/Riyadh"
)

// Clock reports dates and times in one fixed zone, never the host default.
type Clock struct {
	Location *time.Location
	Now      func() time.Time
}

// New loads the named zone from the embedded tz database.
func New(zone string) (Clock, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Clock{}, fmt.Errorf("load timezone %s: %w", zone, err)
	}
	return Clock{Location: loc, Now: time.Now}, nil
}

// Fixed returns a clock frozen at t, for tests and replays.
func Fixed(loc *time.Location, t time.Time) Clock {
	return Clock{Location: loc, Now: func() time.Time { return t }}
}

func (c Clock) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

// Local returns the current instant in the clock's zone.
func (c Clock) Local() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().In(c.location())
}

// Today is the local calendar date as YYYY-MM-DD.
func (c Clock) Today() string {
	return c.Local().Format(DateLayout)
}

// Timestamp is the local wall time used for annotation datestamps.
func (c Clock) Timestamp() string {
	return c.Local().Format(TimestampLayout)
}

// DaysSince counts calendar days from start to today, floored at zero.
func (c Clock) DaysSince(start time.Time) int {
	now := c.Local()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	days := int(today.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
