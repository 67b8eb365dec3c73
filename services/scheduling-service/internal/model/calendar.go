package model

import (
	"fmt"
	"time"
)

// PropertyCalendar is the bookable calendar of a property. A unit inside a
// building carries OwnerPropertyID and defers to the building's calendar.
type PropertyCalendar struct {
	PropertyID         string
	Title              string
	Active             bool
	Timezone           string
	OwnerPropertyID    *string
	ExternalCalendarID string
	Location           string
}

// Loc returns the calendar's timezone, falling back to UTC when it does not load.
func (c PropertyCalendar) Loc() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeeklyWindow is a recurring availability window in minutes after local midnight.
type WeeklyWindow struct {
	PropertyID  string
	DayOfWeek   int
	StartMinute int
	EndMinute   int
	Active      bool
}

type BlockedDate struct {
	PropertyID string
	Date       Date
	Reason     string
}

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open intervals [i.Start,i.End) and [o.Start,o.End) intersect.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Equal(o Interval) bool {
	return i.Start.Equal(o.Start) && i.End.Equal(o.End)
}

// Date is a calendar day without a timezone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const DateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// At returns the wall-clock time minute minutes after midnight of d in loc.
func (d Date) At(minute int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, minute, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}
