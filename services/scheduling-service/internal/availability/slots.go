package availability

import (
	"sort"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

// Window is a merged availability range in minutes after local midnight.
type Window struct {
	StartMinute int
	EndMinute   int
}

// MergeWindows returns the active windows for weekday, sorted and with
// overlapping or touching windows merged so slot generation never emits a
// start time twice.
func MergeWindows(windows []model.WeeklyWindow, weekday time.Weekday) []Window {
	var day []Window
	for _, w := range windows {
		if !w.Active || w.DayOfWeek != int(weekday) || w.StartMinute >= w.EndMinute {
			continue
		}
		day = append(day, Window{StartMinute: w.StartMinute, EndMinute: w.EndMinute})
	}
	if len(day) == 0 {
		return nil
	}
	sort.Slice(day, func(i, j int) bool {
		if day[i].StartMinute != day[j].StartMinute {
			return day[i].StartMinute < day[j].StartMinute
		}
		return day[i].EndMinute < day[j].EndMinute
	})

	merged := make([]Window, 0, len(day))
	for _, cur := range day {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.StartMinute > last.EndMinute {
			merged = append(merged, cur)
			continue
		}
		if cur.EndMinute > last.EndMinute {
			last.EndMinute = cur.EndMinute
		}
	}
	return merged
}

// GenerateSlots returns the bookable [start,end) slots of day for cal. It is
// pure: identical inputs produce identical output.
//
// No slots are produced for an inactive calendar, a blocked date, or a day
// before today in the calendar's timezone. Slots starting at or before now
// are dropped.
func GenerateSlots(cal model.PropertyCalendar, windows []model.WeeklyWindow, blocked []model.BlockedDate, day model.Date, duration time.Duration, now time.Time) []model.Interval {
	if !cal.Active || duration <= 0 {
		return nil
	}
	loc := cal.Loc()
	if day.Before(model.DateOf(now.In(loc))) {
		return nil
	}
	for _, b := range blocked {
		if b.Date == day {
			return nil
		}
	}

	var slots []model.Interval
	for _, w := range MergeWindows(windows, day.Weekday()) {
		windowStart := day.At(w.StartMinute, loc)
		windowEnd := day.At(w.EndMinute, loc)
		for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(duration) {
			if !t.After(now) {
				continue
			}
			slots = append(slots, model.Interval{Start: t, End: t.Add(duration)})
		}
	}
	return slots
}

// FilterFree drops every slot that overlaps an interval of any busy set.
func FilterFree(slots []model.Interval, busy ...[]model.Interval) []model.Interval {
	out := make([]model.Interval, 0, len(slots))
	for _, s := range slots {
		free := true
		for _, set := range busy {
			if overlapsAny(s, set) {
				free = false
				break
			}
		}
		if free {
			out = append(out, s)
		}
	}
	return out
}

// Contains reports whether want is exactly one of slots.
func Contains(slots []model.Interval, want model.Interval) bool {
	for _, s := range slots {
		if s.Equal(want) {
			return true
		}
	}
	return false
}

func overlapsAny(slot model.Interval, busy []model.Interval) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}
