package availability

import (
	"testing"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

// 2026-03-02 is a Monday.
var monday = model.Date{Year: 2026, Month: time.March, Day: 2}

func activeCal() model.PropertyCalendar {
	return model.PropertyCalendar{PropertyID: "p1", Active: true, Timezone: "UTC"}
}

func mondayNineToFive() []model.WeeklyWindow {
	return []model.WeeklyWindow{{PropertyID: "p1", DayOfWeek: 1, StartMinute: 9 * 60, EndMinute: 17 * 60, Active: true}}
}

func TestGenerateSlots_Basic(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	slots := GenerateSlots(activeCal(), mondayNineToFive(), nil, monday, time.Hour, now)
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(monday.At(9*60, time.UTC)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start.Format(time.RFC3339))
	}
	if !slots[7].End.Equal(monday.At(17*60, time.UTC)) {
		t.Fatalf("expected last slot to end 17:00, got %s", slots[7].End.Format(time.RFC3339))
	}
}

func TestGenerateSlots_NonOverlappingExactLength(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	windows := []model.WeeklyWindow{
		{DayOfWeek: 1, StartMinute: 9 * 60, EndMinute: 12*60 + 10, Active: true},
		{DayOfWeek: 1, StartMinute: 11 * 60, EndMinute: 13 * 60, Active: true},
		{DayOfWeek: 1, StartMinute: 15 * 60, EndMinute: 16*60 + 40, Active: true},
	}
	for _, d := range []time.Duration{15 * time.Minute, 25 * time.Minute, 45 * time.Minute, 90 * time.Minute} {
		slots := GenerateSlots(activeCal(), windows, nil, monday, d, now)
		if len(slots) == 0 {
			t.Fatalf("duration %s: expected slots", d)
		}
		for i, s := range slots {
			if s.End.Sub(s.Start) != d {
				t.Fatalf("duration %s: slot %d has length %s", d, i, s.End.Sub(s.Start))
			}
			for j := i + 1; j < len(slots); j++ {
				if s.Overlaps(slots[j]) {
					t.Fatalf("duration %s: slots %d and %d overlap", d, i, j)
				}
			}
		}
	}
}

func TestGenerateSlots_Deterministic(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	a := GenerateSlots(activeCal(), mondayNineToFive(), nil, monday, 30*time.Minute, now)
	b := GenerateSlots(activeCal(), mondayNineToFive(), nil, monday, 30*time.Minute, now)
	if len(a) != len(b) {
		t.Fatalf("expected identical output, got %d and %d slots", len(a), len(b))
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Fatalf("slot %d differs", i)
		}
	}
}

func TestGenerateSlots_BlockedDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	blocked := []model.BlockedDate{{PropertyID: "p1", Date: monday, Reason: "holiday"}}
	if slots := GenerateSlots(activeCal(), mondayNineToFive(), blocked, monday, time.Hour, now); len(slots) != 0 {
		t.Fatalf("expected no slots on a blocked date, got %d", len(slots))
	}
}

func TestGenerateSlots_PastDateAndPastTimes(t *testing.T) {
	later := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	if slots := GenerateSlots(activeCal(), mondayNineToFive(), nil, monday, time.Hour, later); len(slots) != 0 {
		t.Fatalf("expected no slots for a past date, got %d", len(slots))
	}

	midday := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)
	slots := GenerateSlots(activeCal(), mondayNineToFive(), nil, monday, time.Hour, midday)
	if len(slots) != 4 {
		t.Fatalf("expected 13:00..16:00, got %d slots", len(slots))
	}
	if !slots[0].Start.Equal(monday.At(13*60, time.UTC)) {
		t.Fatalf("expected first slot 13:00, got %s", slots[0].Start.Format(time.RFC3339))
	}
}

func TestGenerateSlots_PastDateUsesCalendarTimezone(t *testing.T) {
	cal := activeCal()
	cal.Timezone = "America/New_York"
	// 02:00 UTC Tuesday is still Monday evening in New York.
	now := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)
	windows := []model.WeeklyWindow{{DayOfWeek: 1, StartMinute: 22 * 60, EndMinute: 23 * 60, Active: true}}
	if slots := GenerateSlots(cal, windows, nil, monday, time.Hour, now); len(slots) != 1 {
		t.Fatalf("expected the 22:00 local slot, got %d", len(slots))
	}
}

func TestGenerateSlots_InactiveCalendar(t *testing.T) {
	cal := activeCal()
	cal.Active = false
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if slots := GenerateSlots(cal, mondayNineToFive(), nil, monday, time.Hour, now); len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func TestMergeWindows(t *testing.T) {
	windows := []model.WeeklyWindow{
		{DayOfWeek: 1, StartMinute: 600, EndMinute: 720, Active: true},
		{DayOfWeek: 1, StartMinute: 540, EndMinute: 660, Active: true},
		{DayOfWeek: 1, StartMinute: 720, EndMinute: 780, Active: true},
		{DayOfWeek: 1, StartMinute: 900, EndMinute: 960, Active: true},
		{DayOfWeek: 1, StartMinute: 1000, EndMinute: 1100, Active: false},
		{DayOfWeek: 2, StartMinute: 0, EndMinute: 60, Active: true},
		{DayOfWeek: 1, StartMinute: 300, EndMinute: 300, Active: true},
	}
	merged := MergeWindows(windows, time.Monday)
	want := []Window{{540, 780}, {900, 960}}
	if len(merged) != len(want) {
		t.Fatalf("expected %v, got %v", want, merged)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, merged)
		}
	}
}

func TestFilterFree_ExistingAppointment(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	slots := GenerateSlots(activeCal(), mondayNineToFive(), nil, monday, time.Hour, now)
	booked := []model.Interval{{Start: monday.At(10*60, time.UTC), End: monday.At(11*60, time.UTC)}}

	free := FilterFree(slots, booked)
	if len(free) != 7 {
		t.Fatalf("expected 7 free slots, got %d", len(free))
	}
	wantHours := []int{9, 11, 12, 13, 14, 15, 16}
	for i, h := range wantHours {
		if free[i].Start.Hour() != h {
			t.Fatalf("slot %d: expected %02d:00, got %s", i, h, free[i].Start.Format("15:04"))
		}
	}
}

func TestFilterFree_TouchingIntervalsDoNotConflict(t *testing.T) {
	slot := model.Interval{Start: monday.At(9*60, time.UTC), End: monday.At(10*60, time.UTC)}
	busy := []model.Interval{{Start: monday.At(10*60, time.UTC), End: monday.At(11*60, time.UTC)}}
	if free := FilterFree([]model.Interval{slot}, busy); len(free) != 1 {
		t.Fatalf("expected touching interval to leave slot free")
	}
}

func TestContains(t *testing.T) {
	slots := []model.Interval{{Start: monday.At(9*60, time.UTC), End: monday.At(10*60, time.UTC)}}
	if !Contains(slots, model.Interval{Start: monday.At(9*60, time.UTC), End: monday.At(10*60, time.UTC)}) {
		t.Fatalf("expected exact match")
	}
	if Contains(slots, model.Interval{Start: monday.At(9*60+30, time.UTC), End: monday.At(10*60+30, time.UTC)}) {
		t.Fatalf("expected shifted interval to be rejected")
	}
}
