package availability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

type CalendarStore interface {
	GetCalendar(ctx context.Context, propertyID string) (model.PropertyCalendar, error)
	ListWeeklyWindows(ctx context.Context, propertyID string) ([]model.WeeklyWindow, error)
	ListBlockedDates(ctx context.Context, propertyID string, from, to model.Date) ([]model.BlockedDate, error)
}

// BookedIntervals lists non-cancelled appointment intervals on an owner calendar.
type BookedIntervals interface {
	ListActiveIntervals(ctx context.Context, ownerPropertyID string, start, end time.Time) ([]model.Interval, error)
}

type BusyQuerier interface {
	QueryBusy(ctx context.Context, calendarID string, start, end time.Time) ([]model.Interval, error)
}

type Resolver struct {
	calendars CalendarStore
	booked    BookedIntervals
	busy      BusyQuerier
	logger    *slog.Logger
	now       func() time.Time
}

func NewResolver(calendars CalendarStore, booked BookedIntervals, busy BusyQuerier, logger *slog.Logger) *Resolver {
	return &Resolver{
		calendars: calendars,
		booked:    booked,
		busy:      busy,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the resolver's notion of now.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Result is the outcome of an availability query against an owner calendar.
type Result struct {
	Calendar model.PropertyCalendar
	Slots    []model.Interval
}

// Resolve returns the property whose calendar governs propertyID: the parent
// building for a unit, otherwise the property itself.
func (r *Resolver) Resolve(ctx context.Context, propertyID string) (string, error) {
	cal, err := r.calendars.GetCalendar(ctx, propertyID)
	if err != nil {
		return "", err
	}
	return ownerOf(cal), nil
}

// OwnerCalendar resolves propertyID and loads the owner's calendar.
func (r *Resolver) OwnerCalendar(ctx context.Context, propertyID string) (model.PropertyCalendar, error) {
	cal, err := r.calendars.GetCalendar(ctx, propertyID)
	if err != nil {
		return model.PropertyCalendar{}, err
	}
	owner := ownerOf(cal)
	if owner == cal.PropertyID {
		return cal, nil
	}
	parent, err := r.calendars.GetCalendar(ctx, owner)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			r.logger.Warn("owner calendar missing", "property_id", propertyID, "owner_property_id", owner)
		}
		return model.PropertyCalendar{}, err
	}
	return parent, nil
}

// AvailableSlots returns the slots of day that are free on the owner calendar
// under the weekly windows, existing appointments, and the external free/busy
// view. A past day is a validation error even on an inactive calendar; an
// inactive calendar otherwise yields an empty result.
func (r *Resolver) AvailableSlots(ctx context.Context, propertyID string, day model.Date, duration time.Duration) (Result, error) {
	if duration <= 0 {
		return Result{}, apperr.Validation("duration must be positive")
	}
	cal, err := r.OwnerCalendar(ctx, propertyID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Calendar: cal}
	now := r.now()
	if day.Before(model.DateOf(now.In(cal.Loc()))) {
		return res, apperr.Validation("date is in the past")
	}
	if !cal.Active {
		return res, nil
	}

	windows, err := r.calendars.ListWeeklyWindows(ctx, cal.PropertyID)
	if err != nil {
		return res, err
	}
	blocked, err := r.calendars.ListBlockedDates(ctx, cal.PropertyID, day, day)
	if err != nil {
		return res, err
	}
	slots := GenerateSlots(cal, windows, blocked, day, duration, now)
	if len(slots) == 0 {
		return res, nil
	}

	start, end := slots[0].Start, slots[len(slots)-1].End
	booked, err := r.booked.ListActiveIntervals(ctx, cal.PropertyID, start, end)
	if err != nil {
		return res, err
	}
	busy, err := r.busy.QueryBusy(ctx, cal.ExternalCalendarID, start, end)
	if err != nil {
		r.logger.Error("free/busy query failed", "property_id", cal.PropertyID, "err", err)
		return res, apperr.Upstream("external calendar free/busy query failed", err)
	}

	res.Slots = FilterFree(slots, booked, busy)
	return res, nil
}

func ownerOf(cal model.PropertyCalendar) string {
	if cal.OwnerPropertyID != nil && *cal.OwnerPropertyID != "" {
		return *cal.OwnerPropertyID
	}
	return cal.PropertyID
}
