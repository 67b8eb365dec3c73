package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/calendar"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/outbox"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/reminders"
)

// Patch is a staff edit; nil fields are left unchanged.
type Patch struct {
	StartTime   *time.Time
	Duration    *time.Duration
	Title       *string
	Description *string
	Location    *string
}

// Update applies a staff edit. The external event is updated first; if the
// row then cannot be saved the event is restored. A time change replaces the
// pending reminders.
func (o *Orchestrator) Update(ctx context.Context, id string, p Patch) (model.Appointment, error) {
	log := o.d.Logger.With("appointment_id", id)
	cur, err := o.d.Store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if cur.Status == model.StatusCancelled {
		return model.Appointment{}, apperr.Validation("cancelled appointments cannot be edited")
	}

	next := cur
	if p.StartTime != nil {
		next.StartTime = p.StartTime.UTC()
		next.EndTime = next.StartTime.Add(cur.Duration())
	}
	if p.Duration != nil {
		if *p.Duration <= 0 || *p.Duration > MaxDuration {
			return model.Appointment{}, apperr.Validation(fmt.Sprintf("duration must be between 1 and %d minutes", int(MaxDuration/time.Minute)))
		}
		next.EndTime = next.StartTime.Add(*p.Duration)
	}
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return model.Appointment{}, apperr.Validation("title must not be empty")
		}
		next.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.Location != nil {
		next.Location = *p.Location
	}
	moved := !next.StartTime.Equal(cur.StartTime) || !next.EndTime.Equal(cur.EndTime)
	if moved && !next.StartTime.After(o.now()) {
		return model.Appointment{}, apperr.Validation("startTime must be in the future")
	}

	cal, err := o.d.Availability.OwnerCalendar(ctx, cur.OwnerPropertyID)
	if err != nil {
		return model.Appointment{}, err
	}
	if cur.ExternalEventID != "" {
		if err := o.d.Gateway.UpdateEvent(ctx, cal.ExternalCalendarID, cur.ExternalEventID, calendar.EventFor(next, cal.Timezone)); err != nil {
			log.Error("update external event failed", "err", err)
			return model.Appointment{}, apperr.Upstream("could not update calendar event", err)
		}
	}

	ctx = context.WithoutCancel(ctx)
	saved, err := o.d.Store.UpdateAppointment(ctx, next)
	if err != nil {
		if cur.ExternalEventID != "" {
			if rerr := o.d.Gateway.UpdateEvent(ctx, cal.ExternalCalendarID, cur.ExternalEventID, calendar.EventFor(cur, cal.Timezone)); rerr != nil {
				log.Error("restore external event failed", "external_event_id", cur.ExternalEventID, "err", rerr)
			}
		}
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
			return model.Appointment{}, err
		}
		log.Error("persist appointment update failed", "err", err)
		return model.Appointment{}, apperr.Upstream("could not save appointment", err)
	}

	if moved {
		if err := o.d.Notifier.UpdateAppointmentReminders(ctx, o.details(ctx, saved, cal)); err != nil {
			log.Error("replace reminders failed", "err", err)
		}
	}
	o.record(ctx, log, saved, "appointment_updated", "Appointment details updated by staff", outbox.EventAppointmentUpdated)
	return saved, nil
}

// Delete removes an appointment. The external event goes first; if that fails
// the row is kept so the reference is not lost.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	log := o.d.Logger.With("appointment_id", id)
	appt, err := o.d.Store.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if appt.ExternalEventID != "" {
		cal, err := o.d.Availability.OwnerCalendar(ctx, appt.OwnerPropertyID)
		if err != nil {
			return err
		}
		if err := o.d.Gateway.DeleteEvent(ctx, cal.ExternalCalendarID, appt.ExternalEventID); err != nil {
			log.Error("delete external event failed", "external_event_id", appt.ExternalEventID, "err", err)
			return apperr.Upstream("could not delete calendar event", err)
		}
	}

	ctx = context.WithoutCancel(ctx)
	if err := o.d.Notifier.CancelAppointmentReminders(ctx, id); err != nil {
		log.Error("cancel reminders failed", "err", err)
	}
	if err := o.d.Store.DeleteAppointment(ctx, id); err != nil {
		log.Error("delete appointment failed", "err", err)
		return err
	}
	o.record(ctx, log, appt, "appointment_deleted", "Appointment deleted by staff", outbox.EventAppointmentDeleted)
	log.Info("appointment deleted")
	return nil
}

// List returns the appointments on the calendar that governs propertyID.
func (o *Orchestrator) List(ctx context.Context, propertyID string) ([]model.Appointment, error) {
	if strings.TrimSpace(propertyID) == "" {
		return nil, apperr.Validation("propertyId is required")
	}
	cal, err := o.d.Availability.OwnerCalendar(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return o.d.Store.ListAppointments(ctx, cal.PropertyID)
}

func (o *Orchestrator) details(ctx context.Context, appt model.Appointment, cal model.PropertyCalendar) reminders.Details {
	d := reminders.Details{Appointment: appt, TimeZone: cal.Timezone}
	if len(appt.Attendees) > 0 {
		d.Email = appt.Attendees[0]
	}
	if appt.LeadID == nil {
		return d
	}
	lead, err := o.d.Leads.GetLead(ctx, *appt.LeadID)
	if err != nil {
		o.d.Logger.Warn("load lead for reminders failed", "appointment_id", appt.ID, "err", err)
		return d
	}
	d.Name, d.Phone = lead.Name, lead.Phone
	if lead.Email != "" {
		d.Email = lead.Email
	}
	return d
}
