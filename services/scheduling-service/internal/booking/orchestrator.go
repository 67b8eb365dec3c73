// Package booking turns a requested slot into a persisted appointment that is
// mirrored on the owner's external calendar.
//
// A booking attempt moves Requested -> Validated -> ExternalEventCreated ->
// Persisted -> Complete. When persisting fails after the external event
// exists, the event is deleted again (Compensated) and the attempt fails.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/availability"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/calendar"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/outbox"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/reminders"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/tokens"
)

// MaxDuration bounds a single booking.
const MaxDuration = 8 * time.Hour

// Store persists appointments. CreateAppointment and UpdateAppointment return
// apperr.ErrConflict when the interval overlaps a live appointment on the
// same owner calendar; that check is the final authority on double booking.
type Store interface {
	CreateAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error
	ListAppointments(ctx context.Context, ownerPropertyID string) ([]model.Appointment, error)
}

// LeadStore matches leads by email case-insensitively.
type LeadStore interface {
	FindOrCreateLead(ctx context.Context, lead model.Lead) (model.Lead, bool, error)
	GetLead(ctx context.Context, id string) (model.Lead, error)
}

type Availability interface {
	OwnerCalendar(ctx context.Context, propertyID string) (model.PropertyCalendar, error)
	AvailableSlots(ctx context.Context, propertyID string, day model.Date, duration time.Duration) (availability.Result, error)
}

type Notifier interface {
	ScheduleAppointmentReminders(ctx context.Context, d reminders.Details) error
	UpdateAppointmentReminders(ctx context.Context, d reminders.Details) error
	CancelAppointmentReminders(ctx context.Context, appointmentID string) error
	ScheduleConfirmation(ctx context.Context, d reminders.Details, links map[model.TokenAction]string) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, appointmentID string) (model.ActionTokens, error)
}

type ActivityLog interface {
	AppendActivity(ctx context.Context, a model.LeadActivity) error
}

type EventSink interface {
	Append(ctx context.Context, evt outbox.Event) error
}

type Deps struct {
	Store         Store
	Leads         LeadStore
	Availability  Availability
	Gateway       calendar.Gateway
	Notifier      Notifier
	Tokens        TokenIssuer
	Activity      ActivityLog
	Events        EventSink
	Logger        *slog.Logger
	PublicBaseURL string
}

type Orchestrator struct {
	d   Deps
	now func() time.Time
}

func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{d: d, now: time.Now}
}

// WithClock overrides the orchestrator's notion of now.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

type Request struct {
	PropertyID string
	Name       string
	Email      string
	Phone      string
	StartTime  time.Time
	Duration   time.Duration
	Title      string
	Notes      string
}

type Result struct {
	Appointment model.Appointment
	Lead        model.Lead
}

func (o *Orchestrator) validate(req *Request) error {
	req.PropertyID = strings.TrimSpace(req.PropertyID)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	switch {
	case req.PropertyID == "":
		return apperr.Validation("propertyId is required")
	case req.Name == "":
		return apperr.Validation("name is required")
	case req.Email == "":
		return apperr.Validation("email is required")
	case req.StartTime.IsZero():
		return apperr.Validation("startTime is required")
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		return apperr.Validation("email is not a valid address")
	}
	if req.Duration <= 0 || req.Duration > MaxDuration {
		return apperr.Validation(fmt.Sprintf("duration must be between 1 and %d minutes", int(MaxDuration/time.Minute)))
	}
	if !req.StartTime.After(o.now()) {
		return apperr.Validation("startTime must be in the future")
	}
	return nil
}

// Book runs one booking attempt. It returns apperr.ErrConflict when the exact
// interval is not free; it never picks a different slot.
func (o *Orchestrator) Book(ctx context.Context, req Request) (Result, error) {
	log := o.d.Logger.With("property_id", req.PropertyID)

	// Requested
	if err := o.validate(&req); err != nil {
		return Result{}, err
	}
	want := model.Interval{Start: req.StartTime, End: req.StartTime.Add(req.Duration)}

	// Validated
	cal, err := o.d.Availability.OwnerCalendar(ctx, req.PropertyID)
	if err != nil {
		return Result{}, err
	}
	day := model.DateOf(req.StartTime.In(cal.Loc()))
	avail, err := o.d.Availability.AvailableSlots(ctx, req.PropertyID, day, req.Duration)
	if err != nil {
		return Result{}, err
	}
	if !availability.Contains(avail.Slots, want) {
		log.Info("requested slot unavailable", "start", want.Start, "end", want.End)
		return Result{}, apperr.Conflict("the requested time slot is not available", nil)
	}

	appt := model.Appointment{
		PropertyID:      &req.PropertyID,
		OwnerPropertyID: cal.PropertyID,
		Title:           titleFor(req, cal),
		Description:     descriptionFor(req),
		StartTime:       want.Start.UTC(),
		EndTime:         want.End.UTC(),
		Location:        cal.Location,
		Attendees:       []string{req.Email},
		Status:          model.StatusScheduled,
	}

	// ExternalEventCreated
	eventID, err := o.d.Gateway.CreateEvent(ctx, cal.ExternalCalendarID, calendar.EventFor(appt, cal.Timezone))
	if err != nil {
		log.Error("create external event failed", "err", err)
		return Result{}, apperr.Upstream("could not create calendar event", err)
	}
	appt.ExternalEventID = eventID
	log = log.With("external_event_id", eventID)

	// The external event exists: finish or compensate regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	// Persisted
	lead, _, err := o.d.Leads.FindOrCreateLead(ctx, model.Lead{Name: req.Name, Email: req.Email, Phone: req.Phone})
	if err != nil {
		o.compensate(ctx, log, cal, eventID)
		return Result{}, apperr.Upstream("could not record lead", err)
	}
	appt.LeadID = &lead.ID
	saved, err := o.d.Store.CreateAppointment(ctx, appt)
	if err != nil {
		o.compensate(ctx, log, cal, eventID)
		if errors.Is(err, apperr.ErrConflict) {
			log.Info("slot taken at persistence time")
			return Result{}, err
		}
		log.Error("persist appointment failed", "err", err)
		return Result{}, apperr.Upstream("could not save appointment", err)
	}
	log = log.With("appointment_id", saved.ID)

	// Complete
	o.complete(ctx, log, saved, lead, cal)
	log.Info("appointment booked", "lead_id", lead.ID)
	return Result{Appointment: saved, Lead: lead}, nil
}

// compensate deletes the external event of a booking that could not be persisted.
func (o *Orchestrator) compensate(ctx context.Context, log *slog.Logger, cal model.PropertyCalendar, eventID string) {
	if err := o.d.Gateway.DeleteEvent(ctx, cal.ExternalCalendarID, eventID); err != nil {
		log.Error("compensating delete failed; external event orphaned", "err", err)
		return
	}
	log.Warn("booking compensated; external event deleted")
}

// complete runs the best-effort follow-ups of a persisted booking.
func (o *Orchestrator) complete(ctx context.Context, log *slog.Logger, appt model.Appointment, lead model.Lead, cal model.PropertyCalendar) {
	d := reminders.Details{Appointment: appt, Name: lead.Name, Email: lead.Email, Phone: lead.Phone, TimeZone: cal.Timezone}
	if d.Email == "" && len(appt.Attendees) > 0 {
		d.Email = appt.Attendees[0]
	}

	toks, err := o.d.Tokens.Issue(ctx, appt.ID)
	if err != nil {
		log.Error("issue action tokens failed", "err", err)
	} else if err := o.d.Notifier.ScheduleConfirmation(ctx, d, tokens.Links(o.d.PublicBaseURL, toks)); err != nil {
		log.Error("enqueue booking confirmation failed", "err", err)
	}
	if err := o.d.Notifier.ScheduleAppointmentReminders(ctx, d); err != nil {
		log.Error("enqueue reminders failed", "err", err)
	}
	o.record(ctx, log, appt, "appointment_scheduled",
		fmt.Sprintf("Showing scheduled for %s", appt.StartTime.In(cal.Loc()).Format("Mon Jan 2 3:04 PM")),
		outbox.EventAppointmentBooked)
}

func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, appt model.Appointment, kind, description, eventType string) {
	if appt.LeadID != nil {
		err := o.d.Activity.AppendActivity(ctx, model.LeadActivity{
			LeadID:      *appt.LeadID,
			Kind:        kind,
			Description: description,
			Metadata:    map[string]any{"appointment_id": appt.ID},
		})
		if err != nil {
			log.Error("append lead activity failed", "err", err)
		}
	}
	evt, err := outbox.AppointmentEvent(eventType, appt, nil)
	if err == nil {
		err = o.d.Events.Append(ctx, evt)
	}
	if err != nil {
		log.Error("append outbox event failed", "event_type", eventType, "err", err)
	}
}

func titleFor(req Request, cal model.PropertyCalendar) string {
	if t := strings.TrimSpace(req.Title); t != "" {
		return t
	}
	if cal.Title != "" {
		return "Showing: " + cal.Title + " with " + req.Name
	}
	return "Property showing with " + req.Name
}

func descriptionFor(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Booked by %s <%s>", req.Name, req.Email)
	if req.Phone != "" {
		fmt.Fprintf(&b, ", %s", req.Phone)
	}
	if n := strings.TrimSpace(req.Notes); n != "" {
		b.WriteString("\n\n")
		b.WriteString(n)
	}
	return b.String()
}
