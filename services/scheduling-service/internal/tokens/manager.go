package tokens

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/calendar"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/outbox"
)

// DefaultTTL is how long issued links stay valid.
const DefaultTTL = 7 * 24 * time.Hour

// Store persists tokens. RedeemToken must, atomically, find the unexpired row
// holding r.Token in r.Action's column, move the appointment to r.To when its
// status is allowed, and null the spent column (all three when r.SpendAll).
// It returns apperr.ErrNotFound for an unknown, spent or expired token and
// apperr.ErrConflict when the appointment status forbids the transition.
type Store interface {
	SaveTokens(ctx context.Context, t model.ActionTokens) error
	RedeemToken(ctx context.Context, r model.Redemption) (model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
}

type CalendarLookup interface {
	GetCalendar(ctx context.Context, propertyID string) (model.PropertyCalendar, error)
}

// Followups is the notification side of a redeemed link.
type Followups interface {
	CancelAppointmentReminders(ctx context.Context, appointmentID string) error
	ScheduleRescheduleRequest(ctx context.Context, appt model.Appointment) error
}

type ActivityLog interface {
	AppendActivity(ctx context.Context, a model.LeadActivity) error
}

type EventSink interface {
	Append(ctx context.Context, evt outbox.Event) error
}

type Outcome string

const (
	OutcomeConfirmed           Outcome = "confirmed"
	OutcomeCancelled           Outcome = "cancelled"
	OutcomeAlreadyCancelled    Outcome = "already_cancelled"
	OutcomeRescheduleRequested Outcome = "reschedule_requested"
	OutcomeInvalid             Outcome = "invalid"
)

type Result struct {
	Outcome     Outcome
	Appointment model.Appointment
}

type Manager struct {
	store     Store
	calendars CalendarLookup
	gateway   calendar.Gateway
	followups Followups
	activity  ActivityLog
	events    EventSink
	logger    *slog.Logger
	ttl       time.Duration
	now       func() time.Time
}

type Deps struct {
	Store     Store
	Calendars CalendarLookup
	Gateway   calendar.Gateway
	Followups Followups
	Activity  ActivityLog
	Events    EventSink
	Logger    *slog.Logger
	TTL       time.Duration
}

func NewManager(d Deps) *Manager {
	if d.TTL <= 0 {
		d.TTL = DefaultTTL
	}
	return &Manager{
		store:     d.Store,
		calendars: d.Calendars,
		gateway:   d.Gateway,
		followups: d.Followups,
		activity:  d.Activity,
		events:    d.Events,
		logger:    d.Logger,
		ttl:       d.TTL,
		now:       time.Now,
	}
}

// WithClock overrides the manager's notion of now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue mints fresh confirm, reschedule and cancel tokens for an appointment,
// replacing any outstanding ones.
func (m *Manager) Issue(ctx context.Context, appointmentID string) (model.ActionTokens, error) {
	now := m.now().UTC()
	confirm := Encode(appointmentID, model.ActionConfirm, now)
	reschedule := Encode(appointmentID, model.ActionReschedule, now)
	cancel := Encode(appointmentID, model.ActionCancel, now)
	t := model.ActionTokens{
		AppointmentID:   appointmentID,
		ConfirmToken:    &confirm,
		RescheduleToken: &reschedule,
		CancelToken:     &cancel,
		ExpiresAt:       now.Add(m.ttl),
	}
	if err := m.store.SaveTokens(ctx, t); err != nil {
		return model.ActionTokens{}, err
	}
	return t, nil
}

func transition(action model.TokenAction) model.Redemption {
	switch action {
	case model.ActionConfirm:
		return model.Redemption{
			Action: action,
			From:   []model.AppointmentStatus{model.StatusScheduled},
			To:     model.StatusConfirmed,
		}
	case model.ActionCancel:
		return model.Redemption{
			Action:   action,
			From:     []model.AppointmentStatus{model.StatusScheduled, model.StatusConfirmed},
			To:       model.StatusCancelled,
			SpendAll: true,
		}
	default:
		return model.Redemption{
			Action: model.ActionReschedule,
			From:   []model.AppointmentStatus{model.StatusScheduled, model.StatusConfirmed},
			To:     model.StatusScheduled,
		}
	}
}

// Redeem spends token for action. An unusable token yields OutcomeInvalid with
// an apperr.ErrExpiredToken error and no state change. A cancel link for an
// appointment that is already cancelled yields OutcomeAlreadyCancelled with no
// appointment attached, since the spent token no longer proves who holds it.
func (m *Manager) Redeem(ctx context.Context, action model.TokenAction, token string) (Result, error) {
	claims, err := Decode(token)
	if err != nil || claims.Action != action {
		m.logger.Warn("rejected action token", "token_action", action, "err", err)
		return Result{Outcome: OutcomeInvalid}, invalid()
	}
	log := m.logger.With("appointment_id", claims.AppointmentID, "token_action", action)

	r := transition(action)
	r.Token = token
	r.Now = m.now().UTC()
	appt, err := m.store.RedeemToken(ctx, r)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) && !errors.Is(err, apperr.ErrConflict) {
			log.Error("token redemption failed", "err", err)
			return Result{}, err
		}
		if action == model.ActionCancel {
			if cur, gerr := m.store.GetAppointment(ctx, claims.AppointmentID); gerr == nil && cur.Status == model.StatusCancelled {
				log.Info("cancel link reused on cancelled appointment")
				return Result{Outcome: OutcomeAlreadyCancelled}, nil
			}
		}
		log.Info("action token invalid or expired", "err", err)
		return Result{Outcome: OutcomeInvalid}, invalid()
	}

	// The transition is committed; follow-ups must not be cut short by the caller.
	ctx = context.WithoutCancel(ctx)
	switch action {
	case model.ActionConfirm:
		m.record(ctx, log, appt, "appointment_confirmed", "Appointment confirmed via link", outbox.EventAppointmentConfirmed)
		return Result{Outcome: OutcomeConfirmed, Appointment: appt}, nil
	case model.ActionCancel:
		m.afterCancel(ctx, log, appt)
		m.record(ctx, log, appt, "appointment_cancelled", "Appointment cancelled via link", outbox.EventAppointmentCancelled)
		return Result{Outcome: OutcomeCancelled, Appointment: appt}, nil
	default:
		if err := m.followups.ScheduleRescheduleRequest(ctx, appt); err != nil {
			log.Error("enqueue reschedule request failed", "err", err)
		}
		m.record(ctx, log, appt, "reschedule_requested", "Reschedule requested via link; staff will follow up", outbox.EventAppointmentRescheduleRequested)
		return Result{Outcome: OutcomeRescheduleRequested, Appointment: appt}, nil
	}
}

func (m *Manager) afterCancel(ctx context.Context, log *slog.Logger, appt model.Appointment) {
	if err := m.followups.CancelAppointmentReminders(ctx, appt.ID); err != nil {
		log.Error("cancel reminders failed", "err", err)
	}
	if appt.ExternalEventID == "" {
		return
	}
	cal, err := m.calendars.GetCalendar(ctx, appt.OwnerPropertyID)
	if err != nil {
		log.Error("load owner calendar failed", "property_id", appt.OwnerPropertyID, "err", err)
		return
	}
	if err := m.gateway.DeleteEvent(ctx, cal.ExternalCalendarID, appt.ExternalEventID); err != nil {
		log.Error("delete external event failed", "external_event_id", appt.ExternalEventID, "err", err)
	}
}

func (m *Manager) record(ctx context.Context, log *slog.Logger, appt model.Appointment, kind, description, eventType string) {
	if appt.LeadID != nil {
		err := m.activity.AppendActivity(ctx, model.LeadActivity{
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
		err = m.events.Append(ctx, evt)
	}
	if err != nil {
		log.Error("append outbox event failed", "event_type", eventType, "err", err)
	}
}

func invalid() error {
	return apperr.ExpiredToken("this link is invalid or has expired")
}

// Links returns the public URL of each outstanding token.
func Links(baseURL string, t model.ActionTokens) map[model.TokenAction]string {
	base := strings.TrimRight(baseURL, "/") + "/api/v1/appointments/"
	out := map[model.TokenAction]string{}
	for _, a := range []model.TokenAction{model.ActionConfirm, model.ActionReschedule, model.ActionCancel} {
		if tok := t.Token(a); tok != "" {
			out[a] = base + string(a) + "?token=" + url.QueryEscape(tok)
		}
	}
	return out
}
