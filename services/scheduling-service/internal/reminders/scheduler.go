package reminders

import (
	"context"
	"log/slog"
	"time"

	otelx "github.com/brokerdesk/crm/libs/otel"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

// Queue is the persisted notification queue. Items are never deleted.
// ClaimDueItems leases every claimable item (pending or retryable failed,
// due, under max attempts, past next_attempt_at) for lease. MarkItemSent is a
// no-op for an item that is already sent.
type Queue interface {
	EnqueueItems(ctx context.Context, items []model.QueueItem) error
	CancelPendingItems(ctx context.Context, appointmentID string, kinds []model.NotificationKind) (int, error)
	ClaimDueItems(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.QueueItem, error)
	MarkItemSent(ctx context.Context, id int64, at time.Time) error
	MarkItemFailed(ctx context.Context, id int64, attempts int, nextAttemptAt *time.Time, lastError string) error
}

// Details is what reminder content is rendered from.
type Details struct {
	Appointment model.Appointment
	Name        string
	Email       string
	Phone       string
	TimeZone    string
}

type Scheduler struct {
	queue  Queue
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewScheduler(queue Queue, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{queue: queue, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// WithClock overrides the scheduler's notion of now.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// ScheduleAppointmentReminders enqueues one item per offset and channel with
// scheduledFor = start - offset. Offsets whose fire time already passed are
// skipped.
func (s *Scheduler) ScheduleAppointmentReminders(ctx context.Context, d Details) error {
	now := s.now().UTC()
	var items []model.QueueItem
	for _, off := range s.cfg.Offsets {
		fireAt := d.Appointment.StartTime.Add(-off).UTC()
		if !fireAt.After(now) {
			continue
		}
		payload := s.basePayload(d)
		payload["offset_minutes"] = int(off / time.Minute)
		for _, ch := range s.channels(d) {
			items = append(items, s.item(ctx, d.Appointment.ID, model.KindReminder, ch, recipient(d, ch), fireAt, payload))
		}
	}
	if len(items) == 0 {
		return nil
	}
	return s.queue.EnqueueItems(ctx, items)
}

// UpdateAppointmentReminders replaces the pending reminders after a time change.
func (s *Scheduler) UpdateAppointmentReminders(ctx context.Context, d Details) error {
	if _, err := s.queue.CancelPendingItems(ctx, d.Appointment.ID, []model.NotificationKind{model.KindReminder}); err != nil {
		return err
	}
	return s.ScheduleAppointmentReminders(ctx, d)
}

// CancelAppointmentReminders marks every unsent reminder and confirmation of
// the appointment cancelled.
func (s *Scheduler) CancelAppointmentReminders(ctx context.Context, appointmentID string) error {
	n, err := s.queue.CancelPendingItems(ctx, appointmentID, []model.NotificationKind{model.KindReminder, model.KindBookingConfirmation})
	if err != nil {
		return err
	}
	s.logger.Debug("reminders cancelled", "appointment_id", appointmentID, "count", n)
	return nil
}

// ScheduleConfirmation enqueues the booking confirmation carrying the action links.
func (s *Scheduler) ScheduleConfirmation(ctx context.Context, d Details, links map[model.TokenAction]string) error {
	payload := s.basePayload(d)
	for action, link := range links {
		payload[string(action)+"_url"] = link
	}
	item := s.item(ctx, d.Appointment.ID, model.KindBookingConfirmation, model.ChannelEmail, d.Email, s.now().UTC(), payload)
	return s.queue.EnqueueItems(ctx, []model.QueueItem{item})
}

// ScheduleRescheduleRequest notifies staff that the booker asked to move the
// appointment. Without an admin address the request is only logged.
func (s *Scheduler) ScheduleRescheduleRequest(ctx context.Context, appt model.Appointment) error {
	if s.cfg.AdminEmail == "" {
		s.logger.Warn("reschedule requested but no admin email configured", "appointment_id", appt.ID)
		return nil
	}
	d := Details{Appointment: appt}
	if len(appt.Attendees) > 0 {
		d.Email = appt.Attendees[0]
	}
	item := s.item(ctx, appt.ID, model.KindRescheduleRequest, model.ChannelEmail, s.cfg.AdminEmail, s.now().UTC(), s.basePayload(d))
	return s.queue.EnqueueItems(ctx, []model.QueueItem{item})
}

func (s *Scheduler) channels(d Details) []model.Channel {
	chs := []model.Channel{model.ChannelEmail}
	if s.cfg.SMSEnabled && d.Phone != "" {
		chs = append(chs, model.ChannelSMS)
	}
	return chs
}

func (s *Scheduler) basePayload(d Details) map[string]any {
	tz := d.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return map[string]any{
		"name":       d.Name,
		"email":      d.Email,
		"title":      d.Appointment.Title,
		"location":   d.Appointment.Location,
		"start_time": d.Appointment.StartTime.UTC().Format(time.RFC3339),
		"end_time":   d.Appointment.EndTime.UTC().Format(time.RFC3339),
		"time_zone":  tz,
	}
}

func (s *Scheduler) item(ctx context.Context, apptID string, kind model.NotificationKind, ch model.Channel, to string, at time.Time, payload map[string]any) model.QueueItem {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	p := make(map[string]any, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	return model.QueueItem{
		AppointmentID: apptID,
		Kind:          kind,
		Channel:       ch,
		Recipient:     to,
		ScheduledFor:  at,
		Status:        model.QueuePending,
		MaxAttempts:   s.cfg.MaxAttempts,
		Payload:       p,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
	}
}

func recipient(d Details, ch model.Channel) string {
	if ch == model.ChannelSMS {
		return d.Phone
	}
	return d.Email
}
