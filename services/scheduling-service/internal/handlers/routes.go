package handlers

import (
	"net/http"

	"github.com/brokerdesk/crm/libs/httpx"
)

type Routes struct {
	Availability *AvailabilityHandler
	Appointments *AppointmentHandler
	Actions      *ActionHandler
	Reminders    *ReminderHandler
	// Public wraps the unauthenticated booking endpoints, typically with a rate limiter.
	Public httpx.Middleware
	// Staff guards the back-office endpoints. Nil leaves them open.
	Staff      httpx.Middleware
	CronSecret string
}

// Register mounts the scheduling API on mux.
func (rt Routes) Register(mux *http.ServeMux) {
	public := orPassthrough(rt.Public)
	staff := orPassthrough(rt.Staff)
	cron := httpx.RequireBearer(rt.CronSecret)

	mux.Handle("GET /api/v1/availability", public(http.HandlerFunc(rt.Availability.Get)))
	mux.Handle("POST /api/v1/appointments", public(http.HandlerFunc(rt.Appointments.Create)))

	mux.Handle("GET /api/v1/appointments/confirm", public(http.HandlerFunc(rt.Actions.Confirm)))
	mux.Handle("GET /api/v1/appointments/cancel", public(http.HandlerFunc(rt.Actions.Cancel)))
	mux.Handle("GET /api/v1/appointments/reschedule", public(http.HandlerFunc(rt.Actions.Reschedule)))

	mux.Handle("GET /api/v1/appointments", staff(http.HandlerFunc(rt.Appointments.List)))
	mux.Handle("PATCH /api/v1/appointments/{id}", staff(http.HandlerFunc(rt.Appointments.Update)))
	mux.Handle("DELETE /api/v1/appointments/{id}", staff(http.HandlerFunc(rt.Appointments.Delete)))

	mux.Handle("POST /api/v1/internal/reminders/process", cron(http.HandlerFunc(rt.Reminders.Process)))
	mux.Handle("GET /api/v1/internal/reminders/process", cron(http.HandlerFunc(rt.Reminders.Process)))
}

func orPassthrough(m httpx.Middleware) httpx.Middleware {
	if m == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return m
}
